package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
	"github.com/angelmondragon/ordercore/pkg/logger"
	"github.com/angelmondragon/ordercore/pkg/metrics"
	"github.com/angelmondragon/ordercore/pkg/outbox"
	"github.com/angelmondragon/ordercore/pkg/outbox/payloads"
	"github.com/angelmondragon/ordercore/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// StockKeeper applies the stock side effects of a transition.
type StockKeeper interface {
	RestoreOrder(ctx context.Context, tx *gorm.DB, items []models.OrderItem) error
	IncrementSoldForOrder(ctx context.Context, tx *gorm.DB, items []models.OrderItem) error
}

// WaybillGenerator issues a carrier waybill for a paid order.
type WaybillGenerator interface {
	GenerateWaybill(ctx context.Context, orderID uuid.UUID) (string, error)
}

// InvoiceExpirer voids the hosted invoice of a cancelled order.
type InvoiceExpirer interface {
	ExpireInvoice(ctx context.Context, invoiceID string) error
}

// Actor identifies who is reading or changing an order.
type Actor struct {
	UserID uuid.UUID
	Role   enums.MemberRole
}

// IsAdmin reports whether the actor may act on any order.
func (a Actor) IsAdmin() bool {
	return a.Role == enums.MemberRoleAdmin
}

// Mutation adds columns to the update that records a transition.
type Mutation func(fields map[string]any)

// WithReason stores a cancellation reason alongside the transition.
func WithReason(reason string) Mutation {
	return func(fields map[string]any) {
		fields["cancellation_reason"] = reason
	}
}

// ClearReason drops a previously stored cancellation reason.
func ClearReason() Mutation {
	return func(fields map[string]any) {
		fields["cancellation_reason"] = nil
	}
}

type Service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	stock    StockKeeper
	waybills WaybillGenerator
	invoices InvoiceExpirer
	metrics  *metrics.OrderMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the order ledger service.
func NewService(repo Repository, tx txRunner, emitter outboxPublisher, stock StockKeeper, m *metrics.OrderMetrics, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock keeper required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		repo:    repo,
		tx:      tx,
		outbox:  emitter,
		stock:   stock,
		metrics: m,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetWaybillGenerator wires the post-commit waybill attempt used when an
// administrator marks an order as paid.
func (s *Service) SetWaybillGenerator(g WaybillGenerator) {
	s.waybills = g
}

// SetInvoiceExpirer wires the best-effort invoice void after an
// administrator cancels an order.
func (s *Service) SetInvoiceExpirer(e InvoiceExpirer) {
	s.invoices = e
}

// Repository exposes the underlying repository to collaborating services.
func (s *Service) Repository() Repository {
	return s.repo
}

// Apply moves a locked order along one edge of the state machine inside tx.
// It runs the in-transaction side effects of the edge, stamps the matching
// timestamp and records an order_status_changed event. order is updated in
// place on success.
func (s *Service) Apply(ctx context.Context, tx *gorm.DB, order *models.Order, action enums.OrderAction, mutations ...Mutation) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	from := order.Status
	to, err := Transition(from, action)
	if err != nil {
		return err
	}

	now := s.now()
	fields := map[string]any{"status": to}
	switch to {
	case enums.OrderStatusProcessing:
		fields["paid_at"] = now
	case enums.OrderStatusShipped:
		fields["shipped_at"] = now
	case enums.OrderStatusCompleted:
		fields["completed_at"] = now
	case enums.OrderStatusCancelled:
		fields["cancelled_at"] = now
	}
	for _, mutate := range mutations {
		mutate(fields)
	}

	repo := s.repo.WithTx(tx)
	if to == enums.OrderStatusCancelled || to == enums.OrderStatusCompleted {
		items, err := repo.Items(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
		}
		if to == enums.OrderStatusCancelled {
			err = s.stock.RestoreOrder(ctx, tx, items)
		} else {
			err = s.stock.IncrementSoldForOrder(ctx, tx, items)
		}
		if err != nil {
			return err
		}
		order.Items = items
	}

	ok, err := repo.UpdateFromStatus(ctx, order.ID, from, fields)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently").
			WithDetails(map[string]any{"status": from, "action": action})
	}

	reason := ""
	if v, ok := fields["cancellation_reason"].(string); ok {
		reason = v
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         outbox.SystemActor(string(action)),
		OccurredAt:    now,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			From:        from,
			To:          to,
			Action:      action,
			Reason:      reason,
			ChangedAt:   now,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit status change")
	}

	applyFields(order, to, now, fields)
	s.metrics.Transition(string(from), string(to))
	return nil
}

func applyFields(order *models.Order, to enums.OrderStatus, now time.Time, fields map[string]any) {
	order.Status = to
	switch to {
	case enums.OrderStatusProcessing:
		order.PaidAt = &now
	case enums.OrderStatusShipped:
		order.ShippedAt = &now
	case enums.OrderStatusCompleted:
		order.CompletedAt = &now
	case enums.OrderStatusCancelled:
		order.CancelledAt = &now
	}
	if v, ok := fields["cancellation_reason"]; ok {
		if reason, isString := v.(string); isString {
			order.CancellationReason = &reason
		} else {
			order.CancellationReason = nil
		}
	}
	order.UpdatedAt = now
}

// Get returns an order visible to the actor. Customers only see their own
// orders; anything else reads as not found.
func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, wrapRead(err)
	}
	if !actor.IsAdmin() && order.CustomerID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// List pages through a customer's own orders, newest first.
func (s *Service) List(ctx context.Context, customerID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error) {
	page, err := s.repo.ListByCustomer(ctx, customerID, params)
	if err != nil {
		return page, wrapRead(err)
	}
	return page, nil
}

// ListAdmin pages through every order, optionally by status.
func (s *Service) ListAdmin(ctx context.Context, filters AdminFilters, params pagination.Params) (pagination.Page[models.Order], error) {
	page, err := s.repo.ListAll(ctx, filters, params)
	if err != nil {
		return page, wrapRead(err)
	}
	return page, nil
}

// AdminSetStatus moves an order to status through the single transition
// that reaches it from the current status, running that edge's side effects.
func (s *Service) AdminSetStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus) (*models.Order, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", status))
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.repo.WithTx(tx).LockByID(ctx, id)
		if err != nil {
			return wrapRead(err)
		}
		action, err := actionFor(locked.Status, status)
		if err != nil {
			return err
		}
		if err := s.Apply(ctx, tx, locked, action); err != nil {
			return err
		}
		order = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrder(ctx, order.ID.String(), order.OrderNumber)
	s.logg.Info(ctx, "order status set by admin")

	switch order.Status {
	case enums.OrderStatusProcessing:
		if s.waybills != nil {
			if _, err := s.waybills.GenerateWaybill(ctx, order.ID); err != nil {
				s.logg.Warn(ctx, "waybill generation after admin payment failed: "+err.Error())
			}
		}
	case enums.OrderStatusCancelled:
		s.ExpireInvoiceBestEffort(ctx, order)
	}

	return s.repo.FindByID(ctx, order.ID)
}

// ExpireInvoiceBestEffort voids the order's invoice, logging failures.
func (s *Service) ExpireInvoiceBestEffort(ctx context.Context, order *models.Order) {
	if s.invoices == nil || order.InvoiceID == nil || *order.InvoiceID == "" {
		return
	}
	if err := s.invoices.ExpireInvoice(ctx, *order.InvoiceID); err != nil {
		s.logg.Warn(ctx, "expire invoice after cancellation failed: "+err.Error())
	}
}

func wrapRead(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
