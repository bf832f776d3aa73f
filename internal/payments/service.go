package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/internal/orders"
	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
	"github.com/angelmondragon/ordercore/pkg/logger"
	"github.com/angelmondragon/ordercore/pkg/metrics"
	"github.com/angelmondragon/ordercore/pkg/xendit"
)

// Consumer scopes the dedupe keys of invoice notifications.
const Consumer = "xendit-invoice"

// Outcome describes what a notification did.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeExpired   Outcome = "expired"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
)

// Notification is the part of a gateway invoice callback the processor uses.
// ExternalID carries the order number.
type Notification struct {
	InvoiceID  string
	ExternalID string
	Status     string
	PaidAmount decimal.Decimal
}

// NotificationFromCallback maps a decoded gateway callback.
func NotificationFromCallback(cb xendit.InvoiceCallback) Notification {
	return Notification{
		InvoiceID:  strings.TrimSpace(cb.ID),
		ExternalID: strings.TrimSpace(cb.ExternalID),
		Status:     cb.NormalizedStatus(),
		PaidAmount: cb.SettledAmount(),
	}
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledger interface {
	Apply(ctx context.Context, tx *gorm.DB, order *models.Order, action enums.OrderAction, mutations ...orders.Mutation) error
}

type dedupeGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
}

type Deps struct {
	Tx       txRunner
	Orders   orders.Repository
	Ledger   ledger
	Waybills orders.WaybillGenerator
	Dedupe   dedupeGuard
	Metrics  *metrics.OrderMetrics
	Logger   *logger.Logger
}

// Service applies payment gateway notifications to orders.
type Service struct {
	deps Deps
}

func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("order ledger required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &Service{deps: deps}, nil
}

// HandleNotification confirms or expires the order an invoice belongs to.
// Statuses other than paid, settled and expired are acknowledged without
// effect, as are notifications for orders that already left pending. The
// order status is re-read under lock on every delivery; the dedupe key only
// labels repeats of an already applied notification.
func (s *Service) HandleNotification(ctx context.Context, n Notification) (Outcome, error) {
	if n.InvoiceID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	if n.ExternalID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "external id is required")
	}
	status := strings.ToUpper(strings.TrimSpace(n.Status))
	ctx = s.deps.Logger.WithFields(ctx, map[string]any{
		"invoice_id":     n.InvoiceID,
		"order_number":   n.ExternalID,
		"invoice_status": status,
	})

	var handle func(context.Context, Notification) (Outcome, uuid.UUID, error)
	switch status {
	case xendit.StatusPaid, xendit.StatusSettled:
		handle = s.confirm
	case xendit.StatusExpired:
		handle = s.expire
	default:
		s.deps.Metrics.Webhook(status, string(OutcomeIgnored))
		s.deps.Logger.Debug(ctx, "invoice status ignored")
		return OutcomeIgnored, nil
	}

	outcome, orderID, err := handle(ctx, n)
	if err != nil {
		s.deps.Metrics.Webhook(status, "failed")
		return "", err
	}
	if s.deps.Dedupe != nil {
		// Marked after commit. The locked order row stays the authority.
		seen, err := s.deps.Dedupe.CheckAndMarkProcessed(context.WithoutCancel(ctx), Consumer, n.InvoiceID+":"+status)
		switch {
		case err != nil:
			s.deps.Logger.Warn(ctx, "mark notification processed: "+err.Error())
		case seen && outcome == OutcomeIgnored:
			outcome = OutcomeDuplicate
		}
	}
	s.deps.Metrics.Webhook(status, string(outcome))
	s.deps.Logger.Info(ctx, "invoice notification "+string(outcome))

	if outcome == OutcomeConfirmed && s.deps.Waybills != nil {
		if _, err := s.deps.Waybills.GenerateWaybill(ctx, orderID); err != nil {
			s.deps.Logger.Warn(ctx, "waybill generation after payment failed: "+err.Error())
		}
	}
	return outcome, nil
}

func (s *Service) confirm(ctx context.Context, n Notification) (Outcome, uuid.UUID, error) {
	outcome := OutcomeIgnored
	var orderID uuid.UUID
	err := s.deps.Tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.deps.Orders.WithTx(tx).LockByNumber(ctx, n.ExternalID)
		if err != nil {
			return err
		}
		orderID = order.ID
		if order.Status != enums.OrderStatusPending {
			return nil
		}
		if !n.PaidAmount.Equal(decimal.NewFromInt(order.Total)) {
			return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("paid amount %s does not match order total %d", n.PaidAmount, order.Total)).
				WithDetails(map[string]any{"paid_amount": n.PaidAmount.String(), "total": order.Total})
		}
		if err := s.deps.Ledger.Apply(ctx, tx, order, enums.OrderActionConfirmPayment); err != nil {
			return err
		}
		outcome = OutcomeConfirmed
		return nil
	})
	return outcome, orderID, err
}

// expire cancels an unpaid order. Orders that already have a waybill are left
// alone even if still pending.
func (s *Service) expire(ctx context.Context, n Notification) (Outcome, uuid.UUID, error) {
	outcome := OutcomeIgnored
	var orderID uuid.UUID
	err := s.deps.Tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.deps.Orders.WithTx(tx).LockByNumber(ctx, n.ExternalID)
		if err != nil {
			return err
		}
		orderID = order.ID
		if order.Status != enums.OrderStatusPending || order.HasWaybill() {
			return nil
		}
		if err := s.deps.Ledger.Apply(ctx, tx, order, enums.OrderActionExpirePayment); err != nil {
			return err
		}
		outcome = OutcomeExpired
		return nil
	})
	return outcome, orderID, err
}
