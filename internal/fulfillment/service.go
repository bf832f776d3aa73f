package fulfillment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/internal/orders"
	"github.com/angelmondragon/ordercore/pkg/carrier"
	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
	"github.com/angelmondragon/ordercore/pkg/logger"
	"github.com/angelmondragon/ordercore/pkg/metrics"
)

const (
	defaultBatchSize = 100
	maxGoodsDesc     = 60
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledger interface {
	Apply(ctx context.Context, tx *gorm.DB, order *models.Order, action enums.OrderAction, mutations ...orders.Mutation) error
}

type routeResolver interface {
	RoutingCode(ctx context.Context, postalCode string) (string, error)
}

type carrierClient interface {
	GenerateWaybill(ctx context.Context, shipment carrier.Shipment) (string, error)
	Track(ctx context.Context, waybill string) (*carrier.Tracking, error)
}

// Deps groups the collaborators of the fulfillment coordinator.
type Deps struct {
	Tx          txRunner
	Orders      orders.Repository
	Ledger      ledger
	Routes      routeResolver
	Carrier     carrierClient
	Metrics     *metrics.OrderMetrics
	Logger      *logger.Logger
	MinWeightKg int
}

// Service issues waybills and advances orders from carrier tracking.
type Service struct {
	deps Deps
}

// TrackingResult is what a tracking request reports back.
type TrackingResult struct {
	OrderID       uuid.UUID               `json:"order_id"`
	WaybillNumber string                  `json:"waybill_number"`
	Status        enums.OrderStatus       `json:"status"`
	Delivered     bool                    `json:"delivered"`
	Advanced      bool                    `json:"advanced"`
	History       []carrier.TrackingEvent `json:"history"`
}

// SweepReport summarizes a batch run over many orders.
type SweepReport struct {
	Checked  int
	Advanced int
	Failed   int
}

func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("order ledger required")
	case deps.Routes == nil:
		return nil, fmt.Errorf("address directory required")
	case deps.Carrier == nil:
		return nil, fmt.Errorf("carrier client required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &Service{deps: deps}, nil
}

// GenerateWaybill books the shipment of a paid order with the carrier and
// stores the waybill number. An order that already has a waybill is returned
// unchanged. Failures are recorded on the order for follow-up.
func (s *Service) GenerateWaybill(ctx context.Context, orderID uuid.UUID) (string, error) {
	order, err := s.deps.Orders.FindByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	ctx = s.deps.Logger.WithOrder(ctx, order.ID.String(), order.OrderNumber)
	if order.HasWaybill() {
		s.deps.Metrics.Waybill("existing")
		return *order.WaybillNumber, nil
	}
	if order.Status != enums.OrderStatusProcessing {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot generate a waybill for an order in status %s", order.Status)).
			WithDetails(map[string]any{"status": order.Status})
	}

	waybill, err := s.book(ctx, order)
	if err != nil {
		s.deps.Metrics.Waybill("failed")
		s.deps.Logger.Error(ctx, "waybill generation failed", err)
		s.recordFailure(ctx, order.ID, err)
		return "", err
	}

	stored := waybill
	err = s.deps.Tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.deps.Orders.WithTx(tx)
		locked, err := repo.LockByID(ctx, order.ID)
		if err != nil {
			return err
		}
		if locked.HasWaybill() {
			stored = *locked.WaybillNumber
			return nil
		}
		return repo.UpdateFields(ctx, order.ID, map[string]any{
			"waybill_number": waybill,
			"waybill_error":  nil,
		})
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store waybill")
	}
	if stored != waybill {
		s.deps.Logger.Warn(ctx, fmt.Sprintf("waybill %s discarded, order already has %s", waybill, stored))
		s.deps.Metrics.Waybill("existing")
		return stored, nil
	}
	s.deps.Metrics.Waybill("generated")
	s.deps.Logger.Info(s.deps.Logger.WithField(ctx, "waybill_number", waybill), "waybill generated")
	return waybill, nil
}

func (s *Service) book(ctx context.Context, order *models.Order) (string, error) {
	destination, err := s.deps.Routes.RoutingCode(ctx, order.ShippingAddress.PostalCode)
	if err != nil {
		return "", err
	}
	grams, qty := 0, 0
	names := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		grams += item.WeightGrams * item.Quantity
		qty += item.Quantity
		names = append(names, item.ProductName)
	}
	addr := order.ShippingAddress
	street := addr.Line1
	if addr.Line2 != nil && *addr.Line2 != "" {
		street += ", " + *addr.Line2
	}
	if addr.District != "" {
		street += ", " + addr.District
	}
	return s.deps.Carrier.GenerateWaybill(ctx, carrier.Shipment{
		Reference:       order.OrderNumber,
		DestinationCode: destination,
		ServiceCode:     order.ShippingService,
		WeightKg:        carrier.ChargeableWeightKg(grams, s.deps.MinWeightKg),
		Quantity:        qty,
		GoodsDesc:       goodsDescription(names),
		GoodsValue:      order.Subtotal,
		Receiver: carrier.Receiver{
			Name:    addr.RecipientName,
			Phone:   addr.Phone,
			Address: street,
			City:    addr.City,
			Zip:     addr.PostalCode,
		},
	})
}

func (s *Service) recordFailure(ctx context.Context, orderID uuid.UUID, cause error) {
	msg := cause.Error()
	if typed := pkgerrors.As(cause); typed != nil {
		msg = typed.Message()
	}
	if err := s.deps.Orders.UpdateFields(ctx, orderID, map[string]any{"waybill_error": msg}); err != nil {
		s.deps.Logger.Error(ctx, "record waybill failure", err)
	}
}

// TrackAndAdvance reads the carrier history of an order's waybill and moves
// the order forward: any history ships a processing order, a delivery marker
// completes it.
func (s *Service) TrackAndAdvance(ctx context.Context, orderID uuid.UUID) (*TrackingResult, error) {
	order, err := s.deps.Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.HasWaybill() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no waybill yet")
	}
	ctx = s.deps.Logger.WithOrder(ctx, order.ID.String(), order.OrderNumber)

	tracking, err := s.deps.Carrier.Track(ctx, *order.WaybillNumber)
	if err != nil {
		return nil, err
	}

	result := &TrackingResult{
		OrderID:       order.ID,
		WaybillNumber: *order.WaybillNumber,
		Status:        order.Status,
		Delivered:     tracking.Delivered(),
		History:       tracking.History,
	}
	if result.History == nil {
		result.History = []carrier.TrackingEvent{}
	}
	if !result.Delivered && len(tracking.History) == 0 {
		return result, nil
	}

	err = s.deps.Tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.deps.Orders.WithTx(tx).LockByID(ctx, order.ID)
		if err != nil {
			return err
		}
		if locked.Status == enums.OrderStatusProcessing {
			if err := s.deps.Ledger.Apply(ctx, tx, locked, enums.OrderActionMarkShipped); err != nil {
				return err
			}
			result.Advanced = true
		}
		if result.Delivered && locked.Status == enums.OrderStatusShipped {
			if err := s.deps.Ledger.Apply(ctx, tx, locked, enums.OrderActionMarkDelivered); err != nil {
				return err
			}
			result.Advanced = true
		}
		result.Status = locked.Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Advanced {
		s.deps.Logger.Info(ctx, "order advanced from tracking to "+string(result.Status))
	}
	return result, nil
}

// TrackShipments runs TrackAndAdvance over every order in transit. A failing
// order is logged and skipped; the combined error is returned at the end.
func (s *Service) TrackShipments(ctx context.Context, limit int) (SweepReport, error) {
	var report SweepReport
	if limit <= 0 {
		limit = defaultBatchSize
	}
	pending, err := s.deps.Orders.ListForTracking(ctx, limit)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders in transit")
	}

	var errs error
	for _, order := range pending {
		if err := ctx.Err(); err != nil {
			return report, multierr.Append(errs, err)
		}
		report.Checked++
		res, err := s.TrackAndAdvance(ctx, order.ID)
		if err != nil {
			report.Failed++
			s.deps.Logger.Warn(s.deps.Logger.WithOrder(ctx, order.ID.String(), order.OrderNumber), "tracking failed: "+err.Error())
			errs = multierr.Append(errs, fmt.Errorf("track %s: %w", order.OrderNumber, err))
			continue
		}
		if res.Advanced {
			report.Advanced++
		}
	}
	return report, errs
}

// RetryPendingWaybills retries waybill generation for paid orders that still
// have none.
func (s *Service) RetryPendingWaybills(ctx context.Context, limit int) (SweepReport, error) {
	var report SweepReport
	if limit <= 0 {
		limit = defaultBatchSize
	}
	pending, err := s.deps.Orders.ListAwaitingWaybill(ctx, limit)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders awaiting waybill")
	}

	var errs error
	for _, order := range pending {
		if err := ctx.Err(); err != nil {
			return report, multierr.Append(errs, err)
		}
		report.Checked++
		if _, err := s.GenerateWaybill(ctx, order.ID); err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("waybill %s: %w", order.OrderNumber, err))
			continue
		}
		report.Advanced++
	}
	return report, errs
}

func goodsDescription(names []string) string {
	desc := []rune(strings.Join(names, ", "))
	if len(desc) <= maxGoodsDesc {
		return string(desc)
	}
	return strings.TrimSpace(string(desc[:maxGoodsDesc-3])) + "..."
}

