package cancellation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/internal/orders"
	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
	"github.com/angelmondragon/ordercore/pkg/logger"
)

const maxReasonLength = 500

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledger interface {
	Apply(ctx context.Context, tx *gorm.DB, order *models.Order, action enums.OrderAction, mutations ...orders.Mutation) error
	ExpireInvoiceBestEffort(ctx context.Context, order *models.Order)
}

// Service runs the customer cancellation request and its admin review.
type Service struct {
	tx     txRunner
	repo   orders.Repository
	ledger ledger
	logg   *logger.Logger
}

func NewService(tx txRunner, repo orders.Repository, l ledger, logg *logger.Logger) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if l == nil {
		return nil, fmt.Errorf("order ledger required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{tx: tx, repo: repo, ledger: l, logg: logg}, nil
}

// Request asks for a pending order to be cancelled. Only the owner may ask.
func (s *Service) Request(ctx context.Context, customerID, orderID uuid.UUID, reason string) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason is required")
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("cancellation reason must be at most %d characters", maxReasonLength))
	}

	order, err := s.transition(ctx, orderID, enums.OrderActionRequestCancellation, func(o *models.Order) error {
		if o.CustomerID != customerID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil
	}, orders.WithReason(reason))
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithOrder(ctx, order.ID.String(), order.OrderNumber), "cancellation requested")
	return order, nil
}

// Approve cancels the order and returns its stock. The gateway invoice is
// voided after commit; a failure there is only logged.
func (s *Service) Approve(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.transition(ctx, orderID, enums.OrderActionApproveCancellation, nil)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrder(ctx, order.ID.String(), order.OrderNumber)
	s.logg.Info(ctx, "cancellation approved")
	s.ledger.ExpireInvoiceBestEffort(ctx, order)
	return order, nil
}

// Reject puts the order back to pending and forgets the reason.
func (s *Service) Reject(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.transition(ctx, orderID, enums.OrderActionRejectCancellation, nil, orders.ClearReason())
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithOrder(ctx, order.ID.String(), order.OrderNumber), "cancellation rejected")
	return order, nil
}

func (s *Service) transition(ctx context.Context, orderID uuid.UUID, action enums.OrderAction, check func(*models.Order) error, mutations ...orders.Mutation) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.repo.WithTx(tx).LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(locked); err != nil {
				return err
			}
		}
		if err := s.ledger.Apply(ctx, tx, locked, action, mutations...); err != nil {
			return err
		}
		order = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}
