package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/ordercore/api/middleware"
	"github.com/angelmondragon/ordercore/api/responses"
	"github.com/angelmondragon/ordercore/api/validators"
	"github.com/angelmondragon/ordercore/internal/checkout"
	"github.com/angelmondragon/ordercore/internal/checkout/helpers"
	internalorders "github.com/angelmondragon/ordercore/internal/orders"
	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
	"github.com/angelmondragon/ordercore/pkg/logger"
	"github.com/angelmondragon/ordercore/pkg/pagination"
	"github.com/angelmondragon/ordercore/pkg/types"
)

// OrderReader is the read and admin-status surface of the order ledger.
type OrderReader interface {
	Get(ctx context.Context, actor internalorders.Actor, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, customerID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error)
	ListAdmin(ctx context.Context, filters internalorders.AdminFilters, params pagination.Params) (pagination.Page[models.Order], error)
	AdminSetStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus) (*models.Order, error)
}

type orderPlacer interface {
	PlaceOrder(ctx context.Context, in checkout.Input) (*checkout.Result, error)
}

// Canceller runs the cancellation workflow.
type Canceller interface {
	Request(ctx context.Context, customerID, orderID uuid.UUID, reason string) (*models.Order, error)
	Approve(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Reject(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type waybillIssuer interface {
	GenerateWaybill(ctx context.Context, orderID uuid.UUID) (string, error)
}

type lineRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

type createOrderRequest struct {
	Items           []lineRequest         `json:"items" validate:"omitempty,dive"`
	ShippingAddress types.ShippingAddress `json:"shipping_address"`
	ShippingCourier string                `json:"shipping_courier" validate:"required"`
	ShippingService string                `json:"shipping_service" validate:"required"`
	PaymentChannel  string                `json:"payment_channel" validate:"required"`
	InstallmentTerm int                   `json:"installment_term" validate:"omitempty,min=0"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type statusResponse struct {
	ID                 uuid.UUID         `json:"id"`
	OrderNumber        string            `json:"order_number"`
	Status             enums.OrderStatus `json:"status"`
	CancellationReason *string           `json:"cancellation_reason,omitempty"`
}

func newStatusResponse(o *models.Order) statusResponse {
	return statusResponse{
		ID:                 o.ID,
		OrderNumber:        o.OrderNumber,
		Status:             o.Status,
		CancellationReason: o.CancellationReason,
	}
}

func toLines(items []lineRequest) []helpers.Line {
	if len(items) == 0 {
		return nil
	}
	lines := make([]helpers.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, helpers.Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func actorFrom(r *http.Request) (internalorders.Actor, error) {
	userID, ok := middleware.UserUUIDFromContext(r.Context())
	if !ok {
		return internalorders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid user id")
	}
	return internalorders.Actor{
		UserID: userID,
		Role:   enums.MemberRole(middleware.RoleFromContext(r.Context())),
	}, nil
}

func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}

// Create places an order for the authenticated customer.
func Create(svc orderPlacer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.PlaceOrder(r.Context(), checkout.Input{
			CustomerID:      actor.UserID,
			Lines:           toLines(req.Items),
			Address:         req.ShippingAddress,
			ShippingCourier: req.ShippingCourier,
			ShippingService: req.ShippingService,
			PaymentChannel:  enums.PaymentChannel(strings.ToUpper(strings.TrimSpace(req.PaymentChannel))),
			InstallmentTerm: req.InstallmentTerm,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// List pages through the caller's own orders.
func List(svc OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), actor.UserID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderPage(page, false))
	}
}

// Detail returns one order to its owner or to an administrator.
func Detail(svc OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderDTO(*order, actor.IsAdmin()))
	}
}

// Cancel asks for a pending order to be cancelled.
func Cancel(svc Canceller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req cancelRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Request(r.Context(), actor.UserID, orderID, req.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newStatusResponse(order))
	}
}
