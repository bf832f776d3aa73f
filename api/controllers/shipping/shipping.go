package shipping

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/ordercore/api/middleware"
	"github.com/angelmondragon/ordercore/api/responses"
	"github.com/angelmondragon/ordercore/api/validators"
	"github.com/angelmondragon/ordercore/internal/checkout"
	"github.com/angelmondragon/ordercore/internal/checkout/helpers"
	"github.com/angelmondragon/ordercore/internal/fulfillment"
	internalorders "github.com/angelmondragon/ordercore/internal/orders"
	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
	"github.com/angelmondragon/ordercore/pkg/logger"
)

type orderGetter interface {
	Get(ctx context.Context, actor internalorders.Actor, id uuid.UUID) (*models.Order, error)
}

type tracker interface {
	TrackAndAdvance(ctx context.Context, orderID uuid.UUID) (*fulfillment.TrackingResult, error)
}

type quoter interface {
	QuoteShipping(ctx context.Context, customerID uuid.UUID, lines []helpers.Line, postalCode string) (*checkout.Quote, error)
}

type rateLine struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

type ratesRequest struct {
	PostalCode string     `json:"postal_code" validate:"required"`
	Items      []rateLine `json:"items" validate:"omitempty,dive"`
}

// Track refreshes carrier tracking for an order the caller may see and
// advances its status when the carrier reports progress.
func Track(orders orderGetter, svc tracker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid user id"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor := internalorders.Actor{UserID: userID, Role: enums.MemberRole(middleware.RoleFromContext(r.Context()))}
		if _, err := orders.Get(r.Context(), actor, orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.TrackAndAdvance(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Rates quotes every carrier service for the given lines, or the saved cart
// when no lines are sent.
func Rates(svc quoter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid user id"))
			return
		}
		var req ratesRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var lines []helpers.Line
		for _, item := range req.Items {
			lines = append(lines, helpers.Line{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		quote, err := svc.QuoteShipping(r.Context(), userID, lines, req.PostalCode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}
