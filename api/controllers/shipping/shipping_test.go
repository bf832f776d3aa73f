package shipping

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/ordercore/api/middleware"
	"github.com/angelmondragon/ordercore/internal/checkout"
	"github.com/angelmondragon/ordercore/internal/checkout/helpers"
	"github.com/angelmondragon/ordercore/internal/fulfillment"
	internalorders "github.com/angelmondragon/ordercore/internal/orders"
	"github.com/angelmondragon/ordercore/pkg/carrier"
	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
	"github.com/angelmondragon/ordercore/pkg/logger"
)

type stubOrders struct {
	owner uuid.UUID
}

func (s stubOrders) Get(_ context.Context, actor internalorders.Actor, id uuid.UUID) (*models.Order, error) {
	if !actor.IsAdmin() && actor.UserID != s.owner {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return &models.Order{ID: id, CustomerID: s.owner}, nil
}

type stubTracker struct{ calls int }

func (s *stubTracker) TrackAndAdvance(_ context.Context, orderID uuid.UUID) (*fulfillment.TrackingResult, error) {
	s.calls++
	return &fulfillment.TrackingResult{OrderID: orderID, WaybillNumber: "JX1", Status: enums.OrderStatusShipped, Advanced: true}, nil
}

type stubQuoter struct {
	lines  []helpers.Line
	postal string
}

func (s *stubQuoter) QuoteShipping(_ context.Context, _ uuid.UUID, lines []helpers.Line, postalCode string) (*checkout.Quote, error) {
	s.lines = lines
	s.postal = postalCode
	return &checkout.Quote{WeightKg: 2, Rates: []carrier.Rate{{ServiceCode: "REG", Price: 15000}}}, nil
}

func request(method, body string, userID uuid.UUID, role enums.MemberRole, orderID string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "/shipping", reader)
	rctx := chi.NewRouteContext()
	if orderID != "" {
		rctx.URLParams.Add("orderId", orderID)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = middleware.WithUserID(ctx, userID.String())
	ctx = middleware.WithRole(ctx, role)
	return req.WithContext(ctx)
}

func TestTrackChecksVisibility(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	owner := uuid.New()
	orderID := uuid.NewString()
	tr := &stubTracker{}
	handler := Track(stubOrders{owner: owner}, tr, logg)

	resp := httptest.NewRecorder()
	handler(resp, request(http.MethodPost, "", owner, enums.MemberRoleCustomer, orderID))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"advanced":true`) {
		t.Fatalf("owner: unexpected response %d %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	handler(resp, request(http.MethodPost, "", uuid.New(), enums.MemberRoleAdmin, orderID))
	if resp.Code != http.StatusOK {
		t.Fatalf("admin: expected 200 got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler(resp, request(http.MethodPost, "", uuid.New(), enums.MemberRoleCustomer, orderID))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("stranger: expected 404 got %d", resp.Code)
	}
	if tr.calls != 2 {
		t.Fatalf("tracking should only run for visible orders, ran %d", tr.calls)
	}
}

func TestRates(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	q := &stubQuoter{}
	productID := uuid.New()

	resp := httptest.NewRecorder()
	body := `{"postal_code":"40111","items":[{"product_id":"` + productID.String() + `","quantity":3}]}`
	Rates(q, logg)(resp, request(http.MethodPost, body, uuid.New(), enums.MemberRoleCustomer, ""))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if q.postal != "40111" || len(q.lines) != 1 || q.lines[0].ProductID != productID || q.lines[0].Quantity != 3 {
		t.Fatalf("unexpected quote call %+v %s", q.lines, q.postal)
	}

	resp = httptest.NewRecorder()
	Rates(q, logg)(resp, request(http.MethodPost, `{"items":[]}`, uuid.New(), enums.MemberRoleCustomer, ""))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("missing postal code: expected 400 got %d", resp.Code)
	}
}
