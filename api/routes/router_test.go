package routes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/ordercore/internal/checkout"
	"github.com/angelmondragon/ordercore/internal/checkout/helpers"
	"github.com/angelmondragon/ordercore/internal/fulfillment"
	internalorders "github.com/angelmondragon/ordercore/internal/orders"
	"github.com/angelmondragon/ordercore/internal/payments"
	pkgAuth "github.com/angelmondragon/ordercore/pkg/auth"
	"github.com/angelmondragon/ordercore/pkg/config"
	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	"github.com/angelmondragon/ordercore/pkg/logger"
	"github.com/angelmondragon/ordercore/pkg/pagination"
)

type stubOrders struct{}

func (stubOrders) Get(_ context.Context, _ internalorders.Actor, id uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: id, Status: enums.OrderStatusPending}, nil
}

func (stubOrders) List(context.Context, uuid.UUID, pagination.Params) (pagination.Page[models.Order], error) {
	return pagination.Page[models.Order]{}, nil
}

func (stubOrders) ListAdmin(context.Context, internalorders.AdminFilters, pagination.Params) (pagination.Page[models.Order], error) {
	return pagination.Page[models.Order]{}, nil
}

func (stubOrders) AdminSetStatus(_ context.Context, id uuid.UUID, status enums.OrderStatus) (*models.Order, error) {
	return &models.Order{ID: id, Status: status}, nil
}

type stubCheckout struct{ placed int }

func (s *stubCheckout) PlaceOrder(_ context.Context, in checkout.Input) (*checkout.Result, error) {
	s.placed++
	return &checkout.Result{OrderID: uuid.New(), OrderNumber: fmt.Sprintf("ORD-20260101-%05d", s.placed), Total: 1000}, nil
}

func (s *stubCheckout) QuoteShipping(context.Context, uuid.UUID, []helpers.Line, string) (*checkout.Quote, error) {
	return &checkout.Quote{}, nil
}

type stubCancellation struct{}

func (stubCancellation) Request(_ context.Context, _, id uuid.UUID, reason string) (*models.Order, error) {
	return &models.Order{ID: id, Status: enums.OrderStatusCancellationRequested, CancellationReason: &reason}, nil
}

func (stubCancellation) Approve(_ context.Context, id uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: id, Status: enums.OrderStatusCancelled}, nil
}

func (stubCancellation) Reject(_ context.Context, id uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: id, Status: enums.OrderStatusPending}, nil
}

type stubFulfillment struct{}

func (stubFulfillment) GenerateWaybill(context.Context, uuid.UUID) (string, error) {
	return "JX1", nil
}

func (stubFulfillment) TrackAndAdvance(_ context.Context, id uuid.UUID) (*fulfillment.TrackingResult, error) {
	return &fulfillment.TrackingResult{OrderID: id}, nil
}

type stubPayments struct{}

func (stubPayments) HandleNotification(context.Context, payments.Notification) (payments.Outcome, error) {
	return payments.OutcomeIgnored, nil
}

type stubVerifier struct{}

func (stubVerifier) VerifyCallbackToken(token string) bool { return token == "cb-secret" }

type memoryRedis struct {
	data map[string]string
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memoryRedis) FixedWindowAllow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	return true, 1, nil
}

var jwtConfig = config.JWTConfig{Secret: "secret", Issuer: "ordercore-test", ExpirationMinutes: 10}

func newTestRouter(t *testing.T) (http.Handler, *stubCheckout) {
	t.Helper()
	cfg := &config.Config{
		App:       config.AppConfig{Env: "test", CORSOrigins: []string{"http://localhost:3000"}},
		JWT:       jwtConfig,
		RateLimit: config.RateLimitConfig{CheckoutWindow: time.Minute, CheckoutLimit: 10},
	}
	co := &stubCheckout{}
	handler := NewRouter(Params{
		Config:       cfg,
		Logger:       logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Redis:        &memoryRedis{data: map[string]string{}},
		Gatherer:     prometheus.NewRegistry(),
		Orders:       stubOrders{},
		Checkout:     co,
		Cancellation: stubCancellation{},
		Fulfillment:  stubFulfillment{},
		Payments:     stubPayments{},
		Callbacks:    stubVerifier{},
	})
	return handler, co
}

func token(t *testing.T, role enums.MemberRole) string {
	t.Helper()
	raw, err := pkgAuth.MintAccessToken(jwtConfig, time.Now(), pkgAuth.AccessTokenPayload{UserID: uuid.New(), Role: role})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return "Bearer " + raw
}

func do(handler http.Handler, method, path, auth, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestRouterRegistersOrderRoutes(t *testing.T) {
	handler, _ := newTestRouter(t)
	mux, ok := handler.(chi.Routes)
	if !ok {
		t.Fatal("router is not a chi mux")
	}

	var got []string
	err := chi.Walk(mux, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if len(route) > 1 {
			route = strings.TrimSuffix(route, "/")
		}
		got = append(got, method+" "+route)
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	sort.Strings(got)

	want := []string{
		"GET /health/live",
		"GET /health/ready",
		"GET /metrics",
		"GET /orders",
		"GET /orders/admin",
		"GET /orders/{id}",
		"POST /orders",
		"POST /orders/admin/{id}/waybill",
		"POST /payment/webhook",
		"POST /shipping/rates",
		"POST /shipping/track/{orderId}",
		"PUT /orders/admin/{id}/approve-cancel",
		"PUT /orders/admin/{id}/reject-cancel",
		"PUT /orders/admin/{id}/status",
		"PUT /orders/{id}/cancel",
	}
	sort.Strings(want)
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("routes mismatch\ngot:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestRouterAccessControl(t *testing.T) {
	handler, _ := newTestRouter(t)
	customer := token(t, enums.MemberRoleCustomer)
	admin := token(t, enums.MemberRoleAdmin)
	orderPath := "/orders/" + uuid.NewString()

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		body   string
		want   int
	}{
		{"live is public", http.MethodGet, "/health/live", "", "", http.StatusOK},
		{"metrics is public", http.MethodGet, "/metrics", "", "", http.StatusOK},
		{"orders need a token", http.MethodGet, "/orders", "", "", http.StatusUnauthorized},
		{"customer lists orders", http.MethodGet, "/orders", customer, "", http.StatusOK},
		{"customer reads order", http.MethodGet, orderPath, customer, "", http.StatusOK},
		{"customer blocked from admin list", http.MethodGet, "/orders/admin", customer, "", http.StatusForbidden},
		{"admin lists orders", http.MethodGet, "/orders/admin", admin, "", http.StatusOK},
		{"customer blocked from status", http.MethodPut, "/orders/admin/" + uuid.NewString() + "/status", customer, `{"status":"processing"}`, http.StatusForbidden},
		{"admin sets status", http.MethodPut, "/orders/admin/" + uuid.NewString() + "/status", admin, `{"status":"processing"}`, http.StatusOK},
		{"admin approves cancel", http.MethodPut, "/orders/admin/" + uuid.NewString() + "/approve-cancel", admin, "", http.StatusOK},
		{"admin retries waybill", http.MethodPost, "/orders/admin/" + uuid.NewString() + "/waybill", admin, "", http.StatusOK},
		{"admin cannot cancel for customer", http.MethodPut, orderPath + "/cancel", admin, `{"reason":"x"}`, http.StatusForbidden},
		{"customer cancels", http.MethodPut, orderPath + "/cancel", customer, `{"reason":"wrong size"}`, http.StatusOK},
		{"tracking", http.MethodPost, "/shipping/track/" + uuid.NewString(), customer, "", http.StatusOK},
		{"webhook rejects bad token", http.MethodPost, "/payment/webhook", "", `{"id":"inv"}`, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		resp := do(handler, tt.method, tt.path, tt.auth, tt.body, nil)
		if resp.Code != tt.want {
			t.Fatalf("%s: expected %d got %d: %s", tt.name, tt.want, resp.Code, resp.Body.String())
		}
	}
}

func TestRouterWebhookAcceptsCallbackToken(t *testing.T) {
	handler, _ := newTestRouter(t)
	resp := do(handler, http.MethodPost, "/payment/webhook", "", `{"id":"inv_1","external_id":"ORD-1","status":"PENDING"}`, map[string]string{"X-Callback-Token": "cb-secret"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestRouterReplaysIdempotentCheckout(t *testing.T) {
	handler, co := newTestRouter(t)
	customer := token(t, enums.MemberRoleCustomer)
	body := `{"shipping_address":{"recipient_name":"Sari","phone":"0812","line1":"Jl. Mawar 1","city":"Bandung","province":"Jawa Barat","postal_code":"40111"},"shipping_courier":"jne","shipping_service":"REG","payment_channel":"BCA"}`
	headers := map[string]string{"Idempotency-Key": "checkout-1"}

	first := do(handler, http.MethodPost, "/orders", customer, body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", first.Code, first.Body.String())
	}
	second := do(handler, http.MethodPost, "/orders", customer, body, headers)
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replay of first response, got %d %s", second.Code, second.Body.String())
	}
	if co.placed != 1 {
		t.Fatalf("checkout ran %d times, expected 1", co.placed)
	}

	changed := do(handler, http.MethodPost, "/orders", customer, strings.Replace(body, "REG", "YES", 1), headers)
	if changed.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reused key, got %d", changed.Code)
	}
}
