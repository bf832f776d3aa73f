package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ordercore/api/controllers"
	ordercontrollers "github.com/angelmondragon/ordercore/api/controllers/orders"
	shippingcontrollers "github.com/angelmondragon/ordercore/api/controllers/shipping"
	webhookcontrollers "github.com/angelmondragon/ordercore/api/controllers/webhooks"
	"github.com/angelmondragon/ordercore/api/middleware"
	"github.com/angelmondragon/ordercore/internal/checkout"
	"github.com/angelmondragon/ordercore/internal/checkout/helpers"
	"github.com/angelmondragon/ordercore/internal/fulfillment"
	"github.com/angelmondragon/ordercore/internal/payments"
	"github.com/angelmondragon/ordercore/pkg/config"
	"github.com/angelmondragon/ordercore/pkg/enums"
	"github.com/angelmondragon/ordercore/pkg/logger"
	"github.com/angelmondragon/ordercore/pkg/metrics"
	pkgredis "github.com/angelmondragon/ordercore/pkg/redis"
)

type checkoutService interface {
	PlaceOrder(ctx context.Context, in checkout.Input) (*checkout.Result, error)
	QuoteShipping(ctx context.Context, customerID uuid.UUID, lines []helpers.Line, postalCode string) (*checkout.Quote, error)
}

type fulfillmentService interface {
	GenerateWaybill(ctx context.Context, orderID uuid.UUID) (string, error)
	TrackAndAdvance(ctx context.Context, orderID uuid.UUID) (*fulfillment.TrackingResult, error)
}

type paymentService interface {
	HandleNotification(ctx context.Context, n payments.Notification) (payments.Outcome, error)
}

type callbackVerifier interface {
	VerifyCallbackToken(token string) bool
}

// RedisStore backs request idempotency and rate limiting.
type RedisStore interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Params carries everything the HTTP surface is wired to.
type Params struct {
	Config       *config.Config
	Logger       *logger.Logger
	Ready        map[string]controllers.Pinger
	Redis        RedisStore
	Gatherer     prometheus.Gatherer
	Orders       ordercontrollers.OrderReader
	Checkout     checkoutService
	Cancellation ordercontrollers.Canceller
	Fulfillment  fulfillmentService
	Payments     paymentService
	Callbacks    callbackVerifier
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var (
		idempotency    = middleware.Idempotency(p.Redis, logg)
		customerOnly   = middleware.RequireRole(enums.MemberRoleCustomer, logg)
		adminOnly      = middleware.RequireRole(enums.MemberRoleAdmin, logg)
		checkoutLimits = middleware.RateLimit(middleware.RateLimitPolicy{
			Name:   "checkout",
			Window: cfg.RateLimit.CheckoutWindow,
			Limit:  cfg.RateLimit.CheckoutLimit,
		}, p.Redis, logg)
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Ready))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(p.Gatherer))

	r.Post("/payment/webhook", webhookcontrollers.XenditInvoice(p.Payments, p.Callbacks, logg))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/orders", func(r chi.Router) {
			r.With(customerOnly, checkoutLimits, idempotency).Post("/", ordercontrollers.Create(p.Checkout, logg))
			r.Get("/", ordercontrollers.List(p.Orders, logg))

			r.Route("/admin", func(r chi.Router) {
				r.Use(adminOnly)
				r.Get("/", ordercontrollers.AdminList(p.Orders, logg))
				r.With(idempotency).Put("/{id}/status", ordercontrollers.AdminSetStatus(p.Orders, logg))
				r.With(idempotency).Put("/{id}/approve-cancel", ordercontrollers.AdminApproveCancel(p.Cancellation, logg))
				r.With(idempotency).Put("/{id}/reject-cancel", ordercontrollers.AdminRejectCancel(p.Cancellation, logg))
				r.With(idempotency).Post("/{id}/waybill", ordercontrollers.AdminGenerateWaybill(p.Fulfillment, logg))
			})

			r.Get("/{id}", ordercontrollers.Detail(p.Orders, logg))
			r.With(customerOnly, idempotency).Put("/{id}/cancel", ordercontrollers.Cancel(p.Cancellation, logg))
		})

		r.Route("/shipping", func(r chi.Router) {
			r.Post("/track/{orderId}", shippingcontrollers.Track(p.Orders, p.Fulfillment, logg))
			r.With(customerOnly).Post("/rates", shippingcontrollers.Rates(p.Checkout, logg))
		})
	})

	return r
}
