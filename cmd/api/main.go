package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ordercore/api/controllers"
	"github.com/angelmondragon/ordercore/api/routes"
	"github.com/angelmondragon/ordercore/internal/address"
	"github.com/angelmondragon/ordercore/internal/cancellation"
	"github.com/angelmondragon/ordercore/internal/cart"
	"github.com/angelmondragon/ordercore/internal/checkout"
	"github.com/angelmondragon/ordercore/internal/customers"
	"github.com/angelmondragon/ordercore/internal/fulfillment"
	"github.com/angelmondragon/ordercore/internal/inventory"
	"github.com/angelmondragon/ordercore/internal/orders"
	"github.com/angelmondragon/ordercore/internal/payments"
	"github.com/angelmondragon/ordercore/internal/pricing"
	"github.com/angelmondragon/ordercore/pkg/carrier"
	"github.com/angelmondragon/ordercore/pkg/config"
	"github.com/angelmondragon/ordercore/pkg/db"
	"github.com/angelmondragon/ordercore/pkg/instance"
	"github.com/angelmondragon/ordercore/pkg/logger"
	"github.com/angelmondragon/ordercore/pkg/metrics"
	"github.com/angelmondragon/ordercore/pkg/migrate"
	"github.com/angelmondragon/ordercore/pkg/outbox"
	"github.com/angelmondragon/ordercore/pkg/outbox/idempotency"
	"github.com/angelmondragon/ordercore/pkg/redis"
	"github.com/angelmondragon/ordercore/pkg/xendit"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	params, err := buildRouterParams(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(params),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
	logg.Info(ctx, "api server stopped")
}

// buildRouterParams wires the order services the HTTP surface depends on.
func buildRouterParams(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (routes.Params, error) {
	conn := dbClient.DB()

	xenditClient, err := xendit.NewClient(cfg.Payment.XenditAPIKey,
		xendit.WithBaseURL(cfg.Payment.XenditBaseURL),
		xendit.WithHTTPClient(&http.Client{Timeout: cfg.Payment.RequestTimeout}),
		xendit.WithCallbackToken(cfg.Payment.CallbackToken),
		xendit.WithUnsignedCallbacks(cfg.App.IsDev()),
		xendit.WithRedirectURLs(cfg.Payment.SuccessRedirectURL, cfg.Payment.FailureRedirectURL),
		xendit.WithInvoiceDuration(cfg.Payment.InvoiceDuration),
	)
	if err != nil {
		return routes.Params{}, fmt.Errorf("xendit client: %w", err)
	}
	carrierClient, err := carrier.NewClient(cfg.Carrier)
	if err != nil {
		return routes.Params{}, fmt.Errorf("carrier client: %w", err)
	}
	rates, err := pricing.RatesFromConfig(cfg.Pricing)
	if err != nil {
		return routes.Params{}, fmt.Errorf("pricing rates: %w", err)
	}

	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	stock, err := inventory.NewStore(emitter)
	if err != nil {
		return routes.Params{}, err
	}
	orderRepo := orders.NewRepository(conn)
	orderSvc, err := orders.NewService(orderRepo, dbClient, emitter, stock, orderMetrics, logg)
	if err != nil {
		return routes.Params{}, fmt.Errorf("orders service: %w", err)
	}
	directory := address.NewDirectory(conn)

	checkoutSvc, err := checkout.NewService(checkout.Deps{
		Tx:        dbClient,
		Orders:    orderRepo,
		Cart:      cart.NewRepository(conn),
		Customers: customers.NewRepository(conn),
		Stock:     stock,
		Outbox:    emitter,
		Routes:    directory,
		Carrier:   carrierClient,
		Invoices:  xenditClient,
		Metrics:   orderMetrics,
		Logger:    logg,
	}, checkout.Config{
		EnabledChannels: cfg.Payment.EnabledChannels,
		MaxAttempts:     cfg.Payment.CheckoutMaxAttempts,
		MinWeightKg:     cfg.Carrier.MinWeightKg,
		Rates:           rates,
	})
	if err != nil {
		return routes.Params{}, fmt.Errorf("checkout service: %w", err)
	}

	fulfillmentSvc, err := fulfillment.NewService(fulfillment.Deps{
		Tx:          dbClient,
		Orders:      orderRepo,
		Ledger:      orderSvc,
		Routes:      directory,
		Carrier:     carrierClient,
		Metrics:     orderMetrics,
		Logger:      logg,
		MinWeightKg: cfg.Carrier.MinWeightKg,
	})
	if err != nil {
		return routes.Params{}, fmt.Errorf("fulfillment service: %w", err)
	}
	orderSvc.SetWaybillGenerator(fulfillmentSvc)
	orderSvc.SetInvoiceExpirer(xenditClient)

	cancellationSvc, err := cancellation.NewService(dbClient, orderRepo, orderSvc, logg)
	if err != nil {
		return routes.Params{}, fmt.Errorf("cancellation service: %w", err)
	}

	dedupe, err := idempotency.NewManager(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		return routes.Params{}, fmt.Errorf("webhook dedupe: %w", err)
	}
	paymentSvc, err := payments.NewService(payments.Deps{
		Tx:       dbClient,
		Orders:   orderRepo,
		Ledger:   orderSvc,
		Waybills: fulfillmentSvc,
		Dedupe:   dedupe,
		Metrics:  orderMetrics,
		Logger:   logg,
	})
	if err != nil {
		return routes.Params{}, fmt.Errorf("payments service: %w", err)
	}

	return routes.Params{
		Config: cfg,
		Logger: logg,
		Ready: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Redis:        redisClient,
		Gatherer:     prometheus.DefaultGatherer,
		Orders:       orderSvc,
		Checkout:     checkoutSvc,
		Cancellation: cancellationSvc,
		Fulfillment:  fulfillmentSvc,
		Payments:     paymentSvc,
		Callbacks:    xenditClient,
	}, nil
}
