package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ordercore/internal/address"
	"github.com/angelmondragon/ordercore/internal/cron"
	"github.com/angelmondragon/ordercore/internal/fulfillment"
	"github.com/angelmondragon/ordercore/internal/inventory"
	"github.com/angelmondragon/ordercore/internal/orders"
	"github.com/angelmondragon/ordercore/internal/reconciliation"
	"github.com/angelmondragon/ordercore/pkg/carrier"
	"github.com/angelmondragon/ordercore/pkg/config"
	"github.com/angelmondragon/ordercore/pkg/db"
	"github.com/angelmondragon/ordercore/pkg/logger"
	"github.com/angelmondragon/ordercore/pkg/marketplace"
	"github.com/angelmondragon/ordercore/pkg/metrics"
	"github.com/angelmondragon/ordercore/pkg/migrate"
	"github.com/angelmondragon/ordercore/pkg/outbox"
	"github.com/angelmondragon/ordercore/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	deps, err := buildJobDeps(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire cron dependencies", err)
		os.Exit(1)
	}
	registry, err := buildRegistry(cfg, logg, deps)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron"), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"jobs":        registry.Names(),
	})

	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildJobDeps(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (jobDeps, error) {
	conn := dbClient.DB()
	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)
	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)
	stock, err := inventory.NewStore(emitter)
	if err != nil {
		return jobDeps{}, err
	}

	orderRepo := orders.NewRepository(conn)
	orderSvc, err := orders.NewService(orderRepo, dbClient, emitter, stock, orderMetrics, logg)
	if err != nil {
		return jobDeps{}, err
	}
	carrierClient, err := carrier.NewClient(cfg.Carrier)
	if err != nil {
		return jobDeps{}, err
	}
	shipping, err := fulfillment.NewService(fulfillment.Deps{
		Tx:          dbClient,
		Orders:      orderRepo,
		Ledger:      orderSvc,
		Routes:      address.NewDirectory(conn),
		Carrier:     carrierClient,
		Metrics:     orderMetrics,
		Logger:      logg,
		MinWeightKg: cfg.Carrier.MinWeightKg,
	})
	if err != nil {
		return jobDeps{}, err
	}
	orderSvc.SetWaybillGenerator(shipping)

	deps := jobDeps{Shipments: shipping, Outbox: outboxRepo}
	if !cfg.Marketplace.Enabled() {
		logg.Warn(context.Background(), "marketplace not configured; reconciliation disabled")
		return deps, nil
	}
	market, err := marketplace.NewClient(cfg.Marketplace)
	if err != nil {
		return jobDeps{}, err
	}
	rec, err := reconciliation.NewReconciler(dbClient, market, stock, orderMetrics, logg)
	if err != nil {
		return jobDeps{}, err
	}
	deps.Reconciler = rec
	return deps, nil
}
