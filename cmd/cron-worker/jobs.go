package main

import (
	"context"
	"time"

	"github.com/angelmondragon/ordercore/internal/cron"
	"github.com/angelmondragon/ordercore/internal/fulfillment"
	"github.com/angelmondragon/ordercore/internal/reconciliation"
	"github.com/angelmondragon/ordercore/pkg/config"
	"github.com/angelmondragon/ordercore/pkg/logger"
)

type reconciler interface {
	Run(ctx context.Context) (reconciliation.Report, error)
}

type shipments interface {
	TrackShipments(ctx context.Context, limit int) (fulfillment.SweepReport, error)
	RetryPendingWaybills(ctx context.Context, limit int) (fulfillment.SweepReport, error)
}

type retentionRepo interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type jobDeps struct {
	Reconciler reconciler
	Shipments  shipments
	Outbox     retentionRepo
}

// buildRegistry registers the enabled jobs. Reconciliation is skipped when no
// marketplace client is available.
func buildRegistry(cfg *config.Config, logg *logger.Logger, deps jobDeps) (*cron.Registry, error) {
	registry := cron.NewRegistry()

	if cfg.Cron.ReconciliationEnabled && deps.Reconciler != nil {
		job, err := cron.NewReconciliationJob(logg, deps.Reconciler)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	if cfg.Cron.TrackingEnabled {
		job, err := cron.NewShipmentTrackingJob(logg, deps.Shipments, cfg.Cron.TrackingBatchSize)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	if cfg.Cron.WaybillRetryEnabled {
		job, err := cron.NewWaybillRetryJob(logg, deps.Shipments, cfg.Cron.TrackingBatchSize)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}

	job, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: deps.Outbox,
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		return nil, err
	}
	if err := registry.Register(job); err != nil {
		return nil, err
	}
	return registry, nil
}
