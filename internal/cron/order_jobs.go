package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/ordercore/internal/fulfillment"
	"github.com/angelmondragon/ordercore/internal/reconciliation"
	"github.com/angelmondragon/ordercore/pkg/logger"
)

type reconcileRunner interface {
	Run(ctx context.Context) (reconciliation.Report, error)
}

type shipmentTracker interface {
	TrackShipments(ctx context.Context, limit int) (fulfillment.SweepReport, error)
}

type waybillRetrier interface {
	RetryPendingWaybills(ctx context.Context, limit int) (fulfillment.SweepReport, error)
}

// NewReconciliationJob pulls marketplace stock into local products.
func NewReconciliationJob(logg *logger.Logger, r reconcileRunner) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if r == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	return &reconciliationJob{logg: logg, reconciler: r}, nil
}

type reconciliationJob struct {
	logg       *logger.Logger
	reconciler reconcileRunner
}

func (j *reconciliationJob) Name() string { return "marketplace-reconciliation" }

func (j *reconciliationJob) Run(ctx context.Context) error {
	_, err := j.reconciler.Run(ctx)
	return err
}

// NewShipmentTrackingJob advances every order in transit from carrier
// tracking.
func NewShipmentTrackingJob(logg *logger.Logger, tracker shipmentTracker, batch int) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("shipment tracker required")
	}
	return &shipmentTrackingJob{logg: logg, tracker: tracker, batch: batch}, nil
}

type shipmentTrackingJob struct {
	logg    *logger.Logger
	tracker shipmentTracker
	batch   int
}

func (j *shipmentTrackingJob) Name() string { return "shipment-tracking" }

func (j *shipmentTrackingJob) Run(ctx context.Context) error {
	report, err := j.tracker.TrackShipments(ctx, j.batch)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"checked":  report.Checked,
		"advanced": report.Advanced,
		"failed":   report.Failed,
	}), "shipment tracking sweep finished")
	return err
}

// NewWaybillRetryJob retries waybills for paid orders that have none.
func NewWaybillRetryJob(logg *logger.Logger, retrier waybillRetrier, batch int) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if retrier == nil {
		return nil, fmt.Errorf("waybill retrier required")
	}
	return &waybillRetryJob{logg: logg, retrier: retrier, batch: batch}, nil
}

type waybillRetryJob struct {
	logg    *logger.Logger
	retrier waybillRetrier
	batch   int
}

func (j *waybillRetryJob) Name() string { return "waybill-retry" }

func (j *waybillRetryJob) Run(ctx context.Context) error {
	report, err := j.retrier.RetryPendingWaybills(ctx, j.batch)
	if report.Checked > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"checked":   report.Checked,
			"generated": report.Advanced,
			"failed":    report.Failed,
		}), "waybill retry sweep finished")
	}
	return err
}
