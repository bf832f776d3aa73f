// Package reconciliation keeps local stock and the marketplace listing in
// agreement. Reconciler pulls marketplace stock into local rows; Pusher sends
// local changes out.
package reconciliation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/logger"
	"github.com/angelmondragon/ordercore/pkg/marketplace"
	"github.com/angelmondragon/ordercore/pkg/metrics"
)

const defaultMaxPages = 1000

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type catalog interface {
	ListProducts(ctx context.Context, pageToken string) (*marketplace.ProductPage, error)
}

type stockWriter interface {
	LockByMarketplaceSKU(ctx context.Context, tx *gorm.DB, skuID string) (*models.Product, error)
	SetStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

// Report summarizes one reconciliation run.
type Report struct {
	Pages     int
	SKUsSeen  int
	Corrected int
	Unchanged int
	Unmapped  int
	Errors    int
}

// Reconciler treats the marketplace as authoritative for cross-listed stock.
type Reconciler struct {
	tx       txRunner
	catalog  catalog
	stock    stockWriter
	metrics  *metrics.OrderMetrics
	logg     *logger.Logger
	maxPages int
}

func NewReconciler(tx txRunner, c catalog, stock stockWriter, m *metrics.OrderMetrics, logg *logger.Logger) (*Reconciler, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if c == nil {
		return nil, fmt.Errorf("marketplace catalog required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock writer required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Reconciler{tx: tx, catalog: c, stock: stock, metrics: m, logg: logg, maxPages: defaultMaxPages}, nil
}

// Run pages through the marketplace catalog and overwrites the stock of every
// mapped product that disagrees. A failed page stops paging; SKUs already
// fetched are still applied. Local products without a marketplace SKU are
// never touched.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var (
		report Report
		errs   error
		token  string
	)
	for {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		if report.Pages >= r.maxPages {
			errs = multierr.Append(errs, fmt.Errorf("stopped after %d pages", report.Pages))
			break
		}
		page, err := r.catalog.ListProducts(ctx, token)
		if err != nil {
			report.Errors++
			errs = multierr.Append(errs, fmt.Errorf("list marketplace products: %w", err))
			break
		}
		report.Pages++

		for _, sku := range page.SKUs {
			report.SKUsSeen++
			result, err := r.apply(ctx, sku)
			if err != nil {
				report.Errors++
				errs = multierr.Append(errs, fmt.Errorf("sku %s: %w", sku.SKUID, err))
				continue
			}
			report.count(result)
		}

		if page.NextPageToken == "" {
			break
		}
		if page.NextPageToken == token {
			errs = multierr.Append(errs, fmt.Errorf("marketplace repeated page token %q", token))
			break
		}
		token = page.NextPageToken
	}

	r.metrics.Reconciled("corrected", report.Corrected)
	r.metrics.Reconciled("unchanged", report.Unchanged)
	r.metrics.Reconciled("unmapped", report.Unmapped)
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"pages":     report.Pages,
		"skus_seen": report.SKUsSeen,
		"corrected": report.Corrected,
		"errors":    report.Errors,
	}), "marketplace reconciliation finished")
	return report, errs
}

type skuResult int

const (
	skuUnmapped skuResult = iota
	skuUnchanged
	skuCorrected
)

func (r *Report) count(result skuResult) {
	switch result {
	case skuUnmapped:
		r.Unmapped++
	case skuUnchanged:
		r.Unchanged++
	case skuCorrected:
		r.Corrected++
	}
}

// apply reports its result only once the transaction has committed.
func (r *Reconciler) apply(ctx context.Context, sku marketplace.SKUStock) (skuResult, error) {
	remote := sku.Inventory
	if remote < 0 {
		remote = 0
	}
	var (
		result skuResult
		local  int
		id     uuid.UUID
	)
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		product, err := r.stock.LockByMarketplaceSKU(ctx, tx, sku.SKUID)
		if err != nil {
			return err
		}
		if product == nil {
			result = skuUnmapped
			return nil
		}
		id, local = product.ID, product.Stock
		if product.Stock == remote {
			result = skuUnchanged
			return nil
		}
		if err := r.stock.SetStock(ctx, tx, product.ID, remote); err != nil {
			return err
		}
		result = skuCorrected
		return nil
	})
	if err != nil {
		return 0, err
	}
	if result == skuCorrected {
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"product_id": id.String(),
			"sku_id":     sku.SKUID,
			"local":      local,
			"remote":     remote,
		}), "stock corrected from marketplace")
	}
	return result, nil
}
