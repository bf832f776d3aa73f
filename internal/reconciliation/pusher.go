package reconciliation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/pkg/db/models"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
	"github.com/angelmondragon/ordercore/pkg/logger"
	"github.com/angelmondragon/ordercore/pkg/marketplace"
	"github.com/angelmondragon/ordercore/pkg/metrics"
	"github.com/angelmondragon/ordercore/pkg/outbox/payloads"
	"github.com/angelmondragon/ordercore/pkg/outbox/registry"
)

type inventoryUpdater interface {
	UpdateInventory(ctx context.Context, productID string, skus []marketplace.SKUQuantity) error
}

type stockReader interface {
	Snapshot(ctx context.Context, conn *gorm.DB, productIDs []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

// Pusher mirrors a product's current stock to its marketplace listing. It
// always sends the level read at push time, so replays and reordering are
// harmless.
type Pusher struct {
	db      *gorm.DB
	stock   stockReader
	market  inventoryUpdater
	metrics *metrics.OrderMetrics
	logg    *logger.Logger
}

func NewPusher(conn *gorm.DB, stock stockReader, market inventoryUpdater, m *metrics.OrderMetrics, logg *logger.Logger) (*Pusher, error) {
	if conn == nil {
		return nil, fmt.Errorf("database required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock reader required")
	}
	if market == nil {
		return nil, fmt.Errorf("marketplace client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Pusher{db: conn, stock: stock, market: market, metrics: m, logg: logg}, nil
}

// Handle processes a resolved stock_changed outbox event.
func (p *Pusher) Handle(ctx context.Context, event *registry.ResolvedEvent) error {
	if event == nil {
		return registry.NewNonRetryableError(fmt.Errorf("event required"))
	}
	payload, ok := event.Payload.(*payloads.StockChangedEvent)
	if !ok {
		return registry.NewNonRetryableError(fmt.Errorf("unexpected payload %T for stock pusher", event.Payload))
	}
	return p.Push(ctx, payload.ProductID)
}

// Push sends the current stock of productID. Products without a marketplace
// mapping, or that no longer exist, are skipped.
func (p *Pusher) Push(ctx context.Context, productID uuid.UUID) error {
	ctx = p.logg.WithField(ctx, "product_id", productID.String())
	found, err := p.stock.Snapshot(ctx, p.db, []uuid.UUID{productID})
	if err != nil {
		p.metrics.StockPush("failed")
		return err
	}
	product, ok := found[productID]
	if !ok || !product.IsCrossListed() {
		p.metrics.StockPush("skipped")
		p.logg.Debug(ctx, "stock push skipped, product not cross-listed")
		return nil
	}

	err = p.market.UpdateInventory(ctx, *product.MarketplaceProductID, []marketplace.SKUQuantity{
		{SKUID: *product.MarketplaceSKUID, Quantity: product.Stock},
	})
	if err != nil {
		p.metrics.StockPush("failed")
		if pkgerrors.Is(err, pkgerrors.CodeValidation) {
			return registry.NewNonRetryableError(err)
		}
		return err
	}
	p.metrics.StockPush("pushed")
	p.logg.Info(p.logg.WithField(ctx, "stock", product.Stock), "stock pushed to marketplace")
	return nil
}
