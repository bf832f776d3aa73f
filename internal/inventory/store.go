package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/pkg/db"
	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
	"github.com/angelmondragon/ordercore/pkg/outbox"
	"github.com/angelmondragon/ordercore/pkg/outbox/payloads"
)

// Reasons recorded on stock_changed events.
const (
	ReasonCheckout  = "checkout"
	ReasonRestore   = "restore"
	ReasonIncrement = "increment"
	ReasonReconcile = "reconcile"
)

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Store owns every write to products.stock and products.sold_count. All
// methods run inside the caller's transaction.
type Store struct {
	outbox outboxPublisher
}

// NewStore builds a Store that records marketplace pushes through the outbox.
func NewStore(emitter outboxPublisher) (*Store, error) {
	if emitter == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &Store{outbox: emitter}, nil
}

// Lock re-reads the given products under a row lock, in id order so two
// transactions locking overlapping sets cannot deadlock.
func (s *Store) Lock(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	ids := uniqueSorted(productIDs)
	out := make(map[uuid.UUID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []models.Product
	if err := db.ForUpdate(tx.WithContext(ctx)).
		Where("id IN ?", ids).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock products")
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// Snapshot reads products without locking. Its result must not gate a
// stock write.
func (s *Store) Snapshot(ctx context.Context, conn *gorm.DB, productIDs []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	ids := uniqueSorted(productIDs)
	out := make(map[uuid.UUID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Product
	if err := conn.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// LockByMarketplaceSKU locks the product mapped to a marketplace SKU. It
// returns nil without error when no product carries the mapping.
func (s *Store) LockByMarketplaceSKU(ctx context.Context, tx *gorm.DB, skuID string) (*models.Product, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	var product models.Product
	err := db.ForUpdate(tx.WithContext(ctx)).Where("marketplace_sku_id = ?", skuID).Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock product by marketplace sku")
	}
	return &product, nil
}

// Decrement removes qty units in a single guarded statement. When the
// product does not hold enough stock nothing changes and the error names it.
func (s *Store) Decrement(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	res := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND stock >= ?", productID, qty).
		Update("stock", gorm.Expr("stock - ?", qty))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement stock")
	}
	if res.RowsAffected == 0 {
		product, err := s.find(ctx, tx, productID)
		if err != nil {
			return err
		}
		return insufficientStock(product, qty)
	}
	return s.changed(ctx, tx, productID, -qty, ReasonCheckout)
}

// Increment returns qty units to the product.
func (s *Store) Increment(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	return s.increment(ctx, tx, productID, qty, ReasonIncrement)
}

func (s *Store) increment(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int, reason string) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	res := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		Update("stock", gorm.Expr("stock + ?", qty))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increment stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", productID))
	}
	return s.changed(ctx, tx, productID, qty, reason)
}

// SetStock overwrites the stock level. Reconciliation uses it when the
// marketplace reports a different quantity.
func (s *Store) SetStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stock cannot be negative")
	}
	product, err := s.find(ctx, tx, productID)
	if err != nil {
		return err
	}
	if product.Stock == qty {
		return nil
	}
	if err := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		Update("stock", qty).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set stock")
	}
	return s.changed(ctx, tx, productID, qty-product.Stock, ReasonReconcile)
}

// IncrementSold bumps the sold counter once an order completes.
func (s *Store) IncrementSold(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	res := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		Update("sold_count", gorm.Expr("sold_count + ?", qty))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increment sold count")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", productID))
	}
	return nil
}

// RestoreOrder returns every line of an order to stock. The products are
// locked first so the restore serializes with concurrent checkouts.
func (s *Store) RestoreOrder(ctx context.Context, tx *gorm.DB, items []models.OrderItem) error {
	totals := make(map[uuid.UUID]int, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, seen := totals[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		totals[item.ProductID] += item.Quantity
	}
	locked, err := s.Lock(ctx, tx, ids)
	if err != nil {
		return err
	}
	for _, id := range uniqueSorted(ids) {
		if _, ok := locked[id]; !ok {
			return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", id))
		}
		if err := s.increment(ctx, tx, id, totals[id], ReasonRestore); err != nil {
			return err
		}
	}
	return nil
}

// IncrementSoldForOrder bumps sold counters for every line of a completed order.
func (s *Store) IncrementSoldForOrder(ctx context.Context, tx *gorm.DB, items []models.OrderItem) error {
	for _, item := range items {
		if err := s.IncrementSold(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// changed emits a stock_changed row for cross-listed products so the outbox
// publisher pushes the new level to the marketplace after commit.
func (s *Store) changed(ctx context.Context, tx *gorm.DB, productID uuid.UUID, delta int, reason string) error {
	product, err := s.find(ctx, tx, productID)
	if err != nil {
		return err
	}
	if !product.IsCrossListed() {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventStockChanged,
		AggregateType: enums.AggregateProduct,
		AggregateID:   productID,
		Actor:         outbox.SystemActor("inventory"),
		Data: payloads.StockChangedEvent{
			ProductID: productID,
			Delta:     delta,
			Reason:    reason,
		},
	})
}

func (s *Store) find(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := tx.WithContext(ctx).Where("id = ?", productID).Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", productID))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return &product, nil
}

// CheckAvailable reports INSUFFICIENT_STOCK when a locked product cannot
// cover qty or is not for sale.
func CheckAvailable(product models.Product, qty int) error {
	if !product.Status.IsSellable() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("product %s is not available", product.Name)).
			WithDetails(map[string]any{"product_id": product.ID})
	}
	if product.Stock < qty {
		return insufficientStock(&product, qty)
	}
	return nil
}

func insufficientStock(product *models.Product, qty int) error {
	return pkgerrors.New(pkgerrors.CodeOutOfStock, fmt.Sprintf("insufficient stock for %s", product.Name)).
		WithDetails(map[string]any{
			"product_id": product.ID,
			"requested":  qty,
			"available":  product.Stock,
		})
}

func validateQty(qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}

func uniqueSorted(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
