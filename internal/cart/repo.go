package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/pkg/db/models"
)

// Repository reads and trims a customer's saved cart. Cart editing lives in
// the storefront service; checkout only consumes lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Lines(ctx context.Context, customerID uuid.UUID) ([]models.CartItem, error)
	RemoveProducts(ctx context.Context, customerID uuid.UUID, productIDs []uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Lines(ctx context.Context, customerID uuid.UUID) ([]models.CartItem, error) {
	var items []models.CartItem
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// RemoveProducts deletes the customer's cart lines for the given products.
func (r *repository) RemoveProducts(ctx context.Context, customerID uuid.UUID, productIDs []uuid.UUID) error {
	if len(productIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("customer_id = ? AND product_id IN ?", customerID, productIDs).
		Delete(&models.CartItem{}).Error
}
