package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/pkg/enums"
)

// Product is the stock-relevant projection of a catalog listing. Catalog
// management owns every other column; this service only writes stock and
// sold_count.
type Product struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	SKU                  string              `gorm:"column:sku;not null"`
	Name                 string              `gorm:"column:name;not null"`
	Price                int64               `gorm:"column:price;not null"`
	DiscountPrice        *int64              `gorm:"column:discount_price"`
	DiscountEnabled      bool                `gorm:"column:discount_enabled;not null;default:false"`
	DiscountActive       bool                `gorm:"column:discount_active;not null;default:false"`
	DiscountStartsAt     *time.Time          `gorm:"column:discount_starts_at"`
	DiscountEndsAt       *time.Time          `gorm:"column:discount_ends_at"`
	Stock                int                 `gorm:"column:stock;not null;default:0;check:stock >= 0"`
	SoldCount            int                 `gorm:"column:sold_count;not null;default:0"`
	WeightGrams          int                 `gorm:"column:weight_grams;not null;default:0"`
	Status               enums.ProductStatus `gorm:"column:status;type:varchar(16);not null;default:'active'"`
	MarketplaceProductID *string             `gorm:"column:marketplace_product_id"`
	MarketplaceSKUID     *string             `gorm:"column:marketplace_sku_id;uniqueIndex"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsCrossListed reports whether the product has a marketplace mapping.
func (p Product) IsCrossListed() bool {
	return p.MarketplaceProductID != nil && *p.MarketplaceProductID != "" &&
		p.MarketplaceSKUID != nil && *p.MarketplaceSKUID != ""
}
