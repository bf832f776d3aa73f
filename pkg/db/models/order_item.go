package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderItem snapshots a product line at checkout time.
type OrderItem struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID   uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	ProductName string    `gorm:"column:product_name;not null"`
	Price       int64     `gorm:"column:price;not null"`
	Quantity    int       `gorm:"column:quantity;not null"`
	Subtotal    int64     `gorm:"column:subtotal;not null"`
	WeightGrams int       `gorm:"column:weight_grams;not null;default:0"`
	Reviewed    bool      `gorm:"column:reviewed;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
