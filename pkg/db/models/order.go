package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/pkg/enums"
	"github.com/angelmondragon/ordercore/pkg/types"
)

// Order is one checkout. Monetary columns are whole currency units and are
// written once at checkout.
type Order struct {
	ID                 uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber        string                `gorm:"column:order_number;not null;uniqueIndex:orders_order_number_key"`
	CustomerID         uuid.UUID             `gorm:"column:customer_id;type:uuid;not null;index"`
	Subtotal           int64                 `gorm:"column:subtotal;not null"`
	Discount           int64                 `gorm:"column:discount;not null;default:0"`
	ShippingCost       int64                 `gorm:"column:shipping_cost;not null;default:0"`
	PaymentFee         int64                 `gorm:"column:payment_fee;not null;default:0"`
	AppFee             int64                 `gorm:"column:app_fee;not null;default:0"`
	Total              int64                 `gorm:"column:total;not null"`
	ShippingCourier    string                `gorm:"column:shipping_courier;not null"`
	ShippingService    string                `gorm:"column:shipping_service;not null"`
	WaybillNumber      *string               `gorm:"column:waybill_number"`
	WaybillError       *string               `gorm:"column:waybill_error"`
	PaymentChannel     enums.PaymentChannel  `gorm:"column:payment_channel;type:varchar(32);not null"`
	InstallmentTerm    int                   `gorm:"column:installment_term;not null;default:0"`
	InvoiceID          *string               `gorm:"column:invoice_id"`
	InvoiceURL         *string               `gorm:"column:invoice_url"`
	ShippingAddress    types.ShippingAddress `gorm:"column:shipping_address;type:jsonb;serializer:json;not null"`
	CancellationReason *string               `gorm:"column:cancellation_reason"`
	Status             enums.OrderStatus     `gorm:"column:status;type:varchar(32);not null;default:'pending';index"`
	PaidAt             *time.Time            `gorm:"column:paid_at"`
	ShippedAt          *time.Time            `gorm:"column:shipped_at"`
	CompletedAt        *time.Time            `gorm:"column:completed_at"`
	CancelledAt        *time.Time            `gorm:"column:cancelled_at"`
	Items              []OrderItem           `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// HasWaybill reports whether the carrier already issued a waybill.
func (o Order) HasWaybill() bool {
	return o.WaybillNumber != nil && *o.WaybillNumber != ""
}
