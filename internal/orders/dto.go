package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	"github.com/angelmondragon/ordercore/pkg/pagination"
	"github.com/angelmondragon/ordercore/pkg/types"
)

// OrderDTO is the API representation of an order.
type OrderDTO struct {
	ID                 uuid.UUID             `json:"id"`
	OrderNumber        string                `json:"order_number"`
	CustomerID         uuid.UUID             `json:"customer_id"`
	Status             enums.OrderStatus     `json:"status"`
	Subtotal           int64                 `json:"subtotal"`
	Discount           int64                 `json:"discount"`
	ShippingCost       int64                 `json:"shipping_cost"`
	PaymentFee         int64                 `json:"payment_fee"`
	AppFee             int64                 `json:"app_fee"`
	Total              int64                 `json:"total"`
	ShippingCourier    string                `json:"shipping_courier"`
	ShippingService    string                `json:"shipping_service"`
	WaybillNumber      *string               `json:"waybill_number,omitempty"`
	WaybillError       *string               `json:"waybill_error,omitempty"`
	PaymentChannel     enums.PaymentChannel  `json:"payment_channel"`
	InstallmentTerm    int                   `json:"installment_term"`
	PaymentURL         *string               `json:"payment_url,omitempty"`
	ShippingAddress    types.ShippingAddress `json:"shipping_address"`
	CancellationReason *string               `json:"cancellation_reason,omitempty"`
	PaidAt             *time.Time            `json:"paid_at,omitempty"`
	ShippedAt          *time.Time            `json:"shipped_at,omitempty"`
	CompletedAt        *time.Time            `json:"completed_at,omitempty"`
	CancelledAt        *time.Time            `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
	Items              []OrderItemDTO        `json:"items"`
}

type OrderItemDTO struct {
	ID          uuid.UUID `json:"id"`
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Price       int64     `json:"price"`
	Quantity    int       `json:"quantity"`
	Subtotal    int64     `json:"subtotal"`
	Reviewed    bool      `json:"reviewed"`
}

// NewOrderDTO maps an order row to its API shape. The waybill error is an
// operator concern and is only included when includeInternal is set.
func NewOrderDTO(o models.Order, includeInternal bool) OrderDTO {
	dto := OrderDTO{
		ID:                 o.ID,
		OrderNumber:        o.OrderNumber,
		CustomerID:         o.CustomerID,
		Status:             o.Status,
		Subtotal:           o.Subtotal,
		Discount:           o.Discount,
		ShippingCost:       o.ShippingCost,
		PaymentFee:         o.PaymentFee,
		AppFee:             o.AppFee,
		Total:              o.Total,
		ShippingCourier:    o.ShippingCourier,
		ShippingService:    o.ShippingService,
		WaybillNumber:      o.WaybillNumber,
		PaymentChannel:     o.PaymentChannel,
		InstallmentTerm:    o.InstallmentTerm,
		ShippingAddress:    o.ShippingAddress,
		CancellationReason: o.CancellationReason,
		PaidAt:             o.PaidAt,
		ShippedAt:          o.ShippedAt,
		CompletedAt:        o.CompletedAt,
		CancelledAt:        o.CancelledAt,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
		Items:              make([]OrderItemDTO, 0, len(o.Items)),
	}
	if o.Status == enums.OrderStatusPending {
		dto.PaymentURL = o.InvoiceURL
	}
	if includeInternal {
		dto.WaybillError = o.WaybillError
	}
	for _, item := range o.Items {
		dto.Items = append(dto.Items, OrderItemDTO{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       item.Price,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal,
			Reviewed:    item.Reviewed,
		})
	}
	return dto
}

// NewOrderPage maps a page of order rows.
func NewOrderPage(page pagination.Page[models.Order], includeInternal bool) pagination.Page[OrderDTO] {
	out := pagination.Page[OrderDTO]{
		Items:      make([]OrderDTO, 0, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for _, o := range page.Items {
		out.Items = append(out.Items, NewOrderDTO(o, includeInternal))
	}
	return out
}
