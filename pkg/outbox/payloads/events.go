package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ordercore/pkg/enums"
)

// OrderCreatedEvent is emitted once checkout has committed an order.
type OrderCreatedEvent struct {
	OrderID        uuid.UUID            `json:"order_id"`
	OrderNumber    string               `json:"order_number"`
	CustomerID     uuid.UUID            `json:"customer_id"`
	Total          int64                `json:"total"`
	PaymentChannel enums.PaymentChannel `json:"payment_channel"`
	ItemCount      int                  `json:"item_count"`
}

// OrderStatusChangedEvent records a single state machine edge.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	From        enums.OrderStatus `json:"from"`
	To          enums.OrderStatus `json:"to"`
	Action      enums.OrderAction `json:"action"`
	Reason      string            `json:"reason,omitempty"`
	ChangedAt   time.Time         `json:"changed_at"`
}

// StockChangedEvent asks the stock pusher to mirror a product's stock to the marketplace.
type StockChangedEvent struct {
	ProductID uuid.UUID `json:"product_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
}
