// Package testsupport opens throwaway SQLite databases and seeds the rows the
// order workflows need. It is imported by _test.go files only.
package testsupport

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	"github.com/angelmondragon/ordercore/pkg/types"
)

// OpenSQLite returns an in-memory database migrated with every table the
// service owns or reads.
func OpenSQLite(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := "file:" + name + "_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.Product{},
		&models.Customer{},
		&models.CartItem{},
		&models.CarrierDestination{},
		&models.Order{},
		&models.OrderItem{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// SeedProduct inserts an active product. mutate may adjust fields first.
func SeedProduct(t *testing.T, conn *gorm.DB, name string, price int64, stock int, mutate func(*models.Product)) models.Product {
	t.Helper()
	product := models.Product{
		SKU:         "SKU-" + name,
		Name:        name,
		Price:       price,
		Stock:       stock,
		WeightGrams: 500,
		Status:      enums.ProductStatusActive,
	}
	if mutate != nil {
		mutate(&product)
	}
	if err := conn.Create(&product).Error; err != nil {
		t.Fatalf("seed product %s: %v", name, err)
	}
	return product
}

// CrossList maps a product to marketplace identifiers.
func CrossList(productID, skuID string) func(*models.Product) {
	return func(p *models.Product) {
		p.MarketplaceProductID = &productID
		p.MarketplaceSKUID = &skuID
	}
}

// SeedCustomer inserts a customer, with a verified phone when verified is true.
func SeedCustomer(t *testing.T, conn *gorm.DB, verified bool) models.Customer {
	t.Helper()
	phone := "+6281234567890"
	customer := models.Customer{
		ID:    uuid.New(),
		Name:  "Rina",
		Email: "rina@example.com",
		Phone: &phone,
	}
	if verified {
		now := time.Now().UTC()
		customer.PhoneVerifiedAt = &now
	}
	if err := conn.Create(&customer).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return customer
}

// SeedDestination registers a postal code with the carrier directory.
func SeedDestination(t *testing.T, conn *gorm.DB, postalCode, routingCode string) {
	t.Helper()
	if err := conn.Create(&models.CarrierDestination{PostalCode: postalCode, RoutingCode: routingCode, City: "Bandung"}).Error; err != nil {
		t.Fatalf("seed destination: %v", err)
	}
}

// Address returns a complete shipping address for postalCode.
func Address(postalCode string) types.ShippingAddress {
	return types.ShippingAddress{
		RecipientName: "Rina",
		Phone:         "+6281234567890",
		Line1:         "Jl. Merdeka 1",
		City:          "Bandung",
		Province:      "Jawa Barat",
		PostalCode:    postalCode,
		Country:       "ID",
	}
}

// SeedOrder inserts an order with one line per product and the given status.
func SeedOrder(t *testing.T, conn *gorm.DB, customerID uuid.UUID, number string, status enums.OrderStatus, lines map[*models.Product]int, mutate func(*models.Order)) models.Order {
	t.Helper()
	order := models.Order{
		OrderNumber:     number,
		CustomerID:      customerID,
		ShippingCourier: "jne",
		ShippingService: "REG",
		PaymentChannel:  enums.PaymentChannelBCA,
		ShippingAddress: Address("40111"),
		Status:          status,
	}
	for product, qty := range lines {
		line := int64(qty) * product.Price
		order.Subtotal += line
		order.Items = append(order.Items, models.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Price:       product.Price,
			Quantity:    qty,
			Subtotal:    line,
			WeightGrams: product.WeightGrams,
		})
	}
	order.Total = order.Subtotal
	if mutate != nil {
		mutate(&order)
	}
	if err := conn.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

// Stock reads the current stock of a product.
func Stock(t *testing.T, conn *gorm.DB, productID uuid.UUID) int {
	t.Helper()
	var product models.Product
	if err := conn.Where("id = ?", productID).Take(&product).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	return product.Stock
}

// ReloadOrder reads the order row back.
func ReloadOrder(t *testing.T, conn *gorm.DB, orderID uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	if err := conn.Where("id = ?", orderID).Take(&order).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	return order
}

// CountEvents counts outbox rows of the given type.
func CountEvents(t *testing.T, conn *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	if err := conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}
