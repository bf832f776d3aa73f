package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/internal/cart"
	"github.com/angelmondragon/ordercore/internal/checkout/helpers"
	"github.com/angelmondragon/ordercore/internal/inventory"
	"github.com/angelmondragon/ordercore/internal/orders"
	"github.com/angelmondragon/ordercore/internal/pricing"
	"github.com/angelmondragon/ordercore/pkg/carrier"
	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
	"github.com/angelmondragon/ordercore/pkg/logger"
	"github.com/angelmondragon/ordercore/pkg/metrics"
	"github.com/angelmondragon/ordercore/pkg/outbox"
	"github.com/angelmondragon/ordercore/pkg/outbox/payloads"
	"github.com/angelmondragon/ordercore/pkg/types"
	"github.com/angelmondragon/ordercore/pkg/xendit"
)

const defaultMaxAttempts = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type customerLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
}

type routeResolver interface {
	RoutingCode(ctx context.Context, postalCode string) (string, error)
}

type shippingQuoter interface {
	Price(ctx context.Context, destinationCode string, weightKg int) ([]carrier.Rate, error)
}

type invoiceCreator interface {
	CreateInvoice(ctx context.Context, req xendit.InvoiceRequest) (*xendit.Invoice, error)
}

type stockStore interface {
	Lock(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) (map[uuid.UUID]models.Product, error)
	Snapshot(ctx context.Context, conn *gorm.DB, productIDs []uuid.UUID) (map[uuid.UUID]models.Product, error)
	Decrement(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

// Input is a checkout request. Lines falls back to the saved cart when empty.
type Input struct {
	CustomerID      uuid.UUID
	Lines           []helpers.Line
	Address         types.ShippingAddress
	ShippingCourier string
	ShippingService string
	PaymentChannel  enums.PaymentChannel
	InstallmentTerm int
}

type Result struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	PaymentURL  string    `json:"payment_url"`
	Total       int64     `json:"total"`
}

// Quote is the shipping estimate for a cart.
type Quote struct {
	WeightKg int            `json:"weight_kg"`
	Rates    []carrier.Rate `json:"rates"`
}

// Config tunes checkout behavior.
type Config struct {
	EnabledChannels []string
	MaxAttempts     int
	MinWeightKg     int
	Rates           pricing.Rates
}

// Deps groups the collaborators checkout needs.
type Deps struct {
	Tx        txRunner
	Orders    orders.Repository
	Cart      cart.Repository
	Customers customerLookup
	Stock     stockStore
	Outbox    outboxPublisher
	Routes    routeResolver
	Carrier   shippingQuoter
	Invoices  invoiceCreator
	Metrics   *metrics.OrderMetrics
	Logger    *logger.Logger
}

// Service places orders.
type Service struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// NewService builds the checkout service.
func NewService(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case deps.Cart == nil:
		return nil, fmt.Errorf("cart repository required")
	case deps.Customers == nil:
		return nil, fmt.Errorf("customer lookup required")
	case deps.Stock == nil:
		return nil, fmt.Errorf("stock store required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case deps.Routes == nil:
		return nil, fmt.Errorf("address directory required")
	case deps.Carrier == nil:
		return nil, fmt.Errorf("carrier client required")
	case deps.Invoices == nil:
		return nil, fmt.Errorf("invoice client required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Rates.RoundingUnit == 0 {
		cfg.Rates = pricing.DefaultRates()
	}
	return &Service{deps: deps, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}, nil
}

// PlaceOrder converts the requested lines into a pending order with a hosted
// invoice. Stock, the order, the cart cleanup and the outbox rows commit
// together; when the invoice cannot be created nothing is kept.
func (s *Service) PlaceOrder(ctx context.Context, in Input) (*Result, error) {
	if in.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing")
	}
	if err := helpers.ValidateChannel(in.PaymentChannel, s.cfg.EnabledChannels); err != nil {
		return nil, err
	}
	if in.InstallmentTerm != 0 && !in.PaymentChannel.IsCard() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "installments are only available for card payments")
	}
	address := in.Address.Normalized()
	if err := address.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	if courier := strings.ToLower(strings.TrimSpace(in.ShippingCourier)); courier != carrier.Courier {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported courier %q", in.ShippingCourier))
	}
	service := strings.ToUpper(strings.TrimSpace(in.ShippingService))
	if service == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping service is required")
	}

	customer, err := s.deps.Customers.FindByID(ctx, in.CustomerID)
	if err != nil {
		return nil, err
	}
	if err := helpers.ValidateCustomer(customer); err != nil {
		return nil, err
	}

	lines, err := s.resolveLines(ctx, in.CustomerID, in.Lines)
	if err != nil {
		return nil, err
	}

	quote, err := s.quote(ctx, lines, address.PostalCode)
	if err != nil {
		return nil, err
	}
	rate, ok := findRate(quote.Rates, service)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("shipping service %s is not available for this address", service))
	}

	ctx = s.deps.Logger.WithFields(ctx, map[string]any{
		"customer_id":     in.CustomerID.String(),
		"payment_channel": string(in.PaymentChannel),
	})

	var result *Result
	for attempt := 1; ; attempt++ {
		result, err = s.placeOnce(ctx, in, customer, address, lines, service, rate.Price)
		if err == nil {
			break
		}
		if orders.IsDuplicateNumber(err) && attempt < s.cfg.MaxAttempts {
			s.deps.Logger.Warn(ctx, fmt.Sprintf("order number collision, retrying (attempt %d)", attempt))
			continue
		}
		if orders.IsDuplicateNumber(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "could not allocate an order number, please try again")
		}
		return nil, err
	}

	s.deps.Metrics.OrderCreated(string(in.PaymentChannel))
	ctx = s.deps.Logger.WithOrder(ctx, result.OrderID.String(), result.OrderNumber)
	s.deps.Logger.Info(ctx, "order placed")
	return result, nil
}

func (s *Service) placeOnce(
	ctx context.Context,
	in Input,
	customer *models.Customer,
	address types.ShippingAddress,
	lines []helpers.Line,
	service string,
	shippingCost int64,
) (*Result, error) {
	var result *Result
	err := s.deps.Tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		locked, err := s.deps.Stock.Lock(ctx, tx, helpers.ProductIDs(lines))
		if err != nil {
			return err
		}

		priced := make([]pricing.Line, 0, len(lines))
		for _, line := range lines {
			product, ok := locked[line.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", line.ProductID))
			}
			if err := inventory.CheckAvailable(product, line.Quantity); err != nil {
				return err
			}
			priced = append(priced, pricing.LineFromProduct(product, line.Quantity))
		}

		breakdown, err := pricing.Compute(pricing.Input{
			Lines:           priced,
			ShippingCost:    shippingCost,
			Channel:         in.PaymentChannel,
			InstallmentTerm: in.InstallmentTerm,
			Now:             now,
		}, s.cfg.Rates)
		if err != nil {
			return err
		}

		for _, line := range lines {
			if err := s.deps.Stock.Decrement(ctx, tx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}

		ordersRepo := s.deps.Orders.WithTx(tx)
		number, err := ordersRepo.NextNumber(ctx, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate order number")
		}

		order := buildOrder(in, address, service, number, breakdown)
		if err := ordersRepo.Create(ctx, order); err != nil {
			if orders.IsDuplicateNumber(err) {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		if err := s.deps.Cart.WithTx(tx).RemoveProducts(ctx, in.CustomerID, helpers.ProductIDs(lines)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}

		if err := s.deps.Outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: &in.CustomerID, Role: string(enums.MemberRoleCustomer)},
			OccurredAt:    now,
			Data: payloads.OrderCreatedEvent{
				OrderID:        order.ID,
				OrderNumber:    order.OrderNumber,
				CustomerID:     order.CustomerID,
				Total:          order.Total,
				PaymentChannel: order.PaymentChannel,
				ItemCount:      len(order.Items),
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created")
		}

		invoice, err := s.deps.Invoices.CreateInvoice(ctx, invoiceRequest(order, customer, breakdown))
		if err != nil {
			s.deps.Logger.Error(ctx, "create invoice failed", err)
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway unavailable, please try again")
		}
		if err := ordersRepo.UpdateFields(ctx, order.ID, map[string]any{
			"invoice_id":  invoice.ID,
			"invoice_url": invoice.InvoiceURL,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store invoice")
		}

		result = &Result{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			PaymentURL:  invoice.InvoiceURL,
			Total:       order.Total,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// QuoteShipping prices every carrier service for the customer's lines.
func (s *Service) QuoteShipping(ctx context.Context, customerID uuid.UUID, lines []helpers.Line, postalCode string) (*Quote, error) {
	resolved, err := s.resolveLines(ctx, customerID, lines)
	if err != nil {
		return nil, err
	}
	return s.quote(ctx, resolved, postalCode)
}

func (s *Service) quote(ctx context.Context, lines []helpers.Line, postalCode string) (*Quote, error) {
	destination, err := s.deps.Routes.RoutingCode(ctx, postalCode)
	if err != nil {
		return nil, err
	}

	var products []models.Product
	if err := s.deps.Tx.WithTx(ctx, func(tx *gorm.DB) error {
		found, err := s.deps.Stock.Snapshot(ctx, tx, helpers.ProductIDs(lines))
		if err != nil {
			return err
		}
		for _, line := range lines {
			product, ok := found[line.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", line.ProductID))
			}
			products = append(products, product)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	grams := 0
	for i, line := range lines {
		grams += products[i].WeightGrams * line.Quantity
	}
	weight := carrier.ChargeableWeightKg(grams, s.cfg.MinWeightKg)

	rates, err := s.deps.Carrier.Price(ctx, destination, weight)
	if err != nil {
		return nil, err
	}
	return &Quote{WeightKg: weight, Rates: rates}, nil
}

func (s *Service) resolveLines(ctx context.Context, customerID uuid.UUID, lines []helpers.Line) ([]helpers.Line, error) {
	if len(lines) == 0 {
		saved, err := s.deps.Cart.Lines(ctx, customerID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		lines = helpers.LinesFromCart(saved)
	}
	return helpers.MergeLines(lines)
}

func findRate(rates []carrier.Rate, service string) (carrier.Rate, bool) {
	for _, rate := range rates {
		if strings.EqualFold(rate.ServiceCode, service) {
			return rate, true
		}
	}
	return carrier.Rate{}, false
}

func buildOrder(in Input, address types.ShippingAddress, service, number string, b pricing.Breakdown) *models.Order {
	order := &models.Order{
		ID:              uuid.New(),
		OrderNumber:     number,
		CustomerID:      in.CustomerID,
		Subtotal:        b.Subtotal,
		Discount:        b.Discount,
		ShippingCost:    b.ShippingCost,
		PaymentFee:      b.PaymentFee,
		AppFee:          b.AppFee,
		Total:           b.Total,
		ShippingCourier: carrier.Courier,
		ShippingService: service,
		PaymentChannel:  in.PaymentChannel,
		InstallmentTerm: in.InstallmentTerm,
		ShippingAddress: address,
		Status:          enums.OrderStatusPending,
		Items:           make([]models.OrderItem, 0, len(b.Lines)),
	}
	for _, line := range b.Lines {
		order.Items = append(order.Items, models.OrderItem{
			ProductID:   line.ProductID,
			ProductName: line.Name,
			Price:       line.UnitPrice,
			Quantity:    line.Quantity,
			Subtotal:    line.Subtotal,
			WeightGrams: line.WeightGrams,
		})
	}
	return order
}

func invoiceRequest(order *models.Order, customer *models.Customer, b pricing.Breakdown) xendit.InvoiceRequest {
	items := make([]xendit.Item, 0, len(b.Lines))
	for _, line := range b.Lines {
		items = append(items, xendit.Item{Name: line.Name, Quantity: line.Quantity, Price: line.UnitPrice})
	}
	fees := []xendit.Fee{
		{Type: "Shipping", Value: b.ShippingCost},
		{Type: "Payment Fee", Value: b.PaymentFee},
	}
	if rounding := b.Total - b.Subtotal - b.ShippingCost - b.PaymentFee; rounding > 0 {
		fees = append(fees, xendit.Fee{Type: "Rounding", Value: rounding})
	}
	phone := ""
	if customer.Phone != nil {
		phone = *customer.Phone
	}
	return xendit.InvoiceRequest{
		ExternalID:      order.OrderNumber,
		Amount:          order.Total,
		Description:     "Order " + order.OrderNumber,
		Customer:        xendit.Customer{Name: customer.Name, Email: customer.Email, Phone: phone},
		Items:           items,
		Fees:            fees,
		PaymentMethods:  []string{string(order.PaymentChannel)},
		InstallmentTerm: order.InstallmentTerm,
	}
}
