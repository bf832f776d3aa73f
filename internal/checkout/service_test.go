package checkout

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/internal/address"
	"github.com/angelmondragon/ordercore/internal/cart"
	"github.com/angelmondragon/ordercore/internal/checkout/helpers"
	"github.com/angelmondragon/ordercore/internal/customers"
	"github.com/angelmondragon/ordercore/internal/inventory"
	"github.com/angelmondragon/ordercore/internal/orders"
	"github.com/angelmondragon/ordercore/internal/testsupport"
	"github.com/angelmondragon/ordercore/pkg/carrier"
	"github.com/angelmondragon/ordercore/pkg/db"
	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
	"github.com/angelmondragon/ordercore/pkg/logger"
	"github.com/angelmondragon/ordercore/pkg/outbox"
	"github.com/angelmondragon/ordercore/pkg/xendit"
)

type stubCarrier struct {
	mu       sync.Mutex
	rates    []carrier.Rate
	err      error
	lastDest string
	lastKg   int
}

func (s *stubCarrier) Price(_ context.Context, dest string, kg int) ([]carrier.Rate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDest, s.lastKg = dest, kg
	return s.rates, s.err
}

type stubInvoices struct {
	mu       sync.Mutex
	requests []xendit.InvoiceRequest
	err      error
}

func (s *stubInvoices) CreateInvoice(_ context.Context, req xendit.InvoiceRequest) (*xendit.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &xendit.Invoice{ID: "inv_" + req.ExternalID, InvoiceURL: "https://checkout.example/" + req.ExternalID}, nil
}

// collidingRepo hands out an already-used order number on the first call.
type collidingRepo struct {
	orders.Repository
	taken string
	calls *int
}

func (r collidingRepo) WithTx(tx *gorm.DB) orders.Repository {
	return collidingRepo{Repository: r.Repository.WithTx(tx), taken: r.taken, calls: r.calls}
}

func (r collidingRepo) NextNumber(ctx context.Context, day time.Time) (string, error) {
	*r.calls++
	if *r.calls == 1 {
		return r.taken, nil
	}
	return r.Repository.NextNumber(ctx, day)
}

type fixture struct {
	svc      *Service
	conn     *gorm.DB
	carrier  *stubCarrier
	invoices *stubInvoices
	customer models.Customer
}

func newFixture(t *testing.T, verified bool) *fixture {
	t.Helper()
	conn := testsupport.OpenSQLite(t, "checkout")
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	stock, err := inventory.NewStore(emitter)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	testsupport.SeedDestination(t, conn, "40111", "BDO10000")
	f := &fixture{
		conn:     conn,
		carrier:  &stubCarrier{rates: []carrier.Rate{{ServiceCode: "REG", Price: 15000}, {ServiceCode: "YES", Price: 30000}}},
		invoices: &stubInvoices{},
		customer: testsupport.SeedCustomer(t, conn, verified),
	}
	f.svc, err = NewService(Deps{
		Tx:        db.Wrap(conn),
		Orders:    orders.NewRepository(conn),
		Cart:      cart.NewRepository(conn),
		Customers: customers.NewRepository(conn),
		Stock:     stock,
		Outbox:    emitter,
		Routes:    address.NewDirectory(conn),
		Carrier:   f.carrier,
		Invoices:  f.invoices,
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	}, Config{MinWeightKg: 1})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return f
}

func (f *fixture) input(lines ...helpers.Line) Input {
	return Input{
		CustomerID:      f.customer.ID,
		Lines:           lines,
		Address:         testsupport.Address("40111"),
		ShippingCourier: "jne",
		ShippingService: "reg",
		PaymentChannel:  enums.PaymentChannelBCA,
	}
}

func countOrders(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := conn.Model(&models.Order{}).Count(&n).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	return n
}

func TestPlaceOrderVirtualAccount(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	product := testsupport.SeedProduct(t, f.conn, "kopi", 49750, 5, testsupport.CrossList("tp-1", "sku-1"))
	if err := f.conn.Create(&models.CartItem{CustomerID: f.customer.ID, ProductID: product.ID, Quantity: 2}).Error; err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	res, err := f.svc.PlaceOrder(ctx, f.input(helpers.Line{ProductID: product.ID, Quantity: 2}))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if res.Total != 119000 {
		t.Fatalf("expected total 119000, got %d", res.Total)
	}
	if res.PaymentURL == "" {
		t.Fatal("expected payment url")
	}
	if f.carrier.lastDest != "BDO10000" || f.carrier.lastKg != 1 {
		t.Fatalf("unexpected carrier quote dest=%s kg=%d", f.carrier.lastDest, f.carrier.lastKg)
	}

	order := testsupport.ReloadOrder(t, f.conn, res.OrderID)
	if order.Status != enums.OrderStatusPending || order.OrderNumber != res.OrderNumber {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.InvoiceID == nil || *order.InvoiceID != "inv_"+res.OrderNumber {
		t.Fatalf("invoice id not stored: %v", order.InvoiceID)
	}
	if order.ShippingCost != 15000 || order.PaymentFee != 4440 || order.ShippingService != "REG" {
		t.Fatalf("unexpected pricing columns %+v", order)
	}
	if got := testsupport.Stock(t, f.conn, product.ID); got != 3 {
		t.Fatalf("expected stock 3, got %d", got)
	}

	var cartCount int64
	f.conn.Model(&models.CartItem{}).Where("customer_id = ?", f.customer.ID).Count(&cartCount)
	if cartCount != 0 {
		t.Fatalf("expected cart cleared, %d lines left", cartCount)
	}
	if n := testsupport.CountEvents(t, f.conn, enums.EventOrderCreated); n != 1 {
		t.Fatalf("expected order_created event, got %d", n)
	}
	if n := testsupport.CountEvents(t, f.conn, enums.EventStockChanged); n != 1 {
		t.Fatalf("expected stock_changed event, got %d", n)
	}

	req := f.invoices.requests[0]
	if req.ExternalID != res.OrderNumber || req.Amount != 119000 {
		t.Fatalf("unexpected invoice request %+v", req)
	}
	var fees int64
	for _, fee := range req.Fees {
		fees += fee.Value
	}
	if fees+99500 != req.Amount {
		t.Fatalf("invoice lines do not add up: fees=%d", fees)
	}
}

func TestPlaceOrderUsesSavedCartWhenNoLines(t *testing.T) {
	f := newFixture(t, true)
	product := testsupport.SeedProduct(t, f.conn, "teh", 20000, 5, nil)
	for _, qty := range []int{1, 2} {
		if err := f.conn.Create(&models.CartItem{CustomerID: f.customer.ID, ProductID: product.ID, Quantity: qty}).Error; err != nil {
			t.Fatalf("seed cart: %v", err)
		}
	}

	res, err := f.svc.PlaceOrder(context.Background(), f.input())
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if got := testsupport.Stock(t, f.conn, product.ID); got != 2 {
		t.Fatalf("expected merged cart lines to take 3 units, stock %d", got)
	}
	order := testsupport.ReloadOrder(t, f.conn, res.OrderID)
	if order.Subtotal != 60000 {
		t.Fatalf("unexpected subtotal %d", order.Subtotal)
	}
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	f := newFixture(t, true)
	a := testsupport.SeedProduct(t, f.conn, "a", 10000, 5, nil)
	b := testsupport.SeedProduct(t, f.conn, "last-unit", 10000, 1, nil)

	_, err := f.svc.PlaceOrder(context.Background(), f.input(
		helpers.Line{ProductID: a.ID, Quantity: 1},
		helpers.Line{ProductID: b.ID, Quantity: 2},
	))
	if !pkgerrors.Is(err, pkgerrors.CodeOutOfStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if typed := pkgerrors.As(err); typed.Message() != "insufficient stock for last-unit" {
		t.Fatalf("error should name the product: %q", typed.Message())
	}
	if countOrders(t, f.conn) != 0 {
		t.Fatal("no order should be created")
	}
	if testsupport.Stock(t, f.conn, a.ID) != 5 || testsupport.Stock(t, f.conn, b.ID) != 1 {
		t.Fatal("stock must be untouched")
	}
	if len(f.invoices.requests) != 0 {
		t.Fatal("invoice must not be requested")
	}
}

func TestPlaceOrderInvoiceFailureRollsBack(t *testing.T) {
	f := newFixture(t, true)
	f.invoices.err = errors.New("gateway timeout")
	product := testsupport.SeedProduct(t, f.conn, "kopi", 10000, 5, testsupport.CrossList("tp-1", "sku-1"))

	_, err := f.svc.PlaceOrder(context.Background(), f.input(helpers.Line{ProductID: product.ID, Quantity: 2}))
	if !pkgerrors.Is(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if typed := pkgerrors.As(err); typed.Message() != "payment gateway unavailable, please try again" {
		t.Fatalf("unexpected message %q", typed.Message())
	}
	if got := testsupport.Stock(t, f.conn, product.ID); got != 5 {
		t.Fatalf("stock decrement must roll back, got %d", got)
	}
	if countOrders(t, f.conn) != 0 {
		t.Fatal("order must roll back")
	}
	if n := testsupport.CountEvents(t, f.conn, enums.EventStockChanged); n != 0 {
		t.Fatalf("outbox rows must roll back, got %d", n)
	}
}

func TestPlaceOrderRetriesNumberCollision(t *testing.T) {
	f := newFixture(t, true)
	product := testsupport.SeedProduct(t, f.conn, "kopi", 10000, 5, nil)
	taken := testsupport.SeedOrder(t, f.conn, uuid.New(), "ORD-20000101-00001", enums.OrderStatusPending, nil, nil)

	calls := 0
	f.svc.deps.Orders = collidingRepo{Repository: orders.NewRepository(f.conn), taken: taken.OrderNumber, calls: &calls}

	res, err := f.svc.PlaceOrder(context.Background(), f.input(helpers.Line{ProductID: product.ID, Quantity: 1}))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected a retry, NextNumber called %d times", calls)
	}
	if res.OrderNumber == taken.OrderNumber {
		t.Fatal("retry reused the taken number")
	}
	if got := testsupport.Stock(t, f.conn, product.ID); got != 4 {
		t.Fatalf("expected exactly one decrement, stock %d", got)
	}
	if len(f.invoices.requests) != 1 {
		t.Fatalf("expected one invoice, got %d", len(f.invoices.requests))
	}
}

func TestPlaceOrderPreconditions(t *testing.T) {
	f := newFixture(t, false)
	product := testsupport.SeedProduct(t, f.conn, "kopi", 10000, 5, nil)
	line := helpers.Line{ProductID: product.ID, Quantity: 1}
	ctx := context.Background()

	if _, err := f.svc.PlaceOrder(ctx, f.input(line)); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("unverified phone: expected validation error, got %v", err)
	}

	verified := newFixture(t, true)
	p2 := testsupport.SeedProduct(t, verified.conn, "kopi", 10000, 5, nil)
	line = helpers.Line{ProductID: p2.ID, Quantity: 1}

	cases := map[string]func(*Input){
		"empty cart":       func(in *Input) { in.Lines = nil },
		"missing address":  func(in *Input) { in.Address.Line1 = "" },
		"bad courier":      func(in *Input) { in.ShippingCourier = "pos" },
		"unknown service":  func(in *Input) { in.ShippingService = "OKE" },
		"unknown channel":  func(in *Input) { in.PaymentChannel = "GOPAY" },
		"va installments":  func(in *Input) { in.InstallmentTerm = 3 },
		"unknown postcode": func(in *Input) { in.Address.PostalCode = "99999" },
	}
	for name, mutate := range cases {
		in := verified.input(line)
		mutate(&in)
		if _, err := verified.svc.PlaceOrder(ctx, in); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	if countOrders(t, verified.conn) != 0 {
		t.Fatal("no order should be created")
	}
}

func TestQuoteShipping(t *testing.T) {
	f := newFixture(t, true)
	product := testsupport.SeedProduct(t, f.conn, "beras", 60000, 5, func(p *models.Product) { p.WeightGrams = 2600 })

	quote, err := f.svc.QuoteShipping(context.Background(), f.customer.ID, []helpers.Line{{ProductID: product.ID, Quantity: 2}}, "40111")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.WeightKg != 6 || len(quote.Rates) != 2 {
		t.Fatalf("unexpected quote %+v", quote)
	}

	if _, err := f.svc.QuoteShipping(context.Background(), f.customer.ID, []helpers.Line{{ProductID: uuid.New(), Quantity: 1}}, "40111"); !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentCheckoutsForLastUnit(t *testing.T) {
	f := newFixture(t, true)
	sqlDB, err := f.conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection makes the two transactions queue behind each other.
	sqlDB.SetMaxOpenConns(1)
	product := testsupport.SeedProduct(t, f.conn, "last-unit", 30000, 1, nil)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	start := make(chan struct{})
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.PlaceOrder(context.Background(), f.input(helpers.Line{ProductID: product.ID, Quantity: 1}))
		}(i)
	}
	close(start)
	wg.Wait()

	var placed, rejected int
	for i, err := range errs {
		switch {
		case err == nil:
			placed++
		case pkgerrors.Is(err, pkgerrors.CodeOutOfStock):
			rejected++
		default:
			t.Fatalf("checkout %d: unexpected error %v", i, err)
		}
	}
	if placed != 1 || rejected != 1 {
		t.Fatalf("expected one order and one rejection, got placed=%d rejected=%d", placed, rejected)
	}
	if got := testsupport.Stock(t, f.conn, product.ID); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
	if n := countOrders(t, f.conn); n != 1 {
		t.Fatalf("expected one order, got %d", n)
	}
	if len(f.invoices.requests) != 1 {
		t.Fatalf("expected one invoice, got %d", len(f.invoices.requests))
	}
}
