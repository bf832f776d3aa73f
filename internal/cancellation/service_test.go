package cancellation

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/internal/inventory"
	"github.com/angelmondragon/ordercore/internal/orders"
	"github.com/angelmondragon/ordercore/internal/testsupport"
	"github.com/angelmondragon/ordercore/pkg/db"
	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
	"github.com/angelmondragon/ordercore/pkg/logger"
	"github.com/angelmondragon/ordercore/pkg/outbox"
)

type stubInvoices struct {
	expired []string
	err     error
}

func (s *stubInvoices) ExpireInvoice(_ context.Context, id string) error {
	s.expired = append(s.expired, id)
	return s.err
}

func newTestService(t *testing.T) (*Service, *stubInvoices, *gorm.DB) {
	t.Helper()
	conn := testsupport.OpenSQLite(t, "cancellation")
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	stock, err := inventory.NewStore(emitter)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	repo := orders.NewRepository(conn)
	ledger, err := orders.NewService(repo, db.Wrap(conn), emitter, stock, nil, logg)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	invoices := &stubInvoices{}
	ledger.SetInvoiceExpirer(invoices)
	svc, err := NewService(db.Wrap(conn), repo, ledger, logg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, invoices, conn
}

func withInvoice(o *models.Order) {
	id := "inv_1"
	o.InvoiceID = &id
}

func TestRequestCancellation(t *testing.T) {
	svc, _, conn := newTestService(t)
	ctx := context.Background()
	owner := uuid.New()
	order := testsupport.SeedOrder(t, conn, owner, "ORD-20260310-00001", enums.OrderStatusPending, nil, nil)

	if _, err := svc.Request(ctx, owner, order.ID, "  "); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for blank reason, got %v", err)
	}
	if _, err := svc.Request(ctx, owner, order.ID, strings.Repeat("x", 501)); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for long reason, got %v", err)
	}
	if _, err := svc.Request(ctx, uuid.New(), order.ID, "changed my mind"); !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for another customer, got %v", err)
	}

	updated, err := svc.Request(ctx, owner, order.ID, " changed my mind ")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if updated.Status != enums.OrderStatusCancellationRequested {
		t.Fatalf("unexpected status %s", updated.Status)
	}
	reloaded := testsupport.ReloadOrder(t, conn, order.ID)
	if reloaded.CancellationReason == nil || *reloaded.CancellationReason != "changed my mind" {
		t.Fatalf("reason not stored: %v", reloaded.CancellationReason)
	}
}

func TestRequestCancellationOnlyFromPending(t *testing.T) {
	svc, _, conn := newTestService(t)
	owner := uuid.New()
	order := testsupport.SeedOrder(t, conn, owner, "ORD-20260310-00001", enums.OrderStatusProcessing, nil, nil)

	_, err := svc.Request(context.Background(), owner, order.ID, "too slow")
	if !pkgerrors.Is(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if typed := pkgerrors.As(err); typed.Message() != "only pending orders can be cancelled" {
		t.Fatalf("unexpected message %q", typed.Message())
	}
}

func TestApproveRestoresStockAndExpiresInvoice(t *testing.T) {
	svc, invoices, conn := newTestService(t)
	invoices.err = errors.New("gateway down")
	a := testsupport.SeedProduct(t, conn, "a", 10000, 1, testsupport.CrossList("tp-a", "sku-a"))
	b := testsupport.SeedProduct(t, conn, "b", 10000, 0, nil)
	order := testsupport.SeedOrder(t, conn, uuid.New(), "ORD-20260310-00001", enums.OrderStatusCancellationRequested,
		map[*models.Product]int{&a: 2, &b: 1}, withInvoice)

	updated, err := svc.Approve(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if updated.Status != enums.OrderStatusCancelled || updated.CancelledAt == nil {
		t.Fatalf("unexpected order %+v", updated)
	}
	if testsupport.Stock(t, conn, a.ID) != 3 || testsupport.Stock(t, conn, b.ID) != 1 {
		t.Fatal("stock not restored")
	}
	if n := testsupport.CountEvents(t, conn, enums.EventStockChanged); n != 1 {
		t.Fatalf("expected one stock push for the cross-listed product, got %d", n)
	}
	if len(invoices.expired) != 1 || invoices.expired[0] != "inv_1" {
		t.Fatalf("invoice expiry not attempted: %v", invoices.expired)
	}
}

func TestApproveRequiresRequest(t *testing.T) {
	svc, invoices, conn := newTestService(t)
	order := testsupport.SeedOrder(t, conn, uuid.New(), "ORD-20260310-00001", enums.OrderStatusPending, nil, withInvoice)

	if _, err := svc.Approve(context.Background(), order.ID); !pkgerrors.Is(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if len(invoices.expired) != 0 {
		t.Fatal("invoice must not be expired")
	}
	if _, err := svc.Approve(context.Background(), uuid.New()); !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRejectClearsReason(t *testing.T) {
	svc, _, conn := newTestService(t)
	product := testsupport.SeedProduct(t, conn, "a", 10000, 4, nil)
	order := testsupport.SeedOrder(t, conn, uuid.New(), "ORD-20260310-00001", enums.OrderStatusCancellationRequested,
		map[*models.Product]int{&product: 2}, func(o *models.Order) {
			reason := "wrong size"
			o.CancellationReason = &reason
		})

	updated, err := svc.Reject(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if updated.Status != enums.OrderStatusPending || updated.CancellationReason != nil {
		t.Fatalf("unexpected order %+v", updated)
	}
	reloaded := testsupport.ReloadOrder(t, conn, order.ID)
	if reloaded.CancellationReason != nil {
		t.Fatalf("reason should be cleared, got %q", *reloaded.CancellationReason)
	}
	if testsupport.Stock(t, conn, product.ID) != 4 {
		t.Fatal("stock must not change on reject")
	}
}
