package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOrderMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetrics(reg)
	m.OrderCreated("BCA")
	m.OrderCreated("BCA")
	m.Transition("pending", "processing")
	m.StockPush("pushed")
	m.Reconciled("corrected", 3)
	m.Reconciled("unchanged", 0)
	m.Webhook("PAID", "applied")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "ordercore_orders_created_total", "channel", "BCA"); err != nil || got != 2 {
		t.Fatalf("expected 2 created orders, got %v (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "ordercore_order_transitions_total", "to", "processing"); err != nil || got != 1 {
		t.Fatalf("expected 1 transition, got %v (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "ordercore_reconciliation_products_total", "outcome", "corrected"); err != nil || got != 3 {
		t.Fatalf("expected 3 corrections, got %v (%v)", got, err)
	}
	if _, err := fetchCounterValue(mfs, "ordercore_reconciliation_products_total", "outcome", "unchanged"); err == nil {
		t.Fatalf("zero-count observations should not create a series")
	}
}

func TestNilOrderMetricsIsNoop(t *testing.T) {
	var m *OrderMetrics
	m.OrderCreated("BCA")
	m.Transition("a", "b")
	m.StockPush("failed")
	m.Reconciled("corrected", 1)
	m.Webhook("PAID", "applied")
}
