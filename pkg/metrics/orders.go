package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics counts order lifecycle and inventory sync outcomes.
type OrderMetrics struct {
	created        *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	stockPushes    *prometheus.CounterVec
	reconciliation *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
	waybills       *prometheus.CounterVec
}

// NewOrderMetrics registers the order metrics on the provided registerer.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	m := &OrderMetrics{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordercore_orders_created_total",
			Help: "Orders created by checkout, by payment channel.",
		}, []string{"channel"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordercore_order_transitions_total",
			Help: "Applied order status transitions.",
		}, []string{"from", "to"}),
		stockPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordercore_marketplace_stock_push_total",
			Help: "Stock pushes to the marketplace by result.",
		}, []string{"result"}),
		reconciliation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordercore_reconciliation_products_total",
			Help: "Products visited by marketplace reconciliation by outcome.",
		}, []string{"outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordercore_payment_webhooks_total",
			Help: "Payment notifications by status and result.",
		}, []string{"status", "result"}),
		waybills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordercore_waybill_generation_total",
			Help: "Waybill generation attempts by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.created, m.transitions, m.stockPushes, m.reconciliation, m.webhooks, m.waybills)
	return m
}

func (m *OrderMetrics) OrderCreated(channel string) {
	if m == nil || m.created == nil {
		return
	}
	m.created.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *OrderMetrics) Transition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// StockPush records "pushed", "skipped" or "failed".
func (m *OrderMetrics) StockPush(result string) {
	if m == nil || m.stockPushes == nil {
		return
	}
	m.stockPushes.WithLabelValues(normalizeLabel(result)).Inc()
}

// Reconciled records "corrected", "unchanged" or "unmapped" per product visited.
func (m *OrderMetrics) Reconciled(outcome string, n int) {
	if m == nil || m.reconciliation == nil || n <= 0 {
		return
	}
	m.reconciliation.WithLabelValues(normalizeLabel(outcome)).Add(float64(n))
}

func (m *OrderMetrics) Webhook(status, result string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(status), normalizeLabel(result)).Inc()
}

// Waybill records "generated", "existing" or "failed".
func (m *OrderMetrics) Waybill(result string) {
	if m == nil || m.waybills == nil {
		return
	}
	m.waybills.WithLabelValues(normalizeLabel(result)).Inc()
}
