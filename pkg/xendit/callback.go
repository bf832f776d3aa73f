package xendit

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice callback statuses.
const (
	StatusPending = "PENDING"
	StatusPaid    = "PAID"
	StatusSettled = "SETTLED"
	StatusExpired = "EXPIRED"
)

// InvoiceCallback is the body Xendit posts when an invoice changes status.
type InvoiceCallback struct {
	ID             string          `json:"id"`
	ExternalID     string          `json:"external_id"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	PaymentMethod  string          `json:"payment_method"`
	PaymentChannel string          `json:"payment_channel"`
	PaidAt         *time.Time      `json:"paid_at"`
}

// NormalizedStatus upper-cases and trims the status.
func (c InvoiceCallback) NormalizedStatus() string {
	return strings.ToUpper(strings.TrimSpace(c.Status))
}

// SettledAmount prefers paid_amount and falls back to amount for older
// payloads. Fractions are kept so they never match a whole-unit total.
func (c InvoiceCallback) SettledAmount() decimal.Decimal {
	if c.PaidAmount.IsPositive() {
		return c.PaidAmount
	}
	return c.Amount
}
