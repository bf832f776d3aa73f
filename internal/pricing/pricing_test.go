package pricing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ordercore/pkg/config"
	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestComputeVirtualAccountScenario(t *testing.T) {
	in := Input{
		Lines: []Line{
			{ProductID: uuid.New(), Name: "kopi", Price: 49750, Quantity: 2, WeightGrams: 250},
		},
		ShippingCost: 15000,
		Channel:      enums.PaymentChannelBCA,
		Now:          now,
	}
	got, err := Compute(in, DefaultRates())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got.Subtotal != 99500 {
		t.Fatalf("subtotal = %d", got.Subtotal)
	}
	if got.PaymentFee != 4440 {
		t.Fatalf("payment fee = %d", got.PaymentFee)
	}
	if got.Total != 119000 {
		t.Fatalf("total = %d", got.Total)
	}
	if got.AppFee != 995 {
		t.Fatalf("app fee = %d", got.AppFee)
	}
	if got.WeightGrams != 500 {
		t.Fatalf("weight = %d", got.WeightGrams)
	}
}

func TestComputeCardFees(t *testing.T) {
	cases := []struct {
		name     string
		subtotal int64
		term     int
		fee      int64
		total    int64
	}{
		{"one-off", 100000, 0, 5659, 106000},
		{"three months", 50000, 3, 5215, 56000},
		{"six months", 100000, 6, 10210, 111000},
		{"twelve months rounds half up", 500, 12, 2496, 3000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Compute(Input{
				Lines:           []Line{{Name: "x", Price: tc.subtotal, Quantity: 1}},
				Channel:         enums.PaymentChannelCreditCard,
				InstallmentTerm: tc.term,
				Now:             now,
			}, DefaultRates())
			if err != nil {
				t.Fatalf("compute: %v", err)
			}
			if got.PaymentFee != tc.fee {
				t.Fatalf("fee = %d, want %d", got.PaymentFee, tc.fee)
			}
			if got.Total != tc.total {
				t.Fatalf("total = %d, want %d", got.Total, tc.total)
			}
		})
	}
}

func TestComputeRejectsBadInput(t *testing.T) {
	rates := DefaultRates()
	line := []Line{{Name: "x", Price: 1000, Quantity: 1}}

	cases := map[string]Input{
		"empty":           {Channel: enums.PaymentChannelBCA, Now: now},
		"zero quantity":   {Lines: []Line{{Name: "x", Price: 1000}}, Channel: enums.PaymentChannelBCA, Now: now},
		"unknown channel": {Lines: line, Channel: "OVO", Now: now},
		"bad term":        {Lines: line, Channel: enums.PaymentChannelCreditCard, InstallmentTerm: 9, Now: now},
		"va installments": {Lines: line, Channel: enums.PaymentChannelBNI, InstallmentTerm: 3, Now: now},
		"negative ship":   {Lines: line, Channel: enums.PaymentChannelBNI, ShippingCost: -1, Now: now},
	}
	for name, in := range cases {
		if _, err := Compute(in, rates); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestEffectiveUnitPrice(t *testing.T) {
	base := Line{Price: 10000, DiscountPrice: ptr(int64(8000)), DiscountEnabled: true, DiscountActive: true}

	if got := base.EffectiveUnitPrice(now); got != 8000 {
		t.Fatalf("unbounded discount: got %d", got)
	}

	future := base
	future.DiscountStartsAt = ptr(now.Add(time.Hour))
	if got := future.EffectiveUnitPrice(now); got != 10000 {
		t.Fatalf("not started: got %d", got)
	}

	ended := base
	ended.DiscountEndsAt = ptr(now.Add(-time.Hour))
	if got := ended.EffectiveUnitPrice(now); got != 10000 {
		t.Fatalf("ended: got %d", got)
	}

	inactive := base
	inactive.DiscountActive = false
	if got := inactive.EffectiveUnitPrice(now); got != 10000 {
		t.Fatalf("inactive: got %d", got)
	}

	window := base
	window.DiscountStartsAt = ptr(now)
	window.DiscountEndsAt = ptr(now)
	if got := window.EffectiveUnitPrice(now); got != 8000 {
		t.Fatalf("inclusive bounds: got %d", got)
	}
}

func TestComputeDiscountIsInformational(t *testing.T) {
	got, err := Compute(Input{
		Lines: []Line{
			{Name: "a", Price: 10000, DiscountPrice: ptr(int64(7500)), DiscountEnabled: true, DiscountActive: true, Quantity: 2},
			{Name: "b", Price: 5000, Quantity: 1},
		},
		Channel: enums.PaymentChannelMandiri,
		Now:     now,
	}, DefaultRates())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got.Subtotal != 20000 || got.Discount != 5000 {
		t.Fatalf("subtotal=%d discount=%d", got.Subtotal, got.Discount)
	}
	if got.Lines[0].UnitPrice != 7500 || got.Lines[0].Subtotal != 15000 {
		t.Fatalf("unexpected priced line %+v", got.Lines[0])
	}
	if got.Total != 25000 {
		t.Fatalf("total = %d", got.Total)
	}
}

func TestRatesFromConfig(t *testing.T) {
	rates, err := RatesFromConfig(config.PricingConfig{
		VirtualAccountFee: 5000,
		CardFixedFee:      2000,
		TaxRate:           "0.11",
		AppFeeRate:        "0.01",
		RoundingUnit:      500,
	})
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	fee, err := PaymentFee(decimal.NewFromInt(1000), enums.PaymentChannelPermata, 0, rates)
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	if fee.IntPart() != 5550 {
		t.Fatalf("fee = %s", fee)
	}

	if _, err := RatesFromConfig(config.PricingConfig{TaxRate: "abc", AppFeeRate: "0.01", RoundingUnit: 1000}); err == nil {
		t.Fatal("expected invalid tax rate error")
	}
	if _, err := RatesFromConfig(config.PricingConfig{TaxRate: "0.11", AppFeeRate: "0.01"}); err == nil {
		t.Fatal("expected rounding unit error")
	}
}
