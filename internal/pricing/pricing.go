package pricing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ordercore/pkg/config"
	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
)

// Rates holds the fee schedule. Amounts are whole currency units.
type Rates struct {
	VirtualAccountFee decimal.Decimal
	CardFixedFee      decimal.Decimal
	TaxRate           decimal.Decimal
	AppFeeRate        decimal.Decimal
	RoundingUnit      int64
	// CardRates maps an installment term in months to the percentage charged
	// on the subtotal. Term 0 is a one-off card payment.
	CardRates map[int]decimal.Decimal
}

// DefaultRates is the production fee schedule.
func DefaultRates() Rates {
	return Rates{
		VirtualAccountFee: decimal.NewFromInt(4000),
		CardFixedFee:      decimal.NewFromInt(2000),
		TaxRate:           decimal.RequireFromString("0.11"),
		AppFeeRate:        decimal.RequireFromString("0.01"),
		RoundingUnit:      1000,
		CardRates:         defaultCardRates(),
	}
}

func defaultCardRates() map[int]decimal.Decimal {
	return map[int]decimal.Decimal{
		0:  decimal.RequireFromString("0.029"),
		3:  decimal.RequireFromString("0.05"),
		6:  decimal.RequireFromString("0.07"),
		12: decimal.RequireFromString("0.10"),
	}
}

// RatesFromConfig builds Rates from environment configuration.
func RatesFromConfig(cfg config.PricingConfig) (Rates, error) {
	tax, err := decimal.NewFromString(cfg.TaxRate)
	if err != nil {
		return Rates{}, fmt.Errorf("invalid tax rate %q: %w", cfg.TaxRate, err)
	}
	appFee, err := decimal.NewFromString(cfg.AppFeeRate)
	if err != nil {
		return Rates{}, fmt.Errorf("invalid app fee rate %q: %w", cfg.AppFeeRate, err)
	}
	if cfg.RoundingUnit <= 0 {
		return Rates{}, fmt.Errorf("rounding unit must be positive")
	}
	return Rates{
		VirtualAccountFee: decimal.NewFromInt(cfg.VirtualAccountFee),
		CardFixedFee:      decimal.NewFromInt(cfg.CardFixedFee),
		TaxRate:           tax,
		AppFeeRate:        appFee,
		RoundingUnit:      cfg.RoundingUnit,
		CardRates:         defaultCardRates(),
	}, nil
}

// Line is one cart line priced against the product row read at checkout.
type Line struct {
	ProductID        uuid.UUID
	Name             string
	Price            int64
	DiscountPrice    *int64
	DiscountEnabled  bool
	DiscountActive   bool
	DiscountStartsAt *time.Time
	DiscountEndsAt   *time.Time
	Quantity         int
	WeightGrams      int
}

// LineFromProduct snapshots the pricing columns of a product.
func LineFromProduct(p models.Product, qty int) Line {
	return Line{
		ProductID:        p.ID,
		Name:             p.Name,
		Price:            p.Price,
		DiscountPrice:    p.DiscountPrice,
		DiscountEnabled:  p.DiscountEnabled,
		DiscountActive:   p.DiscountActive,
		DiscountStartsAt: p.DiscountStartsAt,
		DiscountEndsAt:   p.DiscountEndsAt,
		Quantity:         qty,
		WeightGrams:      p.WeightGrams,
	}
}

// EffectiveUnitPrice returns the discount price when the discount is enabled,
// active and inside its window at now. A missing bound is unbounded.
func (l Line) EffectiveUnitPrice(now time.Time) int64 {
	if l.DiscountPrice == nil || !l.DiscountEnabled || !l.DiscountActive {
		return l.Price
	}
	if l.DiscountStartsAt != nil && now.Before(*l.DiscountStartsAt) {
		return l.Price
	}
	if l.DiscountEndsAt != nil && now.After(*l.DiscountEndsAt) {
		return l.Price
	}
	return *l.DiscountPrice
}

type Input struct {
	Lines           []Line
	ShippingCost    int64
	Channel         enums.PaymentChannel
	InstallmentTerm int
	Now             time.Time
}

type PricedLine struct {
	Line
	UnitPrice int64
	Subtotal  int64
}

type Breakdown struct {
	Lines        []PricedLine
	Subtotal     int64
	Discount     int64
	ShippingCost int64
	PaymentFee   int64
	AppFee       int64
	Total        int64
	WeightGrams  int
}

// Compute prices an order. It is pure: the same input and rates always give
// the same breakdown.
func Compute(in Input, rates Rates) (Breakdown, error) {
	if len(in.Lines) == 0 {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	if in.ShippingCost < 0 {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "shipping cost cannot be negative")
	}
	if rates.RoundingUnit <= 0 {
		rates.RoundingUnit = 1
	}

	out := Breakdown{ShippingCost: in.ShippingCost, Lines: make([]PricedLine, 0, len(in.Lines))}
	subtotal := decimal.Zero
	standard := decimal.Zero
	for _, line := range in.Lines {
		if line.Quantity <= 0 {
			return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity for %s must be positive", line.Name))
		}
		qty := decimal.NewFromInt(int64(line.Quantity))
		unit := line.EffectiveUnitPrice(in.Now)
		lineTotal := decimal.NewFromInt(unit).Mul(qty)
		subtotal = subtotal.Add(lineTotal)
		standard = standard.Add(decimal.NewFromInt(line.Price).Mul(qty))
		out.WeightGrams += line.WeightGrams * line.Quantity
		out.Lines = append(out.Lines, PricedLine{Line: line, UnitPrice: unit, Subtotal: lineTotal.IntPart()})
	}

	fee, err := PaymentFee(subtotal, in.Channel, in.InstallmentTerm, rates)
	if err != nil {
		return Breakdown{}, err
	}

	out.Subtotal = subtotal.IntPart()
	out.Discount = standard.Sub(subtotal).IntPart()
	out.AppFee = subtotal.Mul(rates.AppFeeRate).Round(0).IntPart()
	out.PaymentFee = fee.IntPart()

	unit := decimal.NewFromInt(rates.RoundingUnit)
	gross := subtotal.Add(fee).Add(decimal.NewFromInt(in.ShippingCost))
	out.Total = gross.Div(unit).Ceil().Mul(unit).IntPart()
	return out, nil
}

// PaymentFee returns the gateway fee for a channel, rounded half-up to a
// whole unit. Card fees carry an 11% surtax on the base and a separate admin
// tax on the fixed fee.
func PaymentFee(subtotal decimal.Decimal, channel enums.PaymentChannel, term int, rates Rates) (decimal.Decimal, error) {
	if !channel.IsValid() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported payment channel %q", channel))
	}
	if !channel.IsCard() {
		if term != 0 {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "installments are only available for card payments")
		}
		va := rates.VirtualAccountFee
		return va.Add(va.Mul(rates.TaxRate)).Round(0), nil
	}

	rate, ok := rates.CardRates[term]
	if !ok {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported installment term %d", term))
	}
	base := subtotal.Mul(rate).Add(rates.CardFixedFee)
	surtax := base.Mul(rates.TaxRate)
	adminTax := rates.CardFixedFee.Mul(rates.TaxRate)
	return base.Add(surtax).Add(adminTax).Round(0), nil
}
