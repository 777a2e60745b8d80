// Package billing computes invoice totals and derives payment and invoicing
// statuses. Everything here is pure; the procurement and sales services call
// into it from inside their own transactions so the same arithmetic runs at
// create and at edit.
package billing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places for money amounts.
const MoneyScale = 2

// TaxMode selects how the tax amount is obtained.
type TaxMode string

const (
	// TaxPerLine sums tax amounts captured per line at receipt time
	// (supplier invoices).
	TaxPerLine TaxMode = "per_line"
	// TaxOnSubtotal applies a single rate to the discounted subtotal
	// (sales invoices).
	TaxOnSubtotal TaxMode = "on_subtotal"
)

var (
	// ErrDiscountConflict rejects a discount given both as a percentage and
	// as a flat amount.
	ErrDiscountConflict = errors.New("billing: discount percentage and amount are mutually exclusive")
	// ErrDiscountNegative rejects a negative discount input.
	ErrDiscountNegative = errors.New("billing: discount must not be negative")
	// ErrDiscountExceedsSubtotal rejects a discount larger than the subtotal.
	ErrDiscountExceedsSubtotal = errors.New("billing: discount exceeds subtotal")
)

// Discount is the operator's discount input. At most one of Percent and
// Amount may be non-zero; the computed amount is stored alongside the
// percentage on the invoice.
type Discount struct {
	Percent decimal.Decimal
	Amount  decimal.Decimal
}

// TotalsInput carries everything ComputeTotals needs. LineTotals are the
// snapshot amounts copied from the fulfillment lines, never recomputed from
// live pricing. LineTaxes and TaxRate are consulted per TaxMode.
type TotalsInput struct {
	LineTotals []decimal.Decimal
	LineTaxes  []decimal.Decimal
	Discount   Discount
	TaxMode    TaxMode
	TaxRate    decimal.Decimal
}

// Totals is the computed invoice money state.
type Totals struct {
	Subtotal        decimal.Decimal
	DiscountPercent decimal.Decimal
	DiscountAmount  decimal.Decimal
	TaxAmount       decimal.Decimal
	GrandTotal      decimal.Decimal
}

// ComputeTotals derives subtotal, discount, tax and grand total from the
// snapshot line amounts. grand_total = subtotal − discount + tax.
func ComputeTotals(in TotalsInput) (Totals, error) {
	subtotal := decimal.Zero
	for _, lt := range in.LineTotals {
		subtotal = subtotal.Add(lt)
	}
	subtotal = subtotal.Round(MoneyScale)

	percent, amount, err := resolveDiscount(in.Discount, subtotal)
	if err != nil {
		return Totals{}, err
	}

	discounted := subtotal.Sub(amount)
	var tax decimal.Decimal
	switch in.TaxMode {
	case TaxPerLine:
		for _, lt := range in.LineTaxes {
			tax = tax.Add(lt)
		}
		tax = tax.Round(MoneyScale)
	case TaxOnSubtotal:
		tax = discounted.Mul(in.TaxRate).Div(decimal.NewFromInt(100)).Round(MoneyScale)
	}

	return Totals{
		Subtotal:        subtotal,
		DiscountPercent: percent,
		DiscountAmount:  amount,
		TaxAmount:       tax,
		GrandTotal:      discounted.Add(tax).Round(MoneyScale),
	}, nil
}

func resolveDiscount(d Discount, subtotal decimal.Decimal) (percent, amount decimal.Decimal, err error) {
	if d.Percent.Sign() < 0 || d.Amount.Sign() < 0 {
		return decimal.Zero, decimal.Zero, ErrDiscountNegative
	}
	if d.Percent.Sign() > 0 && d.Amount.Sign() > 0 {
		return decimal.Zero, decimal.Zero, ErrDiscountConflict
	}
	switch {
	case d.Percent.Sign() > 0:
		percent = d.Percent
		amount = subtotal.Mul(d.Percent).Div(decimal.NewFromInt(100)).Round(MoneyScale)
	default:
		amount = d.Amount.Round(MoneyScale)
	}
	if amount.GreaterThan(subtotal) {
		return decimal.Zero, decimal.Zero, ErrDiscountExceedsSubtotal
	}
	return percent, amount, nil
}
