// Package fulfillment holds the pure quantity-ledger rules shared by the
// procurement and sales sides. Reservation checks here are always executed
// inside the transaction that writes the fulfillment line, after the source
// order line row has been locked.
package fulfillment

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places for money amounts.
const MoneyScale = 2

// ErrQuantityNotPositive rejects a reservation of zero or negative quantity.
var ErrQuantityNotPositive = errors.New("fulfillment: quantity must be positive")

// OverReceiptError reports a draw that exceeds the remaining quantity of a
// source order line. The message carries both numbers so the operator can
// correct the input.
type OverReceiptError struct {
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *OverReceiptError) Error() string {
	return fmt.Sprintf("remaining quantity is %s, requested %s", e.Remaining, e.Requested)
}

// Remaining returns the quantity of a source order line still available for
// fulfillment: ordered minus the sum over active fulfillment lines.
func Remaining(ordered, fulfilled decimal.Decimal) decimal.Decimal {
	return ordered.Sub(fulfilled)
}

// CheckReserve validates that requested can be drawn from the source line
// given what has already been fulfilled. It never mutates anything; the
// caller persists the fulfillment line only when this returns nil.
func CheckReserve(ordered, fulfilled, requested decimal.Decimal) error {
	if requested.Sign() <= 0 {
		return ErrQuantityNotPositive
	}
	remaining := Remaining(ordered, fulfilled)
	if requested.GreaterThan(remaining) {
		return &OverReceiptError{Remaining: remaining, Requested: requested}
	}
	return nil
}

// LineTotal computes quantity times unit price at money scale.
func LineTotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitPrice).Round(MoneyScale)
}

// LineTax applies a percentage tax rate to a line total. Used on the
// procurement side where tax is captured per line at receipt time.
func LineTax(lineTotal, taxRatePercent decimal.Decimal) decimal.Decimal {
	return lineTotal.Mul(taxRatePercent).Div(decimal.NewFromInt(100)).Round(MoneyScale)
}
