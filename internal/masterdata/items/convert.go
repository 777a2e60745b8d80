package items

import (
	"errors"

	"github.com/shopspring/decimal"
)

const (
	// QuantityScale is the stored precision for quantities in standard units.
	QuantityScale = 6
	// conversionScale keeps enough digits that a wholesale round trip
	// re-converts exactly at QuantityScale.
	conversionScale = 12
)

// ErrInvalidConversionFactor signals a declared wholesale unit with a factor
// that is zero or negative.
var ErrInvalidConversionFactor = errors.New("items: wholesale conversion factor must be positive")

// ToStandard converts a quantity expressed in the item's wholesale unit into
// standard units. Identity when the item has no wholesale unit.
//
// Wholesale figures are a read-time derivation only; documents persist
// standard units, so repeated conversions never accumulate rounding drift.
func ToStandard(item Item, qty decimal.Decimal) (decimal.Decimal, error) {
	if !item.HasWholesaleUnit() {
		return qty, nil
	}
	if item.WholesaleFactor.Sign() <= 0 {
		return decimal.Zero, ErrInvalidConversionFactor
	}
	return qty.Mul(item.WholesaleFactor).Round(QuantityScale), nil
}

// ToWholesale converts a quantity in standard units into wholesale packs.
// Identity when the item has no wholesale unit.
func ToWholesale(item Item, qty decimal.Decimal) (decimal.Decimal, error) {
	if !item.HasWholesaleUnit() {
		return qty, nil
	}
	if item.WholesaleFactor.Sign() <= 0 {
		return decimal.Zero, ErrInvalidConversionFactor
	}
	return qty.DivRound(item.WholesaleFactor, conversionScale), nil
}
