package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ChainBreakError reports a discontinuity in a stock movement chain for one
// (item, location) pair.
type ChainBreakError struct {
	EntryID int64
	Index   int
	Want    decimal.Decimal
	Got     decimal.Decimal
	Field   string
}

func (e *ChainBreakError) Error() string {
	return fmt.Sprintf("inventory: chain break at entry %d (position %d): %s is %s, want %s",
		e.EntryID, e.Index, e.Field, e.Got, e.Want)
}

// VerifyChain checks that a sequence of entries for a single (item,
// location) pair, ordered by occurrence, forms an unbroken running balance:
// each entry's previous equals the prior entry's after, and after follows
// from previous and movement per the type's sign convention.
func VerifyChain(entries []Entry) error {
	for i, e := range entries {
		if i > 0 {
			prior := entries[i-1]
			if !e.PreviousQuantity.Equal(prior.AfterQuantity) {
				return &ChainBreakError{
					EntryID: e.ID, Index: i, Field: "previous_quantity",
					Want: prior.AfterQuantity, Got: e.PreviousQuantity,
				}
			}
		}
		want, err := expectedAfter(e)
		if err != nil {
			return err
		}
		if !e.AfterQuantity.Equal(want) {
			return &ChainBreakError{
				EntryID: e.ID, Index: i, Field: "after_quantity",
				Want: want, Got: e.AfterQuantity,
			}
		}
	}
	return nil
}

func expectedAfter(e Entry) (decimal.Decimal, error) {
	switch e.Type {
	case MovementIn, MovementIncreased:
		return e.PreviousQuantity.Add(e.MovementQuantity), nil
	case MovementOut, MovementDecreased:
		return e.PreviousQuantity.Sub(e.MovementQuantity), nil
	case MovementBalanced:
		return e.PreviousQuantity.Add(e.MovementQuantity), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidMovementType, e.Type)
	}
}
