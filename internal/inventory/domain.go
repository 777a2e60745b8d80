// Package inventory is the append-only stock movement ledger. Every change
// to a stock level is recorded as an immutable entry carrying the previous,
// movement and resulting quantity; corrections are compensating appends,
// never updates.
package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/masterdata/locations"
)

// MovementType classifies a ledger entry. in/out come from fulfillment
// documents, increased/decreased from manual adjustments, balanced from a
// stock opname that sets an absolute level.
type MovementType string

const (
	MovementIn        MovementType = "in"
	MovementOut       MovementType = "out"
	MovementIncreased MovementType = "increased"
	MovementDecreased MovementType = "decreased"
	MovementBalanced  MovementType = "balanced"
)

func (t MovementType) IsValid() bool {
	switch t {
	case MovementIn, MovementOut, MovementIncreased, MovementDecreased, MovementBalanced:
		return true
	}
	return false
}

var (
	// ErrNegativeStock rejects a subtraction that would drive a stock level
	// below zero. It aborts the enclosing document transaction.
	ErrNegativeStock = errors.New("inventory: insufficient stock")
	// ErrInvalidMovementType rejects an unknown movement type.
	ErrInvalidMovementType = errors.New("inventory: invalid movement type")
	// ErrQuantityNotPositive rejects a non-positive movement quantity for
	// the relative movement types.
	ErrQuantityNotPositive = errors.New("inventory: movement quantity must be positive")
	// ErrNegativeTarget rejects a negative absolute target for balanced
	// movements.
	ErrNegativeTarget = errors.New("inventory: balanced target must not be negative")
	// ErrInvalidLocation rejects an unknown location kind or a non-positive id.
	ErrInvalidLocation = errors.New("inventory: invalid location")
)

// LocationRef identifies a stock location by kind and id. Warehouses and
// branches live in separate tables, so the kind tag travels with the id.
type LocationRef struct {
	Kind locations.Kind `json:"kind"`
	ID   int64          `json:"id"`
}

func (l LocationRef) Validate() error {
	if !l.Kind.IsValid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidLocation, l.Kind)
	}
	if l.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidLocation)
	}
	return nil
}

// Reference points a ledger entry back at the document that caused it.
type Reference struct {
	DocType string `json:"doc_type"`
	DocID   int64  `json:"doc_id"`
	DocCode string `json:"doc_code"`
}

// Entry is one immutable ledger row. AfterQuantity always equals
// PreviousQuantity adjusted by MovementQuantity per the type's sign
// convention, and chains onto the next entry's PreviousQuantity.
type Entry struct {
	ID               int64           `json:"id"`
	ItemID           int64           `json:"item_id"`
	ItemName         string          `json:"item_name,omitempty"`
	Location         LocationRef     `json:"location"`
	Type             MovementType    `json:"movement_type"`
	PreviousQuantity decimal.Decimal `json:"previous_quantity"`
	MovementQuantity decimal.Decimal `json:"movement_quantity"`
	AfterQuantity    decimal.Decimal `json:"after_quantity"`
	Reference        Reference       `json:"reference"`
	ActorID          int64           `json:"actor_id"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

// AppendInput describes a movement to record. For balanced movements
// Quantity is the absolute target level; for every other type it is the
// positive delta.
type AppendInput struct {
	ItemID     int64
	Location   LocationRef
	Type       MovementType
	Quantity   decimal.Decimal
	Reference  Reference
	ActorID    int64
	OccurredAt time.Time
}

// resolveMovement computes the recorded movement and the resulting level.
// in/increased add, out/decreased subtract, balanced sets the absolute
// target and records the derived delta.
func resolveMovement(t MovementType, previous, quantity decimal.Decimal) (movement, after decimal.Decimal, err error) {
	switch t {
	case MovementIn, MovementIncreased:
		if quantity.Sign() <= 0 {
			return decimal.Zero, decimal.Zero, ErrQuantityNotPositive
		}
		return quantity, previous.Add(quantity), nil
	case MovementOut, MovementDecreased:
		if quantity.Sign() <= 0 {
			return decimal.Zero, decimal.Zero, ErrQuantityNotPositive
		}
		after = previous.Sub(quantity)
		if after.Sign() < 0 {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w: balance %s, requested %s", ErrNegativeStock, previous, quantity)
		}
		return quantity, after, nil
	case MovementBalanced:
		if quantity.Sign() < 0 {
			return decimal.Zero, decimal.Zero, ErrNegativeTarget
		}
		return quantity.Sub(previous), quantity, nil
	default:
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidMovementType, t)
	}
}
