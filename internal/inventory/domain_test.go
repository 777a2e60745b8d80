package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestResolveMovementAdditive(t *testing.T) {
	for _, typ := range []MovementType{MovementIn, MovementIncreased} {
		movement, after, err := resolveMovement(typ, d("10"), d("4"))
		require.NoError(t, err)
		require.True(t, movement.Equal(d("4")))
		require.True(t, after.Equal(d("14")))
	}
}

func TestResolveMovementSubtractive(t *testing.T) {
	for _, typ := range []MovementType{MovementOut, MovementDecreased} {
		movement, after, err := resolveMovement(typ, d("10"), d("4"))
		require.NoError(t, err)
		require.True(t, movement.Equal(d("4")))
		require.True(t, after.Equal(d("6")))
	}
}

func TestResolveMovementNegativeStock(t *testing.T) {
	_, _, err := resolveMovement(MovementOut, d("3"), d("5"))
	require.ErrorIs(t, err, ErrNegativeStock)
	require.Contains(t, err.Error(), "balance 3, requested 5")

	// draining to exactly zero is fine
	_, after, err := resolveMovement(MovementOut, d("3"), d("3"))
	require.NoError(t, err)
	require.True(t, after.IsZero())
}

func TestResolveMovementBalanced(t *testing.T) {
	movement, after, err := resolveMovement(MovementBalanced, d("10"), d("7"))
	require.NoError(t, err)
	require.True(t, movement.Equal(d("-3")), "delta is derived, never supplied")
	require.True(t, after.Equal(d("7")))

	movement, after, err = resolveMovement(MovementBalanced, d("2"), d("9"))
	require.NoError(t, err)
	require.True(t, movement.Equal(d("7")))
	require.True(t, after.Equal(d("9")))

	_, _, err = resolveMovement(MovementBalanced, d("2"), d("-1"))
	require.ErrorIs(t, err, ErrNegativeTarget)
}

func TestResolveMovementRejectsBadInput(t *testing.T) {
	_, _, err := resolveMovement(MovementIn, d("1"), decimal.Zero)
	require.ErrorIs(t, err, ErrQuantityNotPositive)

	_, _, err = resolveMovement(MovementType("transfer"), d("1"), d("1"))
	require.ErrorIs(t, err, ErrInvalidMovementType)
}
