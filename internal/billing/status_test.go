package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPaymentLifecycle(t *testing.T) {
	grand := d("1000000")
	paid := decimal.Zero

	require.Equal(t, PaymentUnpaid, DerivePaymentStatus(grand, paid))

	require.NoError(t, CheckPayment(grand, paid, d("600000")))
	paid = paid.Add(d("600000"))
	require.Equal(t, PaymentPartiallyPaid, DerivePaymentStatus(grand, paid))
	require.True(t, RemainingAmount(grand, paid).Equal(d("400000")))

	require.NoError(t, CheckPayment(grand, paid, d("400000")))
	paid = paid.Add(d("400000"))
	require.Equal(t, PaymentPaid, DerivePaymentStatus(grand, paid))
	require.True(t, RemainingAmount(grand, paid).IsZero())

	err := CheckPayment(grand, paid, d("1"))
	var exceeds *PaymentExceedsError
	require.ErrorAs(t, err, &exceeds)
	require.True(t, exceeds.Remaining.IsZero())
	require.True(t, exceeds.Requested.Equal(d("1")))
}

func TestCheckPaymentRejectsNonPositive(t *testing.T) {
	require.ErrorIs(t, CheckPayment(d("100"), decimal.Zero, decimal.Zero), ErrPaymentNotPositive)
	require.ErrorIs(t, CheckPayment(d("100"), decimal.Zero, d("-5")), ErrPaymentNotPositive)
}

func TestDeriveInvoicingStatus(t *testing.T) {
	require.Equal(t, NotInvoiced, DeriveInvoicingStatus(3, 0))
	require.Equal(t, NotInvoiced, DeriveInvoicingStatus(3, 2))
	require.Equal(t, Invoiced, DeriveInvoicingStatus(3, 3))
	// releasing a line reopens the document
	require.Equal(t, NotInvoiced, DeriveInvoicingStatus(3, 2))
	require.Equal(t, NotInvoiced, DeriveInvoicingStatus(0, 0))
}
