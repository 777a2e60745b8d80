package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PaymentStatus is derived from the sum of payments against the grand total.
// It never moves backward through the API; payments are append-only.
type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "unpaid"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentPaid          PaymentStatus = "paid"
)

// InvoicingStatus tracks whether all lines of a fulfillment document are
// covered by active billing lines. It flips back to not_invoiced when a
// covering line is released.
type InvoicingStatus string

const (
	NotInvoiced InvoicingStatus = "not_invoiced"
	Invoiced    InvoicingStatus = "invoiced"
)

var (
	// ErrAlreadyInvoiced rejects a fulfillment line that is already on an
	// active billing line.
	ErrAlreadyInvoiced = errors.New("billing: fulfillment line is already invoiced")
	// ErrPaymentNotPositive rejects a zero or negative payment amount.
	ErrPaymentNotPositive = errors.New("billing: payment amount must be positive")
	// ErrInvoiceNotDeletable rejects deletion of an invoice that has left
	// its initial unpaid state or has recorded payments.
	ErrInvoiceNotDeletable = errors.New("billing: invoice with payments cannot be deleted")
)

// PaymentExceedsError reports a payment that would push the paid sum past
// the grand total. Excess is rejected, never clamped.
type PaymentExceedsError struct {
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *PaymentExceedsError) Error() string {
	return fmt.Sprintf("remaining amount is %s, requested payment is %s", e.Remaining, e.Requested)
}

// RemainingAmount is grand_total minus the sum of payments.
func RemainingAmount(grandTotal, paid decimal.Decimal) decimal.Decimal {
	return grandTotal.Sub(paid)
}

// CheckPayment validates a new payment against the ceiling Σ payments ≤
// grand_total, inside the transaction that inserts the payment row.
func CheckPayment(grandTotal, paid, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrPaymentNotPositive
	}
	remaining := RemainingAmount(grandTotal, paid)
	if amount.GreaterThan(remaining) {
		return &PaymentExceedsError{Remaining: remaining, Requested: amount}
	}
	return nil
}

// DerivePaymentStatus maps the paid sum onto unpaid, partially_paid or paid.
func DerivePaymentStatus(grandTotal, paid decimal.Decimal) PaymentStatus {
	switch {
	case paid.Sign() <= 0:
		return PaymentUnpaid
	case paid.GreaterThanOrEqual(grandTotal):
		return PaymentPaid
	default:
		return PaymentPartiallyPaid
	}
}

// DeriveInvoicingStatus flips a fulfillment document to invoiced only when
// every one of its lines is covered.
func DeriveInvoicingStatus(totalLines, coveredLines int) InvoicingStatus {
	if totalLines > 0 && coveredLines >= totalLines {
		return Invoiced
	}
	return NotInvoiced
}
