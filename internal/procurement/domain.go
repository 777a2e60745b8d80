// Package procurement covers the purchasing side: purchase order lines are
// drawn into goods receipts, receipts are billed on supplier invoices, and
// invoices are settled by payments.
package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/billing"
)

// PurchaseOrder is the source document for the procurement side. Orders are
// created upstream; this engine only draws quantities from their lines.
type PurchaseOrder struct {
	ID         int64           `json:"id"`
	Code       string          `json:"code"`
	SupplierID int64           `json:"supplier_id"`
	Date       time.Time       `json:"date"`
	TaxRate    decimal.Decimal `json:"tax_rate"`
	Note       string          `json:"note"`
}

// POLine is one orderable line. ordered_quantity bounds the sum of active
// goods receipt lines referencing it.
type POLine struct {
	ID         int64           `json:"id"`
	POID       int64           `json:"purchase_order_id"`
	ItemID     int64           `json:"item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// GoodsReceipt records goods arriving at a warehouse. One receipt may draw
// from several purchase orders of the same supplier.
type GoodsReceipt struct {
	ID              int64                   `json:"id"`
	Code            string                  `json:"code"`
	SupplierID      int64                   `json:"supplier_id"`
	WarehouseID     int64                   `json:"warehouse_id"`
	ReceivedAt      time.Time               `json:"received_at"`
	Note            string                  `json:"note"`
	InvoicingStatus billing.InvoicingStatus `json:"invoicing_status"`
	CreatedBy       int64                   `json:"created_by"`
	CreatedAt       time.Time               `json:"created_at"`
}

// GRLine snapshots price and tax from the purchase order line at receipt
// time. Later price edits on the order never change a posted receipt.
type GRLine struct {
	ID             int64           `json:"id"`
	GoodsReceiptID int64           `json:"goods_receipt_id"`
	POLineID       int64           `json:"purchase_order_detail_id"`
	ItemID         int64           `json:"item_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
}

// SupplierInvoice bills a set of goods receipt lines. Amounts are copied
// from the lines when the invoice is created, never recomputed from live
// order data.
type SupplierInvoice struct {
	ID              int64                 `json:"id"`
	Code            string                `json:"code"`
	SupplierID      int64                 `json:"supplier_id"`
	Date            time.Time             `json:"date"`
	DueDate         time.Time             `json:"due_date"`
	Subtotal        decimal.Decimal       `json:"subtotal"`
	DiscountPercent decimal.Decimal       `json:"discount_percent"`
	DiscountAmount  decimal.Decimal       `json:"discount_amount"`
	TaxAmount       decimal.Decimal       `json:"tax_amount"`
	GrandTotal      decimal.Decimal       `json:"grand_total"`
	PaidAmount      decimal.Decimal       `json:"paid_amount"`
	RemainingAmount decimal.Decimal       `json:"remaining_amount"`
	Status          billing.PaymentStatus `json:"status"`
	CreatedBy       int64                 `json:"created_by"`
	CreatedAt       time.Time             `json:"created_at"`
}

// SupplierInvoiceLine references exactly one goods receipt line. At most one
// active (not soft-deleted) invoice line may exist per receipt line; a
// partial unique index backs the rule.
type SupplierInvoiceLine struct {
	ID         int64           `json:"id"`
	InvoiceID  int64           `json:"supplier_invoice_id"`
	GRLineID   int64           `json:"goods_receipt_detail_id"`
	ItemID     int64           `json:"item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
}

// SupplierPayment is append-only; the sum per invoice never exceeds the
// grand total.
type SupplierPayment struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	InvoiceID int64           `json:"supplier_invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	PaidAt    time.Time       `json:"paid_at"`
}

// UnreceivedPOLine is one row of the unreceived purchase order details
// report backing the goods receipt form.
type UnreceivedPOLine struct {
	POLineID          int64           `json:"purchase_order_detail_id"`
	POID              int64           `json:"purchase_order_id"`
	POCode            string          `json:"purchase_order_code"`
	ItemID            int64           `json:"item_id"`
	ItemName          string          `json:"item_name"`
	ItemCode          string          `json:"item_code"`
	ItemAbbreviation  string          `json:"item_abbreviation"`
	OrderedQuantity   decimal.Decimal `json:"ordered_quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	ReceivedQuantity  decimal.Decimal `json:"received_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
}

// GoodsReceiptSummary lists receipts still open for invoicing.
type GoodsReceiptSummary struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	SupplierID   int64     `json:"supplier_id"`
	SupplierName string    `json:"supplier_name"`
	ReceivedAt   time.Time `json:"received_at"`
}

// GoodsReceiptData is the header-plus-lines shape for the invoicing form;
// total_amount per line is total_price + tax_amount.
type GoodsReceiptData struct {
	GoodsReceipt GoodsReceipt           `json:"goods_receipt"`
	Lines        []GoodsReceiptDataLine `json:"lines"`
}

type GoodsReceiptDataLine struct {
	GRLine
	ItemName    string          `json:"item_name"`
	ItemCode    string          `json:"item_code"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Invoiced    bool            `json:"invoiced"`
}

// ListFilters narrows procurement list queries.
type ListFilters struct {
	Status     string
	SupplierID int64
	Search     string
	SortBy     string
	SortDir    string
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("procurement: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrInvalidState occurs when an action violates the document workflow.
	ErrInvalidState = errors.New("procurement: invalid state transition")
)
