// Package sales covers the outbound side: sales order lines are drawn into
// waybills, waybills are billed on sales invoices, and invoices are settled
// by customer payments. Waybill lines move stock out, so an oversell is
// rejected by the ledger before the document commits.
package sales

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/billing"
	"github.com/meridian-erp/meridian/internal/masterdata/items"
	"github.com/meridian-erp/meridian/internal/masterdata/locations"
)

// SalesOrder is the source document for the sales side.
type SalesOrder struct {
	ID         int64           `json:"id"`
	Code       string          `json:"code"`
	CustomerID int64           `json:"customer_id"`
	Date       time.Time       `json:"date"`
	TaxRate    decimal.Decimal `json:"tax_rate"`
	Note       string          `json:"note"`
}

// SOLine is one orderable line; ordered_quantity bounds the sum of active
// waybill lines referencing it.
type SOLine struct {
	ID         int64           `json:"id"`
	SOID       int64           `json:"sales_order_id"`
	ItemID     int64           `json:"item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// Waybill ships goods from one stock location against exactly one sales
// order.
type Waybill struct {
	ID              int64                   `json:"id"`
	Code            string                  `json:"code"`
	SOID            int64                   `json:"sales_order_id"`
	CustomerID      int64                   `json:"customer_id"`
	LocationKind    locations.Kind          `json:"location_kind"`
	LocationID      int64                   `json:"location_id"`
	ShippedAt       time.Time               `json:"shipped_at"`
	Note            string                  `json:"note"`
	InvoicingStatus billing.InvoicingStatus `json:"invoicing_status"`
	CreatedBy       int64                   `json:"created_by"`
	CreatedAt       time.Time               `json:"created_at"`
}

// WaybillLine snapshots price from the sales order line at shipping time.
type WaybillLine struct {
	ID         int64           `json:"id"`
	WaybillID  int64           `json:"waybill_id"`
	SOLineID   int64           `json:"sales_order_detail_id"`
	ItemID     int64           `json:"item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// SalesInvoice bills a set of waybill lines. Tax is a single rate applied
// to the discounted subtotal.
type SalesInvoice struct {
	ID              int64                 `json:"id"`
	Code            string                `json:"code"`
	CustomerID      int64                 `json:"customer_id"`
	Date            time.Time             `json:"date"`
	DueDate         time.Time             `json:"due_date"`
	Subtotal        decimal.Decimal       `json:"subtotal"`
	DiscountPercent decimal.Decimal       `json:"discount_percent"`
	DiscountAmount  decimal.Decimal       `json:"discount_amount"`
	TaxRate         decimal.Decimal       `json:"tax_rate"`
	TaxAmount       decimal.Decimal       `json:"tax_amount"`
	GrandTotal      decimal.Decimal       `json:"grand_total"`
	PaidAmount      decimal.Decimal       `json:"paid_amount"`
	RemainingAmount decimal.Decimal       `json:"remaining_amount"`
	Status          billing.PaymentStatus `json:"status"`
	CreatedBy       int64                 `json:"created_by"`
	CreatedAt       time.Time             `json:"created_at"`
}

// SalesInvoiceLine references exactly one waybill line; at most one active
// invoice line may exist per waybill line.
type SalesInvoiceLine struct {
	ID         int64           `json:"id"`
	InvoiceID  int64           `json:"sales_invoice_id"`
	WBLineID   int64           `json:"waybill_detail_id"`
	ItemID     int64           `json:"item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// CustomerPayment is append-only; the sum per invoice never exceeds the
// grand total.
type CustomerPayment struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	InvoiceID int64           `json:"sales_invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	PaidAt    time.Time       `json:"paid_at"`
}

// UndeliveredSOLine is one row of the undelivered sales order details
// report backing the waybill form.
type UndeliveredSOLine struct {
	SOLineID          int64           `json:"sales_order_detail_id"`
	SOID              int64           `json:"sales_order_id"`
	SOCode            string          `json:"sales_order_code"`
	ItemID            int64           `json:"item_id"`
	ItemName          string          `json:"item_name"`
	ItemCode          string          `json:"item_code"`
	OrderedQuantity   decimal.Decimal `json:"ordered_quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	DeliveredQuantity decimal.Decimal `json:"delivered_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
}

// WaybillSummary lists waybills still open for invoicing.
type WaybillSummary struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	CustomerID   int64     `json:"customer_id"`
	CustomerName string    `json:"customer_name"`
	ShippedAt    time.Time `json:"shipped_at"`
}

// WaybillData is the header-plus-lines shape for the invoicing form, with
// the full item unit setup nested so the UI can show wholesale packs.
type WaybillData struct {
	Waybill Waybill           `json:"waybill"`
	Lines   []WaybillDataLine `json:"lines"`
}

// WaybillDataLine carries the item alongside the shipped quantity; the
// wholesale quantity is derived on read and never stored.
type WaybillDataLine struct {
	WaybillLine
	Item              items.Item      `json:"item"`
	WholesaleQuantity decimal.Decimal `json:"wholesale_quantity"`
	Invoiced          bool            `json:"invoiced"`
}

// ListFilters narrows sales list queries.
type ListFilters struct {
	Status     string
	CustomerID int64
	Search     string
	SortBy     string
	SortDir    string
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("sales: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("sales: invalid input")
	// ErrInvalidState occurs when an action violates the document workflow.
	ErrInvalidState = errors.New("sales: invalid state transition")
)
