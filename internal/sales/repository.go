package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/billing"
	"github.com/meridian-erp/meridian/internal/inventory"
	"github.com/meridian-erp/meridian/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool   *pgxpool.Pool
	ledger *inventory.Ledger
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, ledger *inventory.Ledger) *Repository {
	return &Repository{pool: pool, ledger: ledger}
}

// TxRepository exposes the operations available inside a document
// transaction. Outbound stock movements run on the same transaction, so an
// oversell aborts the waybill with it.
type TxRepository interface {
	GetSalesOrder(ctx context.Context, id int64) (SalesOrder, error)
	GetSOLineForUpdate(ctx context.Context, id int64) (SOLine, decimal.Decimal, error)
	CreateWaybill(ctx context.Context, wb Waybill) (int64, error)
	InsertWaybillLine(ctx context.Context, line WaybillLine) (int64, error)
	AppendStockMovement(ctx context.Context, input inventory.AppendInput) (inventory.Entry, error)

	GetWaybillLine(ctx context.Context, id int64) (WaybillLine, int64, error)
	WaybillLineInvoiced(ctx context.Context, wbLineID int64) (bool, error)
	CreateSalesInvoice(ctx context.Context, inv SalesInvoice) (int64, error)
	InsertInvoiceLine(ctx context.Context, line SalesInvoiceLine) error
	SoftDeleteInvoiceLines(ctx context.Context, invoiceID int64) error
	UpdateInvoiceTotals(ctx context.Context, inv SalesInvoice) error
	SoftDeleteInvoice(ctx context.Context, invoiceID int64) error

	WaybillLineCoverage(ctx context.Context, waybillID int64) (total, covered int, err error)
	SetWaybillInvoicingStatus(ctx context.Context, waybillID int64, status billing.InvoicingStatus) error
	WaybillIDsForInvoice(ctx context.Context, invoiceID int64) ([]int64, error)

	GetInvoiceForUpdate(ctx context.Context, id int64) (SalesInvoice, error)
	SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
	CountPayments(ctx context.Context, invoiceID int64) (int, error)
	InsertPayment(ctx context.Context, p CustomerPayment) (int64, error)
	SetInvoicePaymentState(ctx context.Context, id int64, paid decimal.Decimal, status billing.PaymentStatus) error
}

type txRepo struct {
	tx     pgx.Tx
	ledger *inventory.Ledger
}

// WithTx wraps the callback in a repeatable-read transaction, retrying
// transient lock and serialization conflicts a bounded number of times.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxRetry(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: r.ledger})
	})
}

func (t *txRepo) GetSalesOrder(ctx context.Context, id int64) (SalesOrder, error) {
	var (
		so  SalesOrder
		tax pgtype.Numeric
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, code, customer_id, date, tax_rate, note
		FROM sales_orders
		WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&so.ID, &so.Code, &so.CustomerID, &so.Date, &tax, &so.Note)
	if errors.Is(err, pgx.ErrNoRows) {
		return SalesOrder{}, fmt.Errorf("%w: sales order %d", ErrNotFound, id)
	}
	if err != nil {
		return SalesOrder{}, err
	}
	so.TaxRate = db.NumericToDecimal(tax)
	return so, nil
}

// GetSOLineForUpdate locks the sales order line row and returns it together
// with the quantity already shipped on active waybill lines.
func (t *txRepo) GetSOLineForUpdate(ctx context.Context, id int64) (SOLine, decimal.Decimal, error) {
	var (
		line              SOLine
		qty, price, total pgtype.Numeric
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, sales_order_id, item_id, quantity, unit_price, total_price
		FROM sales_order_lines
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE`, id).Scan(&line.ID, &line.SOID, &line.ItemID, &qty, &price, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return SOLine{}, decimal.Zero, fmt.Errorf("%w: sales order line %d", ErrNotFound, id)
	}
	if err != nil {
		return SOLine{}, decimal.Zero, err
	}
	line.Quantity = db.NumericToDecimal(qty)
	line.UnitPrice = db.NumericToDecimal(price)
	line.TotalPrice = db.NumericToDecimal(total)

	var delivered pgtype.Numeric
	err = t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(wl.quantity), 0)
		FROM waybill_lines wl
		JOIN waybills wb ON wb.id = wl.waybill_id
		WHERE wl.sales_order_line_id = $1
		  AND wl.deleted_at IS NULL AND wb.deleted_at IS NULL`, id).Scan(&delivered)
	if err != nil {
		return SOLine{}, decimal.Zero, err
	}
	return line, db.NumericToDecimal(delivered), nil
}

func (t *txRepo) CreateWaybill(ctx context.Context, wb Waybill) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO waybills (code, sales_order_id, customer_id, location_kind, location_id, shipped_at, note, invoicing_status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id`,
		wb.Code, wb.SOID, wb.CustomerID, string(wb.LocationKind), wb.LocationID,
		wb.ShippedAt, wb.Note, string(wb.InvoicingStatus), wb.CreatedBy,
	).Scan(&id)
	return id, err
}

func (t *txRepo) InsertWaybillLine(ctx context.Context, line WaybillLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO waybill_lines (waybill_id, sales_order_line_id, item_id, quantity, unit_price, total_price)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		line.WaybillID, line.SOLineID, line.ItemID,
		db.DecimalToNumeric(line.Quantity), db.DecimalToNumeric(line.UnitPrice),
		db.DecimalToNumeric(line.TotalPrice),
	).Scan(&id)
	return id, err
}

func (t *txRepo) AppendStockMovement(ctx context.Context, input inventory.AppendInput) (inventory.Entry, error) {
	return t.ledger.Append(ctx, t.tx, input)
}

// GetWaybillLine returns the waybill line together with the customer that
// owns the waybill, so invoice assembly can reject lines of another customer.
func (t *txRepo) GetWaybillLine(ctx context.Context, id int64) (WaybillLine, int64, error) {
	var (
		line              WaybillLine
		customerID        int64
		qty, price, total pgtype.Numeric
	)
	err := t.tx.QueryRow(ctx, `
		SELECT wl.id, wl.waybill_id, wl.sales_order_line_id, wl.item_id,
		       wl.quantity, wl.unit_price, wl.total_price, wb.customer_id
		FROM waybill_lines wl
		JOIN waybills wb ON wb.id = wl.waybill_id
		WHERE wl.id = $1 AND wl.deleted_at IS NULL AND wb.deleted_at IS NULL`, id).
		Scan(&line.ID, &line.WaybillID, &line.SOLineID, &line.ItemID, &qty, &price, &total, &customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return WaybillLine{}, 0, fmt.Errorf("%w: waybill line %d", ErrNotFound, id)
	}
	if err != nil {
		return WaybillLine{}, 0, err
	}
	line.Quantity = db.NumericToDecimal(qty)
	line.UnitPrice = db.NumericToDecimal(price)
	line.TotalPrice = db.NumericToDecimal(total)
	return line, customerID, nil
}

func (t *txRepo) WaybillLineInvoiced(ctx context.Context, wbLineID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sales_invoice_lines
			WHERE waybill_line_id = $1 AND deleted_at IS NULL
		)`, wbLineID).Scan(&exists)
	return exists, err
}

func (t *txRepo) CreateSalesInvoice(ctx context.Context, inv SalesInvoice) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sales_invoices
			(code, customer_id, date, due_date, subtotal, discount_percent, discount_amount,
			 tax_rate, tax_amount, grand_total, paid_amount, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id`,
		inv.Code, inv.CustomerID, inv.Date, inv.DueDate,
		db.DecimalToNumeric(inv.Subtotal), db.DecimalToNumeric(inv.DiscountPercent),
		db.DecimalToNumeric(inv.DiscountAmount), db.DecimalToNumeric(inv.TaxRate),
		db.DecimalToNumeric(inv.TaxAmount), db.DecimalToNumeric(inv.GrandTotal),
		db.DecimalToNumeric(inv.PaidAmount), string(inv.Status), inv.CreatedBy,
	).Scan(&id)
	return id, err
}

// InsertInvoiceLine relies on the partial unique index over active invoice
// lines; a 23505 means the waybill line got invoiced concurrently.
func (t *txRepo) InsertInvoiceLine(ctx context.Context, line SalesInvoiceLine) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sales_invoice_lines (sales_invoice_id, waybill_line_id, item_id, quantity, unit_price, total_price)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		line.InvoiceID, line.WBLineID, line.ItemID,
		db.DecimalToNumeric(line.Quantity), db.DecimalToNumeric(line.UnitPrice),
		db.DecimalToNumeric(line.TotalPrice))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: waybill line %d", billing.ErrAlreadyInvoiced, line.WBLineID)
	}
	return err
}

func (t *txRepo) SoftDeleteInvoiceLines(ctx context.Context, invoiceID int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE sales_invoice_lines SET deleted_at = NOW()
		WHERE sales_invoice_id = $1 AND deleted_at IS NULL`, invoiceID)
	return err
}

func (t *txRepo) UpdateInvoiceTotals(ctx context.Context, inv SalesInvoice) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE sales_invoices
		SET date = $2, due_date = $3, subtotal = $4, discount_percent = $5, discount_amount = $6,
		    tax_rate = $7, tax_amount = $8, grand_total = $9, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		inv.ID, inv.Date, inv.DueDate,
		db.DecimalToNumeric(inv.Subtotal), db.DecimalToNumeric(inv.DiscountPercent),
		db.DecimalToNumeric(inv.DiscountAmount), db.DecimalToNumeric(inv.TaxRate),
		db.DecimalToNumeric(inv.TaxAmount), db.DecimalToNumeric(inv.GrandTotal))
	return err
}

func (t *txRepo) SoftDeleteInvoice(ctx context.Context, invoiceID int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE sales_invoices SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, invoiceID)
	return err
}

func (t *txRepo) WaybillLineCoverage(ctx context.Context, waybillID int64) (int, int, error) {
	var total, covered int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE EXISTS (
		           SELECT 1 FROM sales_invoice_lines sil
		           WHERE sil.waybill_line_id = wl.id AND sil.deleted_at IS NULL))
		FROM waybill_lines wl
		WHERE wl.waybill_id = $1 AND wl.deleted_at IS NULL`, waybillID).Scan(&total, &covered)
	return total, covered, err
}

func (t *txRepo) SetWaybillInvoicingStatus(ctx context.Context, waybillID int64, status billing.InvoicingStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE waybills SET invoicing_status = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, waybillID, string(status))
	return err
}

func (t *txRepo) WaybillIDsForInvoice(ctx context.Context, invoiceID int64) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT DISTINCT wl.waybill_id
		FROM sales_invoice_lines sil
		JOIN waybill_lines wl ON wl.id = sil.waybill_line_id
		WHERE sil.sales_invoice_id = $1`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetInvoiceForUpdate locks the invoice row so concurrent payments against
// the same invoice serialize on the ceiling check.
func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (SalesInvoice, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM sales_invoices
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SalesInvoice{}, fmt.Errorf("%w: sales invoice %d", ErrNotFound, id)
	}
	return inv, err
}

func (t *txRepo) SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var sum pgtype.Numeric
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM customer_payments
		WHERE sales_invoice_id = $1`, invoiceID).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return db.NumericToDecimal(sum), nil
}

func (t *txRepo) CountPayments(ctx context.Context, invoiceID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM customer_payments
		WHERE sales_invoice_id = $1`, invoiceID).Scan(&n)
	return n, err
}

func (t *txRepo) InsertPayment(ctx context.Context, p CustomerPayment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO customer_payments (code, sales_invoice_id, amount, method, paid_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id`,
		p.Code, p.InvoiceID, db.DecimalToNumeric(p.Amount), p.Method, p.PaidAt).Scan(&id)
	return id, err
}

func (t *txRepo) SetInvoicePaymentState(ctx context.Context, id int64, paid decimal.Decimal, status billing.PaymentStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE sales_invoices
		SET paid_amount = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		id, db.DecimalToNumeric(paid), string(status))
	return err
}

const invoiceColumns = `
	id, code, customer_id, date, due_date, subtotal, discount_percent, discount_amount,
	tax_rate, tax_amount, grand_total, paid_amount, status, created_by, created_at`

func scanInvoice(row pgx.Row) (SalesInvoice, error) {
	var (
		inv                                                   SalesInvoice
		subtotal, discPct, discAmt, taxRate, tax, grand, paid pgtype.Numeric
		status                                                string
	)
	err := row.Scan(&inv.ID, &inv.Code, &inv.CustomerID, &inv.Date, &inv.DueDate,
		&subtotal, &discPct, &discAmt, &taxRate, &tax, &grand, &paid, &status,
		&inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		return SalesInvoice{}, err
	}
	inv.Subtotal = db.NumericToDecimal(subtotal)
	inv.DiscountPercent = db.NumericToDecimal(discPct)
	inv.DiscountAmount = db.NumericToDecimal(discAmt)
	inv.TaxRate = db.NumericToDecimal(taxRate)
	inv.TaxAmount = db.NumericToDecimal(tax)
	inv.GrandTotal = db.NumericToDecimal(grand)
	inv.PaidAmount = db.NumericToDecimal(paid)
	inv.RemainingAmount = billing.RemainingAmount(inv.GrandTotal, inv.PaidAmount)
	inv.Status = billing.PaymentStatus(status)
	return inv, nil
}
