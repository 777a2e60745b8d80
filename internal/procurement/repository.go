package procurement

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
// transaction. Stock movements go through the same transaction so a failed
// line rolls back the document and its ledger entries together.
type TxRepository interface {
	GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	CreateGoodsReceipt(ctx context.Context, gr GoodsReceipt) (int64, error)
	LinkGoodsReceiptOrder(ctx context.Context, grID, poID int64) error
	GetPOLineForUpdate(ctx context.Context, id int64) (POLine, decimal.Decimal, error)
	InsertGRLine(ctx context.Context, line GRLine) (int64, error)
	AppendStockMovement(ctx context.Context, input inventory.AppendInput) (inventory.Entry, error)

	GetGRLine(ctx context.Context, id int64) (GRLine, int64, error)
	GRLineInvoiced(ctx context.Context, grLineID int64) (bool, error)
	CreateSupplierInvoice(ctx context.Context, inv SupplierInvoice) (int64, error)
	InsertInvoiceLine(ctx context.Context, line SupplierInvoiceLine) error
	SoftDeleteInvoiceLines(ctx context.Context, invoiceID int64) error
	UpdateInvoiceTotals(ctx context.Context, inv SupplierInvoice) error
	SoftDeleteInvoice(ctx context.Context, invoiceID int64) error

	GoodsReceiptLineCoverage(ctx context.Context, grID int64) (total, covered int, err error)
	SetGoodsReceiptInvoicingStatus(ctx context.Context, grID int64, status billing.InvoicingStatus) error
	GoodsReceiptIDsForInvoice(ctx context.Context, invoiceID int64) ([]int64, error)

	GetInvoiceForUpdate(ctx context.Context, id int64) (SupplierInvoice, error)
	SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
	CountPayments(ctx context.Context, invoiceID int64) (int, error)
	InsertPayment(ctx context.Context, p SupplierPayment) (int64, error)
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

func (t *txRepo) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	var (
		po  PurchaseOrder
		tax pgtype.Numeric
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, code, supplier_id, date, tax_rate, note
		FROM purchase_orders
		WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&po.ID, &po.Code, &po.SupplierID, &po.Date, &tax, &po.Note)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, fmt.Errorf("%w: purchase order %d", ErrNotFound, id)
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.TaxRate = db.NumericToDecimal(tax)
	return po, nil
}

func (t *txRepo) CreateGoodsReceipt(ctx context.Context, gr GoodsReceipt) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO goods_receipts (code, supplier_id, warehouse_id, received_at, note, invoicing_status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		gr.Code, gr.SupplierID, gr.WarehouseID, gr.ReceivedAt, gr.Note, string(gr.InvoicingStatus), gr.CreatedBy,
	).Scan(&id)
	return id, err
}

func (t *txRepo) LinkGoodsReceiptOrder(ctx context.Context, grID, poID int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO goods_receipt_orders (goods_receipt_id, purchase_order_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, grID, poID)
	return err
}

// GetPOLineForUpdate locks the purchase order line row and returns it
// together with the quantity already received onto active receipt lines.
// The lock holds until the enclosing transaction ends, so concurrent
// receipts against the same line serialize here.
func (t *txRepo) GetPOLineForUpdate(ctx context.Context, id int64) (POLine, decimal.Decimal, error) {
	var (
		line              POLine
		qty, price, total pgtype.Numeric
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, purchase_order_id, item_id, quantity, unit_price, total_price
		FROM purchase_order_lines
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE`, id).Scan(&line.ID, &line.POID, &line.ItemID, &qty, &price, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return POLine{}, decimal.Zero, fmt.Errorf("%w: purchase order line %d", ErrNotFound, id)
	}
	if err != nil {
		return POLine{}, decimal.Zero, err
	}
	line.Quantity = db.NumericToDecimal(qty)
	line.UnitPrice = db.NumericToDecimal(price)
	line.TotalPrice = db.NumericToDecimal(total)

	var received pgtype.Numeric
	err = t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(grl.quantity), 0)
		FROM goods_receipt_lines grl
		JOIN goods_receipts gr ON gr.id = grl.goods_receipt_id
		WHERE grl.purchase_order_line_id = $1
		  AND grl.deleted_at IS NULL AND gr.deleted_at IS NULL`, id).Scan(&received)
	if err != nil {
		return POLine{}, decimal.Zero, err
	}
	return line, db.NumericToDecimal(received), nil
}

func (t *txRepo) InsertGRLine(ctx context.Context, line GRLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO goods_receipt_lines
			(goods_receipt_id, purchase_order_line_id, item_id, quantity, unit_price, total_price, tax_amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		line.GoodsReceiptID, line.POLineID, line.ItemID,
		db.DecimalToNumeric(line.Quantity), db.DecimalToNumeric(line.UnitPrice),
		db.DecimalToNumeric(line.TotalPrice), db.DecimalToNumeric(line.TaxAmount),
	).Scan(&id)
	return id, err
}

func (t *txRepo) AppendStockMovement(ctx context.Context, input inventory.AppendInput) (inventory.Entry, error) {
	return t.ledger.Append(ctx, t.tx, input)
}

// GetGRLine returns the receipt line together with the supplier that owns
// the receipt, so invoice assembly can reject lines of another supplier.
func (t *txRepo) GetGRLine(ctx context.Context, id int64) (GRLine, int64, error) {
	var (
		line                   GRLine
		supplierID             int64
		qty, price, total, tax pgtype.Numeric
	)
	err := t.tx.QueryRow(ctx, `
		SELECT grl.id, grl.goods_receipt_id, grl.purchase_order_line_id, grl.item_id,
		       grl.quantity, grl.unit_price, grl.total_price, grl.tax_amount, gr.supplier_id
		FROM goods_receipt_lines grl
		JOIN goods_receipts gr ON gr.id = grl.goods_receipt_id
		WHERE grl.id = $1 AND grl.deleted_at IS NULL AND gr.deleted_at IS NULL`, id).
		Scan(&line.ID, &line.GoodsReceiptID, &line.POLineID, &line.ItemID, &qty, &price, &total, &tax, &supplierID)
	if errors.Is(err, pgx.ErrNoRows) {
		return GRLine{}, 0, fmt.Errorf("%w: goods receipt line %d", ErrNotFound, id)
	}
	if err != nil {
		return GRLine{}, 0, err
	}
	line.Quantity = db.NumericToDecimal(qty)
	line.UnitPrice = db.NumericToDecimal(price)
	line.TotalPrice = db.NumericToDecimal(total)
	line.TaxAmount = db.NumericToDecimal(tax)
	return line, supplierID, nil
}

func (t *txRepo) GRLineInvoiced(ctx context.Context, grLineID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM supplier_invoice_lines
			WHERE goods_receipt_line_id = $1 AND deleted_at IS NULL
		)`, grLineID).Scan(&exists)
	return exists, err
}

func (t *txRepo) CreateSupplierInvoice(ctx context.Context, inv SupplierInvoice) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO supplier_invoices
			(code, supplier_id, date, due_date, subtotal, discount_percent, discount_amount,
			 tax_amount, grand_total, paid_amount, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`,
		inv.Code, inv.SupplierID, inv.Date, inv.DueDate,
		db.DecimalToNumeric(inv.Subtotal), db.DecimalToNumeric(inv.DiscountPercent),
		db.DecimalToNumeric(inv.DiscountAmount), db.DecimalToNumeric(inv.TaxAmount),
		db.DecimalToNumeric(inv.GrandTotal), db.DecimalToNumeric(inv.PaidAmount),
		string(inv.Status), inv.CreatedBy,
	).Scan(&id)
	return id, err
}

// InsertInvoiceLine relies on the partial unique index over active invoice
// lines; a 23505 means the receipt line got invoiced concurrently.
func (t *txRepo) InsertInvoiceLine(ctx context.Context, line SupplierInvoiceLine) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO supplier_invoice_lines
			(supplier_invoice_id, goods_receipt_line_id, item_id, quantity, unit_price, total_price, tax_amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		line.InvoiceID, line.GRLineID, line.ItemID,
		db.DecimalToNumeric(line.Quantity), db.DecimalToNumeric(line.UnitPrice),
		db.DecimalToNumeric(line.TotalPrice), db.DecimalToNumeric(line.TaxAmount))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: goods receipt line %d", billing.ErrAlreadyInvoiced, line.GRLineID)
	}
	return err
}

func (t *txRepo) SoftDeleteInvoiceLines(ctx context.Context, invoiceID int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE supplier_invoice_lines
		SET deleted_at = NOW()
		WHERE supplier_invoice_id = $1 AND deleted_at IS NULL`, invoiceID)
	return err
}

func (t *txRepo) UpdateInvoiceTotals(ctx context.Context, inv SupplierInvoice) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE supplier_invoices
		SET date = $2, due_date = $3, subtotal = $4, discount_percent = $5, discount_amount = $6,
		    tax_amount = $7, grand_total = $8, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		inv.ID, inv.Date, inv.DueDate,
		db.DecimalToNumeric(inv.Subtotal), db.DecimalToNumeric(inv.DiscountPercent),
		db.DecimalToNumeric(inv.DiscountAmount), db.DecimalToNumeric(inv.TaxAmount),
		db.DecimalToNumeric(inv.GrandTotal))
	return err
}

func (t *txRepo) SoftDeleteInvoice(ctx context.Context, invoiceID int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE supplier_invoices SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, invoiceID)
	return err
}

func (t *txRepo) GoodsReceiptLineCoverage(ctx context.Context, grID int64) (int, int, error) {
	var total, covered int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE EXISTS (
		           SELECT 1 FROM supplier_invoice_lines sil
		           WHERE sil.goods_receipt_line_id = grl.id AND sil.deleted_at IS NULL))
		FROM goods_receipt_lines grl
		WHERE grl.goods_receipt_id = $1 AND grl.deleted_at IS NULL`, grID).Scan(&total, &covered)
	return total, covered, err
}

func (t *txRepo) SetGoodsReceiptInvoicingStatus(ctx context.Context, grID int64, status billing.InvoicingStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE goods_receipts SET invoicing_status = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, grID, string(status))
	return err
}

func (t *txRepo) GoodsReceiptIDsForInvoice(ctx context.Context, invoiceID int64) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT DISTINCT grl.goods_receipt_id
		FROM supplier_invoice_lines sil
		JOIN goods_receipt_lines grl ON grl.id = sil.goods_receipt_line_id
		WHERE sil.supplier_invoice_id = $1`, invoiceID)
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
// the same invoice serialize on the payment ceiling check.
func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (SupplierInvoice, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM supplier_invoices
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SupplierInvoice{}, fmt.Errorf("%w: supplier invoice %d", ErrNotFound, id)
	}
	return inv, err
}

func (t *txRepo) SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var sum pgtype.Numeric
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM supplier_payments
		WHERE supplier_invoice_id = $1`, invoiceID).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return db.NumericToDecimal(sum), nil
}

func (t *txRepo) CountPayments(ctx context.Context, invoiceID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM supplier_payments
		WHERE supplier_invoice_id = $1`, invoiceID).Scan(&n)
	return n, err
}

func (t *txRepo) InsertPayment(ctx context.Context, p SupplierPayment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO supplier_payments (code, supplier_invoice_id, amount, method, paid_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id`,
		p.Code, p.InvoiceID, db.DecimalToNumeric(p.Amount), p.Method, p.PaidAt).Scan(&id)
	return id, err
}

func (t *txRepo) SetInvoicePaymentState(ctx context.Context, id int64, paid decimal.Decimal, status billing.PaymentStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE supplier_invoices
		SET paid_amount = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		id, db.DecimalToNumeric(paid), string(status))
	return err
}

const invoiceColumns = `
	id, code, supplier_id, date, due_date, subtotal, discount_percent, discount_amount,
	tax_amount, grand_total, paid_amount, status, created_by, created_at`

func scanInvoice(row pgx.Row) (SupplierInvoice, error) {
	var (
		inv                                          SupplierInvoice
		subtotal, discPct, discAmt, tax, grand, paid pgtype.Numeric
		status                                       string
	)
	err := row.Scan(&inv.ID, &inv.Code, &inv.SupplierID, &inv.Date, &inv.DueDate,
		&subtotal, &discPct, &discAmt, &tax, &grand, &paid, &status,
		&inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		return SupplierInvoice{}, err
	}
	inv.Subtotal = db.NumericToDecimal(subtotal)
	inv.DiscountPercent = db.NumericToDecimal(discPct)
	inv.DiscountAmount = db.NumericToDecimal(discAmt)
	inv.TaxAmount = db.NumericToDecimal(tax)
	inv.GrandTotal = db.NumericToDecimal(grand)
	inv.PaidAmount = db.NumericToDecimal(paid)
	inv.RemainingAmount = billing.RemainingAmount(inv.GrandTotal, inv.PaidAmount)
	inv.Status = billing.PaymentStatus(status)
	return inv, nil
}
