package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/meridian-erp/meridian/internal/billing"
	"github.com/meridian-erp/meridian/internal/platform/db"
)

// GetGoodsReceipt returns a receipt header and its active lines.
func (r *Repository) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, []GRLine, error) {
	var (
		gr     GoodsReceipt
		status string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, supplier_id, warehouse_id, received_at, note, invoicing_status, created_by, created_at
		FROM goods_receipts
		WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&gr.ID, &gr.Code, &gr.SupplierID, &gr.WarehouseID, &gr.ReceivedAt, &gr.Note,
			&status, &gr.CreatedBy, &gr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return GoodsReceipt{}, nil, fmt.Errorf("%w: goods receipt %d", ErrNotFound, id)
	}
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	gr.InvoicingStatus = billing.InvoicingStatus(status)

	rows, err := r.pool.Query(ctx, `
		SELECT id, goods_receipt_id, purchase_order_line_id, item_id, quantity, unit_price, total_price, tax_amount
		FROM goods_receipt_lines
		WHERE goods_receipt_id = $1 AND deleted_at IS NULL
		ORDER BY id`, id)
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	defer rows.Close()

	var lines []GRLine
	for rows.Next() {
		var (
			line                   GRLine
			qty, price, total, tax pgtype.Numeric
		)
		if err := rows.Scan(&line.ID, &line.GoodsReceiptID, &line.POLineID, &line.ItemID,
			&qty, &price, &total, &tax); err != nil {
			return GoodsReceipt{}, nil, err
		}
		line.Quantity = db.NumericToDecimal(qty)
		line.UnitPrice = db.NumericToDecimal(price)
		line.TotalPrice = db.NumericToDecimal(total)
		line.TaxAmount = db.NumericToDecimal(tax)
		lines = append(lines, line)
	}
	return gr, lines, rows.Err()
}

// GetSupplierInvoice returns an invoice header and its active lines.
func (r *Repository) GetSupplierInvoice(ctx context.Context, id int64) (SupplierInvoice, []SupplierInvoiceLine, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM supplier_invoices
		WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SupplierInvoice{}, nil, fmt.Errorf("%w: supplier invoice %d", ErrNotFound, id)
	}
	if err != nil {
		return SupplierInvoice{}, nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, supplier_invoice_id, goods_receipt_line_id, item_id, quantity, unit_price, total_price, tax_amount
		FROM supplier_invoice_lines
		WHERE supplier_invoice_id = $1 AND deleted_at IS NULL
		ORDER BY id`, id)
	if err != nil {
		return SupplierInvoice{}, nil, err
	}
	defer rows.Close()

	var lines []SupplierInvoiceLine
	for rows.Next() {
		var (
			line                   SupplierInvoiceLine
			qty, price, total, tax pgtype.Numeric
		)
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.GRLineID, &line.ItemID,
			&qty, &price, &total, &tax); err != nil {
			return SupplierInvoice{}, nil, err
		}
		line.Quantity = db.NumericToDecimal(qty)
		line.UnitPrice = db.NumericToDecimal(price)
		line.TotalPrice = db.NumericToDecimal(total)
		line.TaxAmount = db.NumericToDecimal(tax)
		lines = append(lines, line)
	}
	return inv, lines, rows.Err()
}

// ListUnreceivedPOLines reports order lines of a supplier with quantity
// still open for receiving. remaining always equals ordered minus the sum
// of active receipt line quantities.
func (r *Repository) ListUnreceivedPOLines(ctx context.Context, supplierID int64) ([]UnreceivedPOLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT pol.id, po.id, po.code,
		       i.id, i.name, i.code, COALESCE(i.abbreviation, ''),
		       pol.quantity, pol.unit_price, pol.total_price,
		       COALESCE(rec.received, 0) AS received
		FROM purchase_order_lines pol
		JOIN purchase_orders po ON po.id = pol.purchase_order_id
		JOIN items i ON i.id = pol.item_id
		LEFT JOIN LATERAL (
			SELECT SUM(grl.quantity) AS received
			FROM goods_receipt_lines grl
			JOIN goods_receipts gr ON gr.id = grl.goods_receipt_id
			WHERE grl.purchase_order_line_id = pol.id
			  AND grl.deleted_at IS NULL AND gr.deleted_at IS NULL
		) rec ON TRUE
		WHERE po.supplier_id = $1
		  AND po.deleted_at IS NULL AND pol.deleted_at IS NULL
		  AND pol.quantity > COALESCE(rec.received, 0)
		ORDER BY po.code, pol.id`, supplierID)
	if err != nil {
		return nil, fmt.Errorf("list unreceived po lines: %w", err)
	}
	defer rows.Close()

	var out []UnreceivedPOLine
	for rows.Next() {
		var (
			row                            UnreceivedPOLine
			ordered, price, total, received pgtype.Numeric
		)
		if err := rows.Scan(&row.POLineID, &row.POID, &row.POCode,
			&row.ItemID, &row.ItemName, &row.ItemCode, &row.ItemAbbreviation,
			&ordered, &price, &total, &received); err != nil {
			return nil, err
		}
		row.OrderedQuantity = db.NumericToDecimal(ordered)
		row.UnitPrice = db.NumericToDecimal(price)
		row.TotalPrice = db.NumericToDecimal(total)
		row.ReceivedQuantity = db.NumericToDecimal(received)
		row.RemainingQuantity = row.OrderedQuantity.Sub(row.ReceivedQuantity)
		out = append(out, row)
	}
	if out == nil {
		out = []UnreceivedPOLine{}
	}
	return out, rows.Err()
}

// ListNotInvoicedGoodsReceipts lists receipts of a supplier that still have
// at least one line without an active invoice line.
func (r *Repository) ListNotInvoicedGoodsReceipts(ctx context.Context, supplierID int64) ([]GoodsReceiptSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT gr.id, gr.code, gr.supplier_id, COALESCE(s.name, ''), gr.received_at
		FROM goods_receipts gr
		LEFT JOIN suppliers s ON s.id = gr.supplier_id
		WHERE gr.supplier_id = $1
		  AND gr.deleted_at IS NULL
		  AND gr.invoicing_status = $2
		ORDER BY gr.received_at, gr.id`, supplierID, string(billing.NotInvoiced))
	if err != nil {
		return nil, fmt.Errorf("list not invoiced receipts: %w", err)
	}
	defer rows.Close()

	var out []GoodsReceiptSummary
	for rows.Next() {
		var s GoodsReceiptSummary
		if err := rows.Scan(&s.ID, &s.Code, &s.SupplierID, &s.SupplierName, &s.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if out == nil {
		out = []GoodsReceiptSummary{}
	}
	return out, rows.Err()
}

// GoodsReceiptData returns the receipt with per-line item info and
// total_amount = total_price + tax_amount, backing the invoicing form.
func (r *Repository) GoodsReceiptData(ctx context.Context, grID int64) (GoodsReceiptData, error) {
	gr, lines, err := r.GetGoodsReceipt(ctx, grID)
	if err != nil {
		return GoodsReceiptData{}, err
	}
	data := GoodsReceiptData{GoodsReceipt: gr, Lines: make([]GoodsReceiptDataLine, 0, len(lines))}
	for _, line := range lines {
		var (
			name, code string
			invoiced   bool
		)
		err := r.pool.QueryRow(ctx, `
			SELECT COALESCE(i.name, ''), COALESCE(i.code, ''),
			       EXISTS (
			           SELECT 1 FROM supplier_invoice_lines sil
			           WHERE sil.goods_receipt_line_id = $1 AND sil.deleted_at IS NULL)
			FROM items i WHERE i.id = $2`, line.ID, line.ItemID).Scan(&name, &code, &invoiced)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceiptData{}, err
		}
		data.Lines = append(data.Lines, GoodsReceiptDataLine{
			GRLine:      line,
			ItemName:    name,
			ItemCode:    code,
			TotalAmount: line.TotalPrice.Add(line.TaxAmount),
			Invoiced:    invoiced,
		})
	}
	return data, nil
}

// ListGoodsReceipts pages through receipts with optional filters.
func (r *Repository) ListGoodsReceipts(ctx context.Context, limit, offset int, filters ListFilters) ([]GoodsReceipt, int, error) {
	countSQL := `SELECT COUNT(*) FROM goods_receipts gr WHERE gr.deleted_at IS NULL`
	dataSQL := `
		SELECT gr.id, gr.code, gr.supplier_id, gr.warehouse_id, gr.received_at, gr.note,
		       gr.invoicing_status, gr.created_by, gr.created_at
		FROM goods_receipts gr
		WHERE gr.deleted_at IS NULL`

	var (
		conds string
		args  []any
	)
	if filters.SupplierID > 0 {
		args = append(args, filters.SupplierID)
		conds += fmt.Sprintf(" AND gr.supplier_id = $%d", len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		conds += fmt.Sprintf(" AND gr.invoicing_status = $%d", len(args))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		conds += fmt.Sprintf(" AND gr.code ILIKE $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, countSQL+conds, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	dataSQL += conds + fmt.Sprintf(" ORDER BY gr.received_at DESC, gr.id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []GoodsReceipt
	for rows.Next() {
		var (
			gr     GoodsReceipt
			status string
		)
		if err := rows.Scan(&gr.ID, &gr.Code, &gr.SupplierID, &gr.WarehouseID, &gr.ReceivedAt,
			&gr.Note, &status, &gr.CreatedBy, &gr.CreatedAt); err != nil {
			return nil, 0, err
		}
		gr.InvoicingStatus = billing.InvoicingStatus(status)
		items = append(items, gr)
	}
	return items, total, rows.Err()
}

// ListSupplierInvoices pages through invoices with optional filters.
func (r *Repository) ListSupplierInvoices(ctx context.Context, limit, offset int, filters ListFilters) ([]SupplierInvoice, int, error) {
	countSQL := `SELECT COUNT(*) FROM supplier_invoices WHERE deleted_at IS NULL`
	dataSQL := `SELECT ` + invoiceColumns + ` FROM supplier_invoices WHERE deleted_at IS NULL`

	var (
		conds string
		args  []any
	)
	if filters.SupplierID > 0 {
		args = append(args, filters.SupplierID)
		conds += fmt.Sprintf(" AND supplier_id = $%d", len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		conds += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		conds += fmt.Sprintf(" AND code ILIKE $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, countSQL+conds, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	dataSQL += conds + fmt.Sprintf(" ORDER BY date DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []SupplierInvoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}
