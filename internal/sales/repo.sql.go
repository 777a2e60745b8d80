package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/billing"
	"github.com/meridian-erp/meridian/internal/masterdata/items"
	"github.com/meridian-erp/meridian/internal/masterdata/locations"
	"github.com/meridian-erp/meridian/internal/platform/db"
)

// GetWaybill returns a waybill header and its active lines.
func (r *Repository) GetWaybill(ctx context.Context, id int64) (Waybill, []WaybillLine, error) {
	var (
		wb           Waybill
		kind, status string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, sales_order_id, customer_id, location_kind, location_id, shipped_at, note,
		       invoicing_status, created_by, created_at
		FROM waybills
		WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&wb.ID, &wb.Code, &wb.SOID, &wb.CustomerID, &kind, &wb.LocationID,
			&wb.ShippedAt, &wb.Note, &status, &wb.CreatedBy, &wb.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Waybill{}, nil, fmt.Errorf("%w: waybill %d", ErrNotFound, id)
	}
	if err != nil {
		return Waybill{}, nil, err
	}
	wb.LocationKind = locations.Kind(kind)
	wb.InvoicingStatus = billing.InvoicingStatus(status)

	rows, err := r.pool.Query(ctx, `
		SELECT id, waybill_id, sales_order_line_id, item_id, quantity, unit_price, total_price
		FROM waybill_lines
		WHERE waybill_id = $1 AND deleted_at IS NULL
		ORDER BY id`, id)
	if err != nil {
		return Waybill{}, nil, err
	}
	defer rows.Close()

	var lines []WaybillLine
	for rows.Next() {
		var (
			line              WaybillLine
			qty, price, total pgtype.Numeric
		)
		if err := rows.Scan(&line.ID, &line.WaybillID, &line.SOLineID, &line.ItemID,
			&qty, &price, &total); err != nil {
			return Waybill{}, nil, err
		}
		line.Quantity = db.NumericToDecimal(qty)
		line.UnitPrice = db.NumericToDecimal(price)
		line.TotalPrice = db.NumericToDecimal(total)
		lines = append(lines, line)
	}
	return wb, lines, rows.Err()
}

// GetSalesInvoice returns an invoice header and its active lines.
func (r *Repository) GetSalesInvoice(ctx context.Context, id int64) (SalesInvoice, []SalesInvoiceLine, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM sales_invoices
		WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SalesInvoice{}, nil, fmt.Errorf("%w: sales invoice %d", ErrNotFound, id)
	}
	if err != nil {
		return SalesInvoice{}, nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, sales_invoice_id, waybill_line_id, item_id, quantity, unit_price, total_price
		FROM sales_invoice_lines
		WHERE sales_invoice_id = $1 AND deleted_at IS NULL
		ORDER BY id`, id)
	if err != nil {
		return SalesInvoice{}, nil, err
	}
	defer rows.Close()

	var lines []SalesInvoiceLine
	for rows.Next() {
		var (
			line              SalesInvoiceLine
			qty, price, total pgtype.Numeric
		)
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.WBLineID, &line.ItemID,
			&qty, &price, &total); err != nil {
			return SalesInvoice{}, nil, err
		}
		line.Quantity = db.NumericToDecimal(qty)
		line.UnitPrice = db.NumericToDecimal(price)
		line.TotalPrice = db.NumericToDecimal(total)
		lines = append(lines, line)
	}
	return inv, lines, rows.Err()
}

// ListUndeliveredSOLines reports order lines of a customer with quantity
// still open for shipping. remaining always equals ordered minus the sum of
// active waybill line quantities.
func (r *Repository) ListUndeliveredSOLines(ctx context.Context, customerID int64) ([]UndeliveredSOLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sol.id, so.id, so.code,
		       i.id, i.name, i.code,
		       sol.quantity, sol.unit_price, sol.total_price,
		       COALESCE(del.delivered, 0) AS delivered
		FROM sales_order_lines sol
		JOIN sales_orders so ON so.id = sol.sales_order_id
		JOIN items i ON i.id = sol.item_id
		LEFT JOIN LATERAL (
			SELECT SUM(wl.quantity) AS delivered
			FROM waybill_lines wl
			JOIN waybills wb ON wb.id = wl.waybill_id
			WHERE wl.sales_order_line_id = sol.id
			  AND wl.deleted_at IS NULL AND wb.deleted_at IS NULL
		) del ON TRUE
		WHERE so.customer_id = $1
		  AND so.deleted_at IS NULL AND sol.deleted_at IS NULL
		  AND sol.quantity > COALESCE(del.delivered, 0)
		ORDER BY so.code, sol.id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list undelivered so lines: %w", err)
	}
	defer rows.Close()

	var out []UndeliveredSOLine
	for rows.Next() {
		var (
			row                            UndeliveredSOLine
			ordered, price, total, shipped pgtype.Numeric
		)
		if err := rows.Scan(&row.SOLineID, &row.SOID, &row.SOCode,
			&row.ItemID, &row.ItemName, &row.ItemCode,
			&ordered, &price, &total, &shipped); err != nil {
			return nil, err
		}
		row.OrderedQuantity = db.NumericToDecimal(ordered)
		row.UnitPrice = db.NumericToDecimal(price)
		row.TotalPrice = db.NumericToDecimal(total)
		row.DeliveredQuantity = db.NumericToDecimal(shipped)
		row.RemainingQuantity = row.OrderedQuantity.Sub(row.DeliveredQuantity)
		out = append(out, row)
	}
	if out == nil {
		out = []UndeliveredSOLine{}
	}
	return out, rows.Err()
}

// ListNotInvoicedWaybills lists waybills of a customer that still have at
// least one line without an active invoice line.
func (r *Repository) ListNotInvoicedWaybills(ctx context.Context, customerID int64) ([]WaybillSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT wb.id, wb.code, wb.customer_id, COALESCE(c.name, ''), wb.shipped_at
		FROM waybills wb
		LEFT JOIN customers c ON c.id = wb.customer_id
		WHERE wb.customer_id = $1
		  AND wb.deleted_at IS NULL
		  AND wb.invoicing_status = $2
		ORDER BY wb.shipped_at, wb.id`, customerID, string(billing.NotInvoiced))
	if err != nil {
		return nil, fmt.Errorf("list not invoiced waybills: %w", err)
	}
	defer rows.Close()

	var out []WaybillSummary
	for rows.Next() {
		var s WaybillSummary
		if err := rows.Scan(&s.ID, &s.Code, &s.CustomerID, &s.CustomerName, &s.ShippedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if out == nil {
		out = []WaybillSummary{}
	}
	return out, rows.Err()
}

// WaybillData returns the waybill with the full item nested per line and
// the shipped quantity restated in wholesale packs where the item has one.
// The wholesale figure is derived at read time from the stored standard
// quantity.
func (r *Repository) WaybillData(ctx context.Context, waybillID int64) (WaybillData, error) {
	wb, lines, err := r.GetWaybill(ctx, waybillID)
	if err != nil {
		return WaybillData{}, err
	}
	data := WaybillData{Waybill: wb, Lines: make([]WaybillDataLine, 0, len(lines))}
	for _, line := range lines {
		var (
			item     items.Item
			factor   pgtype.Numeric
			invoiced bool
		)
		err := r.pool.QueryRow(ctx, `
			SELECT i.id, i.code, i.name, COALESCE(i.abbreviation, ''),
			       i.standard_unit, COALESCE(i.wholesale_unit, ''), COALESCE(i.wholesale_factor, 0),
			       EXISTS (
			           SELECT 1 FROM sales_invoice_lines sil
			           WHERE sil.waybill_line_id = $1 AND sil.deleted_at IS NULL)
			FROM items i WHERE i.id = $2`, line.ID, line.ItemID).
			Scan(&item.ID, &item.Code, &item.Name, &item.Abbreviation,
				&item.StandardUnit, &item.WholesaleUnit, &factor, &invoiced)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return WaybillData{}, err
		}
		item.WholesaleFactor = db.NumericToDecimal(factor)

		wholesale := decimal.Zero
		if item.HasWholesaleUnit() {
			wholesale, err = items.ToWholesale(item, line.Quantity)
			if err != nil {
				return WaybillData{}, err
			}
		}
		data.Lines = append(data.Lines, WaybillDataLine{
			WaybillLine:       line,
			Item:              item,
			WholesaleQuantity: wholesale,
			Invoiced:          invoiced,
		})
	}
	return data, nil
}

// ListWaybills pages through waybills with optional filters.
func (r *Repository) ListWaybills(ctx context.Context, limit, offset int, filters ListFilters) ([]Waybill, int, error) {
	countSQL := `SELECT COUNT(*) FROM waybills wb WHERE wb.deleted_at IS NULL`
	dataSQL := `
		SELECT wb.id, wb.code, wb.sales_order_id, wb.customer_id, wb.location_kind, wb.location_id,
		       wb.shipped_at, wb.note, wb.invoicing_status, wb.created_by, wb.created_at
		FROM waybills wb
		WHERE wb.deleted_at IS NULL`

	var (
		conds string
		args  []any
	)
	if filters.CustomerID > 0 {
		args = append(args, filters.CustomerID)
		conds += fmt.Sprintf(" AND wb.customer_id = $%d", len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		conds += fmt.Sprintf(" AND wb.invoicing_status = $%d", len(args))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		conds += fmt.Sprintf(" AND wb.code ILIKE $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, countSQL+conds, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	dataSQL += conds + fmt.Sprintf(" ORDER BY wb.shipped_at DESC, wb.id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Waybill
	for rows.Next() {
		var (
			wb           Waybill
			kind, status string
		)
		if err := rows.Scan(&wb.ID, &wb.Code, &wb.SOID, &wb.CustomerID, &kind, &wb.LocationID,
			&wb.ShippedAt, &wb.Note, &status, &wb.CreatedBy, &wb.CreatedAt); err != nil {
			return nil, 0, err
		}
		wb.LocationKind = locations.Kind(kind)
		wb.InvoicingStatus = billing.InvoicingStatus(status)
		out = append(out, wb)
	}
	return out, total, rows.Err()
}

// ListSalesInvoices pages through invoices with optional filters.
func (r *Repository) ListSalesInvoices(ctx context.Context, limit, offset int, filters ListFilters) ([]SalesInvoice, int, error) {
	countSQL := `SELECT COUNT(*) FROM sales_invoices WHERE deleted_at IS NULL`
	dataSQL := `SELECT ` + invoiceColumns + ` FROM sales_invoices WHERE deleted_at IS NULL`

	var (
		conds string
		args  []any
	)
	if filters.CustomerID > 0 {
		args = append(args, filters.CustomerID)
		conds += fmt.Sprintf(" AND customer_id = $%d", len(args))
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

	var out []SalesInvoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}
