package sales

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/billing"
	"github.com/meridian-erp/meridian/internal/fulfillment"
	"github.com/meridian-erp/meridian/internal/inventory"
	"github.com/meridian-erp/meridian/internal/masterdata/items"
	"github.com/meridian-erp/meridian/internal/masterdata/locations"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type memInvoiceLine struct {
	line    SalesInvoiceLine
	deleted bool
}

type memoryRepo struct {
	sos       map[int64]SalesOrder
	soLines   map[int64]SOLine
	waybills  map[int64]Waybill
	wbLines   map[int64]WaybillLine
	invoices  map[int64]SalesInvoice
	invLines  map[int64]*memInvoiceLine
	payments  map[int64][]CustomerPayment
	items     map[int64]items.Item
	levels    map[string]decimal.Decimal
	movements []inventory.AppendInput
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		sos:      make(map[int64]SalesOrder),
		soLines:  make(map[int64]SOLine),
		waybills: make(map[int64]Waybill),
		wbLines:  make(map[int64]WaybillLine),
		invoices: make(map[int64]SalesInvoice),
		invLines: make(map[int64]*memInvoiceLine),
		payments: make(map[int64][]CustomerPayment),
		items:    make(map[int64]items.Item),
		levels:   make(map[string]decimal.Decimal),
	}
}

func (r *memoryRepo) snapshot() *memoryRepo {
	c := newMemoryRepo()
	for k, v := range r.sos {
		c.sos[k] = v
	}
	for k, v := range r.soLines {
		c.soLines[k] = v
	}
	for k, v := range r.waybills {
		c.waybills[k] = v
	}
	for k, v := range r.wbLines {
		c.wbLines[k] = v
	}
	for k, v := range r.invoices {
		c.invoices[k] = v
	}
	for k, v := range r.invLines {
		cp := *v
		c.invLines[k] = &cp
	}
	for k, v := range r.payments {
		c.payments[k] = append([]CustomerPayment(nil), v...)
	}
	for k, v := range r.items {
		c.items[k] = v
	}
	for k, v := range r.levels {
		c.levels[k] = v
	}
	c.movements = append([]inventory.AppendInput(nil), r.movements...)
	c.nextID = r.nextID
	return c
}

func (r *memoryRepo) restore(s *memoryRepo) {
	*r = *s
}

// WithTx mimics transactional rollback: on error all writes are discarded.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	before := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(before)
		return err
	}
	return nil
}

func (r *memoryRepo) GetWaybill(_ context.Context, id int64) (Waybill, []WaybillLine, error) {
	wb, ok := r.waybills[id]
	if !ok {
		return Waybill{}, nil, ErrNotFound
	}
	var lines []WaybillLine
	for _, line := range r.wbLines {
		if line.WaybillID == id {
			lines = append(lines, line)
		}
	}
	return wb, lines, nil
}

func (r *memoryRepo) GetSalesInvoice(_ context.Context, id int64) (SalesInvoice, []SalesInvoiceLine, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return SalesInvoice{}, nil, ErrNotFound
	}
	var lines []SalesInvoiceLine
	for _, il := range r.invLines {
		if il.line.InvoiceID == id && !il.deleted {
			lines = append(lines, il.line)
		}
	}
	return inv, lines, nil
}

func (r *memoryRepo) ListUndeliveredSOLines(_ context.Context, customerID int64) ([]UndeliveredSOLine, error) {
	var out []UndeliveredSOLine
	for _, line := range r.soLines {
		so := r.sos[line.SOID]
		if so.CustomerID != customerID {
			continue
		}
		delivered := r.deliveredFor(line.ID)
		remaining := fulfillment.Remaining(line.Quantity, delivered)
		if remaining.Sign() <= 0 {
			continue
		}
		out = append(out, UndeliveredSOLine{
			SOLineID:          line.ID,
			SOID:              so.ID,
			SOCode:            so.Code,
			ItemID:            line.ItemID,
			OrderedQuantity:   line.Quantity,
			UnitPrice:         line.UnitPrice,
			TotalPrice:        line.TotalPrice,
			DeliveredQuantity: delivered,
			RemainingQuantity: remaining,
		})
	}
	return out, nil
}

func (r *memoryRepo) ListNotInvoicedWaybills(_ context.Context, customerID int64) ([]WaybillSummary, error) {
	var out []WaybillSummary
	for _, wb := range r.waybills {
		if wb.CustomerID == customerID && wb.InvoicingStatus == billing.NotInvoiced {
			out = append(out, WaybillSummary{ID: wb.ID, Code: wb.Code, CustomerID: wb.CustomerID})
		}
	}
	return out, nil
}

func (r *memoryRepo) WaybillData(ctx context.Context, waybillID int64) (WaybillData, error) {
	wb, lines, err := r.GetWaybill(ctx, waybillID)
	if err != nil {
		return WaybillData{}, err
	}
	data := WaybillData{Waybill: wb}
	for _, line := range lines {
		item := r.items[line.ItemID]
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
			Invoiced:          r.lineInvoiced(line.ID),
		})
	}
	return data, nil
}

func (r *memoryRepo) ListWaybills(context.Context, int, int, ListFilters) ([]Waybill, int, error) {
	return nil, 0, nil
}

func (r *memoryRepo) ListSalesInvoices(context.Context, int, int, ListFilters) ([]SalesInvoice, int, error) {
	return nil, 0, nil
}

func (r *memoryRepo) deliveredFor(soLineID int64) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range r.wbLines {
		if line.SOLineID == soLineID {
			sum = sum.Add(line.Quantity)
		}
	}
	return sum
}

func (r *memoryRepo) lineInvoiced(wbLineID int64) bool {
	for _, il := range r.invLines {
		if il.line.WBLineID == wbLineID && !il.deleted {
			return true
		}
	}
	return false
}

func (tx *memoryTx) id() int64 {
	tx.repo.nextID++
	return tx.repo.nextID
}

func (tx *memoryTx) GetSalesOrder(_ context.Context, id int64) (SalesOrder, error) {
	so, ok := tx.repo.sos[id]
	if !ok {
		return SalesOrder{}, ErrNotFound
	}
	return so, nil
}

func (tx *memoryTx) GetSOLineForUpdate(_ context.Context, id int64) (SOLine, decimal.Decimal, error) {
	line, ok := tx.repo.soLines[id]
	if !ok {
		return SOLine{}, decimal.Zero, ErrNotFound
	}
	return line, tx.repo.deliveredFor(id), nil
}

func (tx *memoryTx) CreateWaybill(_ context.Context, wb Waybill) (int64, error) {
	wb.ID = tx.id()
	tx.repo.waybills[wb.ID] = wb
	return wb.ID, nil
}

func (tx *memoryTx) InsertWaybillLine(_ context.Context, line WaybillLine) (int64, error) {
	line.ID = tx.id()
	tx.repo.wbLines[line.ID] = line
	return line.ID, nil
}

func (tx *memoryTx) AppendStockMovement(_ context.Context, input inventory.AppendInput) (inventory.Entry, error) {
	key := fmt.Sprintf("%d:%s:%d", input.ItemID, input.Location.Kind, input.Location.ID)
	prev := tx.repo.levels[key]
	after := prev
	switch input.Type {
	case inventory.MovementOut:
		after = prev.Sub(input.Quantity)
		if after.Sign() < 0 {
			return inventory.Entry{}, fmt.Errorf("%w: balance %s, requested %s",
				inventory.ErrNegativeStock, prev, input.Quantity)
		}
	default:
		after = prev.Add(input.Quantity)
	}
	tx.repo.levels[key] = after
	tx.repo.movements = append(tx.repo.movements, input)
	return inventory.Entry{ItemID: input.ItemID, PreviousQuantity: prev, AfterQuantity: after}, nil
}

func (tx *memoryTx) GetWaybillLine(_ context.Context, id int64) (WaybillLine, int64, error) {
	line, ok := tx.repo.wbLines[id]
	if !ok {
		return WaybillLine{}, 0, ErrNotFound
	}
	return line, tx.repo.waybills[line.WaybillID].CustomerID, nil
}

func (tx *memoryTx) WaybillLineInvoiced(_ context.Context, wbLineID int64) (bool, error) {
	return tx.repo.lineInvoiced(wbLineID), nil
}

func (tx *memoryTx) CreateSalesInvoice(_ context.Context, inv SalesInvoice) (int64, error) {
	inv.ID = tx.id()
	tx.repo.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (tx *memoryTx) InsertInvoiceLine(_ context.Context, line SalesInvoiceLine) error {
	if tx.repo.lineInvoiced(line.WBLineID) {
		return billing.ErrAlreadyInvoiced
	}
	line.ID = tx.id()
	tx.repo.invLines[line.ID] = &memInvoiceLine{line: line}
	return nil
}

func (tx *memoryTx) SoftDeleteInvoiceLines(_ context.Context, invoiceID int64) error {
	for _, il := range tx.repo.invLines {
		if il.line.InvoiceID == invoiceID {
			il.deleted = true
		}
	}
	return nil
}

func (tx *memoryTx) UpdateInvoiceTotals(_ context.Context, inv SalesInvoice) error {
	stored := tx.repo.invoices[inv.ID]
	stored.Date = inv.Date
	stored.DueDate = inv.DueDate
	stored.Subtotal = inv.Subtotal
	stored.DiscountPercent = inv.DiscountPercent
	stored.DiscountAmount = inv.DiscountAmount
	stored.TaxRate = inv.TaxRate
	stored.TaxAmount = inv.TaxAmount
	stored.GrandTotal = inv.GrandTotal
	tx.repo.invoices[inv.ID] = stored
	return nil
}

func (tx *memoryTx) SoftDeleteInvoice(_ context.Context, invoiceID int64) error {
	delete(tx.repo.invoices, invoiceID)
	return nil
}

func (tx *memoryTx) WaybillLineCoverage(_ context.Context, waybillID int64) (int, int, error) {
	total, covered := 0, 0
	for _, line := range tx.repo.wbLines {
		if line.WaybillID != waybillID {
			continue
		}
		total++
		if tx.repo.lineInvoiced(line.ID) {
			covered++
		}
	}
	return total, covered, nil
}

func (tx *memoryTx) SetWaybillInvoicingStatus(_ context.Context, waybillID int64, status billing.InvoicingStatus) error {
	wb := tx.repo.waybills[waybillID]
	wb.InvoicingStatus = status
	tx.repo.waybills[waybillID] = wb
	return nil
}

func (tx *memoryTx) WaybillIDsForInvoice(_ context.Context, invoiceID int64) ([]int64, error) {
	seen := map[int64]struct{}{}
	var ids []int64
	for _, il := range tx.repo.invLines {
		if il.line.InvoiceID != invoiceID {
			continue
		}
		wbID := tx.repo.wbLines[il.line.WBLineID].WaybillID
		if _, ok := seen[wbID]; !ok {
			seen[wbID] = struct{}{}
			ids = append(ids, wbID)
		}
	}
	return ids, nil
}

func (tx *memoryTx) GetInvoiceForUpdate(_ context.Context, id int64) (SalesInvoice, error) {
	inv, ok := tx.repo.invoices[id]
	if !ok {
		return SalesInvoice{}, ErrNotFound
	}
	return inv, nil
}

func (tx *memoryTx) SumPayments(_ context.Context, invoiceID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range tx.repo.payments[invoiceID] {
		sum = sum.Add(p.Amount)
	}
	return sum, nil
}

func (tx *memoryTx) CountPayments(_ context.Context, invoiceID int64) (int, error) {
	return len(tx.repo.payments[invoiceID]), nil
}

func (tx *memoryTx) InsertPayment(_ context.Context, p CustomerPayment) (int64, error) {
	p.ID = tx.id()
	tx.repo.payments[p.InvoiceID] = append(tx.repo.payments[p.InvoiceID], p)
	return p.ID, nil
}

func (tx *memoryTx) SetInvoicePaymentState(_ context.Context, id int64, paid decimal.Decimal, status billing.PaymentStatus) error {
	inv := tx.repo.invoices[id]
	inv.PaidAmount = paid
	inv.Status = status
	tx.repo.invoices[id] = inv
	return nil
}

func seedOrder(repo *memoryRepo, customerID int64, qty, price string) (SalesOrder, SOLine) {
	repo.nextID++
	so := SalesOrder{ID: repo.nextID, Code: fmt.Sprintf("SO-%d", repo.nextID), CustomerID: customerID, Date: time.Now()}
	repo.sos[so.ID] = so
	repo.nextID++
	line := SOLine{
		ID:        repo.nextID,
		SOID:      so.ID,
		ItemID:    repo.nextID + 100,
		Quantity:  d(qty),
		UnitPrice: d(price),
	}
	line.TotalPrice = line.Quantity.Mul(line.UnitPrice)
	repo.soLines[line.ID] = line
	return so, line
}

func seedStock(repo *memoryRepo, itemID int64, kind locations.Kind, locID int64, qty string) {
	repo.levels[fmt.Sprintf("%d:%s:%d", itemID, kind, locID)] = d(qty)
}

func TestCreateWaybillReserveSequence(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	so, line := seedOrder(repo, 1, "100", "2500")
	seedStock(repo, line.ItemID, locations.KindWarehouse, 7, "1000")

	wb, err := svc.CreateWaybill(ctx, CreateWaybillInput{
		SOID:         so.ID,
		LocationKind: locations.KindWarehouse,
		LocationID:   7,
		Lines:        []WaybillLineInput{{SOLineID: line.ID, Quantity: d("60")}},
	})
	require.NoError(t, err)
	require.NotZero(t, wb.ID)
	require.Equal(t, so.CustomerID, wb.CustomerID)

	rows, err := svc.UndeliveredSOLines(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].RemainingQuantity.Equal(d("40")))

	_, err = svc.CreateWaybill(ctx, CreateWaybillInput{
		SOID:         so.ID,
		LocationKind: locations.KindWarehouse,
		LocationID:   7,
		Lines:        []WaybillLineInput{{SOLineID: line.ID, Quantity: d("50")}},
	})
	var over *fulfillment.OverReceiptError
	require.ErrorAs(t, err, &over)
	require.True(t, over.Remaining.Equal(d("40")))
	require.True(t, over.Requested.Equal(d("50")))

	_, err = svc.CreateWaybill(ctx, CreateWaybillInput{
		SOID:         so.ID,
		LocationKind: locations.KindWarehouse,
		LocationID:   7,
		Lines:        []WaybillLineInput{{SOLineID: line.ID, Quantity: d("40")}},
	})
	require.NoError(t, err)

	rows, err = svc.UndeliveredSOLines(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestCreateWaybillOversellRollback(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	so, lineA := seedOrder(repo, 1, "10", "100")
	lineB := SOLine{ID: 999, SOID: so.ID, ItemID: 501, Quantity: d("10"), UnitPrice: d("100"), TotalPrice: d("1000")}
	repo.soLines[lineB.ID] = lineB
	seedStock(repo, lineA.ItemID, locations.KindBranch, 3, "100")
	seedStock(repo, lineB.ItemID, locations.KindBranch, 3, "4")

	_, err := svc.CreateWaybill(ctx, CreateWaybillInput{
		SOID:         so.ID,
		LocationKind: locations.KindBranch,
		LocationID:   3,
		Lines: []WaybillLineInput{
			{SOLineID: lineA.ID, Quantity: d("5")},
			{SOLineID: lineB.ID, Quantity: d("5")},
		},
	})
	require.ErrorIs(t, err, inventory.ErrNegativeStock)

	// document, lines, stock entries and balances all rolled back together
	require.Empty(t, repo.waybills)
	require.Empty(t, repo.wbLines)
	require.Empty(t, repo.movements)
	require.True(t, repo.levels[fmt.Sprintf("%d:%s:%d", lineA.ItemID, locations.KindBranch, int64(3))].Equal(d("100")))
}

func TestCreateWaybillRejectsForeignOrderLine(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	so, _ := seedOrder(repo, 1, "10", "100")
	_, other := seedOrder(repo, 1, "10", "100")
	seedStock(repo, other.ItemID, locations.KindWarehouse, 7, "100")

	_, err := svc.CreateWaybill(ctx, CreateWaybillInput{
		SOID:         so.ID,
		LocationKind: locations.KindWarehouse,
		LocationID:   7,
		Lines:        []WaybillLineInput{{SOLineID: other.ID, Quantity: d("5")}},
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, repo.waybills)
}

func TestSalesInvoiceTaxOnDiscountedSubtotal(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	so, line := seedOrder(repo, 1, "10", "10000")
	seedStock(repo, line.ItemID, locations.KindWarehouse, 7, "100")

	wb, err := svc.CreateWaybill(ctx, CreateWaybillInput{
		SOID:         so.ID,
		LocationKind: locations.KindWarehouse,
		LocationID:   7,
		Lines:        []WaybillLineInput{{SOLineID: line.ID, Quantity: d("10")}},
	})
	require.NoError(t, err)

	_, wbLines, err := svc.GetWaybill(ctx, wb.ID)
	require.NoError(t, err)
	require.Len(t, wbLines, 1)

	inv, err := svc.CreateSalesInvoice(ctx, InvoiceInput{
		CustomerID: 1,
		DueDate:    time.Now().AddDate(0, 0, 30),
		Discount:   billing.Discount{Percent: d("10")},
		TaxRate:    d("11"),
		WBLineIDs:  []int64{wbLines[0].ID},
	})
	require.NoError(t, err)
	require.True(t, inv.Subtotal.Equal(d("100000")))
	require.True(t, inv.DiscountAmount.Equal(d("10000")))
	// tax applies to the discounted subtotal, not the raw one
	require.True(t, inv.TaxAmount.Equal(d("9900")))
	require.True(t, inv.GrandTotal.Equal(d("99900")))
	require.Equal(t, billing.PaymentUnpaid, inv.Status)

	// waybill flips to invoiced once every line is covered
	stored, _, err := svc.GetWaybill(ctx, wb.ID)
	require.NoError(t, err)
	require.Equal(t, billing.Invoiced, stored.InvoicingStatus)

	// the same waybill line cannot be billed twice
	_, err = svc.CreateSalesInvoice(ctx, InvoiceInput{
		CustomerID: 1,
		DueDate:    time.Now().AddDate(0, 0, 30),
		TaxRate:    d("11"),
		WBLineIDs:  []int64{wbLines[0].ID},
	})
	require.ErrorIs(t, err, billing.ErrAlreadyInvoiced)

	// deleting the unpaid invoice releases the line and reopens the waybill
	require.NoError(t, svc.DeleteSalesInvoice(ctx, inv.ID, 0))
	stored, _, err = svc.GetWaybill(ctx, wb.ID)
	require.NoError(t, err)
	require.Equal(t, billing.NotInvoiced, stored.InvoicingStatus)
}

func TestRegisterPaymentCeiling(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	so, line := seedOrder(repo, 1, "10", "100000")
	seedStock(repo, line.ItemID, locations.KindWarehouse, 7, "50")

	wb, err := svc.CreateWaybill(ctx, CreateWaybillInput{
		SOID:         so.ID,
		LocationKind: locations.KindWarehouse,
		LocationID:   7,
		Lines:        []WaybillLineInput{{SOLineID: line.ID, Quantity: d("10")}},
	})
	require.NoError(t, err)

	_, wbLines, err := svc.GetWaybill(ctx, wb.ID)
	require.NoError(t, err)

	inv, err := svc.CreateSalesInvoice(ctx, InvoiceInput{
		CustomerID: 1,
		DueDate:    time.Now().AddDate(0, 0, 14),
		WBLineIDs:  []int64{wbLines[0].ID},
	})
	require.NoError(t, err)
	require.True(t, inv.GrandTotal.Equal(d("1000000")))

	_, err = svc.RegisterPayment(ctx, PaymentInput{InvoiceID: inv.ID, Amount: d("600000"), Method: "transfer"})
	require.NoError(t, err)
	stored, _, err := svc.GetSalesInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, billing.PaymentPartiallyPaid, stored.Status)
	require.True(t, stored.PaidAmount.Equal(d("600000")))

	_, err = svc.RegisterPayment(ctx, PaymentInput{InvoiceID: inv.ID, Amount: d("400000"), Method: "transfer"})
	require.NoError(t, err)
	stored, _, err = svc.GetSalesInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, billing.PaymentPaid, stored.Status)

	// the invoice with payments can no longer be edited or deleted
	require.ErrorIs(t, svc.DeleteSalesInvoice(ctx, inv.ID, 0), billing.ErrInvoiceNotDeletable)

	_, err = svc.RegisterPayment(ctx, PaymentInput{InvoiceID: inv.ID, Amount: d("1"), Method: "transfer"})
	var exceeds *billing.PaymentExceedsError
	require.ErrorAs(t, err, &exceeds)
	require.Len(t, repo.payments[inv.ID], 2)
}

func TestWaybillDataDerivesWholesaleQuantity(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	so, line := seedOrder(repo, 1, "24", "5000")
	repo.items[line.ItemID] = items.Item{
		ID:              line.ItemID,
		Code:            "ITM-1",
		Name:            "Bottled Water",
		StandardUnit:    "bottle",
		WholesaleUnit:   "crate",
		WholesaleFactor: d("12"),
	}
	seedStock(repo, line.ItemID, locations.KindWarehouse, 7, "100")

	wb, err := svc.CreateWaybill(ctx, CreateWaybillInput{
		SOID:         so.ID,
		LocationKind: locations.KindWarehouse,
		LocationID:   7,
		Lines:        []WaybillLineInput{{SOLineID: line.ID, Quantity: d("24")}},
	})
	require.NoError(t, err)

	data, err := svc.WaybillData(ctx, wb.ID)
	require.NoError(t, err)
	require.Len(t, data.Lines, 1)
	require.True(t, data.Lines[0].Quantity.Equal(d("24")))
	require.True(t, data.Lines[0].WholesaleQuantity.Equal(d("2")))
	require.False(t, data.Lines[0].Invoiced)
}

func TestSalesInvoiceRejectsForeignWaybillLine(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	so, line := seedOrder(repo, 2, "10", "5000")
	seedStock(repo, line.ItemID, locations.KindWarehouse, 7, "100")

	wb, err := svc.CreateWaybill(ctx, CreateWaybillInput{
		SOID:         so.ID,
		LocationKind: locations.KindWarehouse,
		LocationID:   7,
		Lines:        []WaybillLineInput{{SOLineID: line.ID, Quantity: d("10")}},
	})
	require.NoError(t, err)

	_, wbLines, err := svc.GetWaybill(ctx, wb.ID)
	require.NoError(t, err)

	// customer 1 cannot bill a waybill line owned by customer 2
	_, err = svc.CreateSalesInvoice(ctx, InvoiceInput{
		CustomerID: 1,
		DueDate:    time.Now().AddDate(0, 0, 30),
		WBLineIDs:  []int64{wbLines[0].ID},
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, repo.invoices)
	require.Empty(t, repo.invLines)

	// the waybill line stays open for its own customer
	_, err = svc.CreateSalesInvoice(ctx, InvoiceInput{
		CustomerID: 2,
		DueDate:    time.Now().AddDate(0, 0, 30),
		WBLineIDs:  []int64{wbLines[0].ID},
	})
	require.NoError(t, err)
}

func TestUpdateInvoiceRejectsNonUnpaidStatus(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	so, line := seedOrder(repo, 1, "10", "5000")
	seedStock(repo, line.ItemID, locations.KindWarehouse, 7, "100")

	wb, err := svc.CreateWaybill(ctx, CreateWaybillInput{
		SOID:         so.ID,
		LocationKind: locations.KindWarehouse,
		LocationID:   7,
		Lines:        []WaybillLineInput{{SOLineID: line.ID, Quantity: d("10")}},
	})
	require.NoError(t, err)

	_, wbLines, err := svc.GetWaybill(ctx, wb.ID)
	require.NoError(t, err)

	inv, err := svc.CreateSalesInvoice(ctx, InvoiceInput{
		CustomerID: 1,
		DueDate:    time.Now().AddDate(0, 0, 30),
		WBLineIDs:  []int64{wbLines[0].ID},
	})
	require.NoError(t, err)

	// a status moved off unpaid blocks edits even with the payment rows gone
	stored := repo.invoices[inv.ID]
	stored.Status = billing.PaymentPartiallyPaid
	repo.invoices[inv.ID] = stored

	_, err = svc.UpdateSalesInvoice(ctx, inv.ID, InvoiceInput{
		CustomerID: 1,
		DueDate:    time.Now().AddDate(0, 0, 30),
		WBLineIDs:  []int64{wbLines[0].ID},
	})
	require.ErrorIs(t, err, ErrInvalidState)
}
