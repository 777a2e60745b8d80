package procurement

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
	"github.com/meridian-erp/meridian/internal/shared"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type memInvoiceLine struct {
	line    SupplierInvoiceLine
	deleted bool
}

type memoryRepo struct {
	pos       map[int64]PurchaseOrder
	poLines   map[int64]POLine
	deadLines map[int64]struct{} // soft-deleted purchase order lines
	grs       map[int64]GoodsReceipt
	grLines   map[int64]GRLine
	grOrders  map[int64]map[int64]struct{}
	invoices  map[int64]SupplierInvoice
	invLines  map[int64]*memInvoiceLine
	payments  map[int64][]SupplierPayment
	levels    map[string]decimal.Decimal
	movements []inventory.AppendInput
	nextID    int64
	failLine  int64 // POLineID that makes stock append fail, for rollback tests
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		pos:       make(map[int64]PurchaseOrder),
		poLines:   make(map[int64]POLine),
		deadLines: make(map[int64]struct{}),
		grs:       make(map[int64]GoodsReceipt),
		grLines:   make(map[int64]GRLine),
		grOrders:  make(map[int64]map[int64]struct{}),
		invoices:  make(map[int64]SupplierInvoice),
		invLines:  make(map[int64]*memInvoiceLine),
		payments:  make(map[int64][]SupplierPayment),
		levels:    make(map[string]decimal.Decimal),
	}
}

func (r *memoryRepo) snapshot() *memoryRepo {
	c := newMemoryRepo()
	for k, v := range r.pos {
		c.pos[k] = v
	}
	for k, v := range r.poLines {
		c.poLines[k] = v
	}
	for k := range r.deadLines {
		c.deadLines[k] = struct{}{}
	}
	for k, v := range r.grs {
		c.grs[k] = v
	}
	for k, v := range r.grLines {
		c.grLines[k] = v
	}
	for k, v := range r.grOrders {
		m := make(map[int64]struct{})
		for id := range v {
			m[id] = struct{}{}
		}
		c.grOrders[k] = m
	}
	for k, v := range r.invoices {
		c.invoices[k] = v
	}
	for k, v := range r.invLines {
		cp := *v
		c.invLines[k] = &cp
	}
	for k, v := range r.payments {
		c.payments[k] = append([]SupplierPayment(nil), v...)
	}
	for k, v := range r.levels {
		c.levels[k] = v
	}
	c.movements = append([]inventory.AppendInput(nil), r.movements...)
	c.nextID = r.nextID
	c.failLine = r.failLine
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

func (r *memoryRepo) GetGoodsReceipt(_ context.Context, id int64) (GoodsReceipt, []GRLine, error) {
	gr, ok := r.grs[id]
	if !ok {
		return GoodsReceipt{}, nil, ErrNotFound
	}
	var lines []GRLine
	for _, line := range r.grLines {
		if line.GoodsReceiptID == id {
			lines = append(lines, line)
		}
	}
	return gr, lines, nil
}

func (r *memoryRepo) GetSupplierInvoice(_ context.Context, id int64) (SupplierInvoice, []SupplierInvoiceLine, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return SupplierInvoice{}, nil, ErrNotFound
	}
	var lines []SupplierInvoiceLine
	for _, il := range r.invLines {
		if il.line.InvoiceID == id && !il.deleted {
			lines = append(lines, il.line)
		}
	}
	return inv, lines, nil
}

func (r *memoryRepo) ListUnreceivedPOLines(_ context.Context, supplierID int64) ([]UnreceivedPOLine, error) {
	var out []UnreceivedPOLine
	for _, line := range r.poLines {
		po := r.pos[line.POID]
		if po.SupplierID != supplierID {
			continue
		}
		received := r.receivedFor(line.ID)
		remaining := fulfillment.Remaining(line.Quantity, received)
		if remaining.Sign() <= 0 {
			continue
		}
		out = append(out, UnreceivedPOLine{
			POLineID:          line.ID,
			POID:              po.ID,
			POCode:            po.Code,
			ItemID:            line.ItemID,
			OrderedQuantity:   line.Quantity,
			UnitPrice:         line.UnitPrice,
			TotalPrice:        line.TotalPrice,
			ReceivedQuantity:  received,
			RemainingQuantity: remaining,
		})
	}
	return out, nil
}

func (r *memoryRepo) ListNotInvoicedGoodsReceipts(_ context.Context, supplierID int64) ([]GoodsReceiptSummary, error) {
	var out []GoodsReceiptSummary
	for _, gr := range r.grs {
		if gr.SupplierID == supplierID && gr.InvoicingStatus == billing.NotInvoiced {
			out = append(out, GoodsReceiptSummary{ID: gr.ID, Code: gr.Code, SupplierID: gr.SupplierID})
		}
	}
	return out, nil
}

func (r *memoryRepo) GoodsReceiptData(ctx context.Context, grID int64) (GoodsReceiptData, error) {
	gr, lines, err := r.GetGoodsReceipt(ctx, grID)
	if err != nil {
		return GoodsReceiptData{}, err
	}
	data := GoodsReceiptData{GoodsReceipt: gr}
	for _, line := range lines {
		data.Lines = append(data.Lines, GoodsReceiptDataLine{
			GRLine:      line,
			TotalAmount: line.TotalPrice.Add(line.TaxAmount),
			Invoiced:    r.lineInvoiced(line.ID),
		})
	}
	return data, nil
}

func (r *memoryRepo) ListGoodsReceipts(context.Context, int, int, ListFilters) ([]GoodsReceipt, int, error) {
	return nil, 0, nil
}

func (r *memoryRepo) ListSupplierInvoices(context.Context, int, int, ListFilters) ([]SupplierInvoice, int, error) {
	return nil, 0, nil
}

func (r *memoryRepo) receivedFor(poLineID int64) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range r.grLines {
		if line.POLineID == poLineID {
			sum = sum.Add(line.Quantity)
		}
	}
	return sum
}

func (r *memoryRepo) lineInvoiced(grLineID int64) bool {
	for _, il := range r.invLines {
		if il.line.GRLineID == grLineID && !il.deleted {
			return true
		}
	}
	return false
}

func (tx *memoryTx) id() int64 {
	tx.repo.nextID++
	return tx.repo.nextID
}

func (tx *memoryTx) GetPurchaseOrder(_ context.Context, id int64) (PurchaseOrder, error) {
	po, ok := tx.repo.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return po, nil
}

func (tx *memoryTx) CreateGoodsReceipt(_ context.Context, gr GoodsReceipt) (int64, error) {
	gr.ID = tx.id()
	tx.repo.grs[gr.ID] = gr
	return gr.ID, nil
}

func (tx *memoryTx) LinkGoodsReceiptOrder(_ context.Context, grID, poID int64) error {
	if tx.repo.grOrders[grID] == nil {
		tx.repo.grOrders[grID] = make(map[int64]struct{})
	}
	tx.repo.grOrders[grID][poID] = struct{}{}
	return nil
}

func (tx *memoryTx) GetPOLineForUpdate(_ context.Context, id int64) (POLine, decimal.Decimal, error) {
	line, ok := tx.repo.poLines[id]
	if !ok {
		return POLine{}, decimal.Zero, ErrNotFound
	}
	if _, dead := tx.repo.deadLines[id]; dead {
		return POLine{}, decimal.Zero, ErrNotFound
	}
	return line, tx.repo.receivedFor(id), nil
}

func (tx *memoryTx) InsertGRLine(_ context.Context, line GRLine) (int64, error) {
	line.ID = tx.id()
	tx.repo.grLines[line.ID] = line
	return line.ID, nil
}

func (tx *memoryTx) AppendStockMovement(_ context.Context, input inventory.AppendInput) (inventory.Entry, error) {
	if tx.repo.failLine > 0 {
		for _, line := range tx.repo.poLines {
			if line.ID == tx.repo.failLine && line.ItemID == input.ItemID {
				return inventory.Entry{}, fmt.Errorf("append stock movement: %w", context.DeadlineExceeded)
			}
		}
	}
	key := fmt.Sprintf("%d:%s:%d", input.ItemID, input.Location.Kind, input.Location.ID)
	prev := tx.repo.levels[key]
	after := prev.Add(input.Quantity)
	tx.repo.levels[key] = after
	tx.repo.movements = append(tx.repo.movements, input)
	return inventory.Entry{ItemID: input.ItemID, PreviousQuantity: prev, AfterQuantity: after}, nil
}

func (tx *memoryTx) GetGRLine(_ context.Context, id int64) (GRLine, int64, error) {
	line, ok := tx.repo.grLines[id]
	if !ok {
		return GRLine{}, 0, ErrNotFound
	}
	return line, tx.repo.grs[line.GoodsReceiptID].SupplierID, nil
}

func (tx *memoryTx) GRLineInvoiced(_ context.Context, grLineID int64) (bool, error) {
	return tx.repo.lineInvoiced(grLineID), nil
}

func (tx *memoryTx) CreateSupplierInvoice(_ context.Context, inv SupplierInvoice) (int64, error) {
	inv.ID = tx.id()
	tx.repo.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (tx *memoryTx) InsertInvoiceLine(_ context.Context, line SupplierInvoiceLine) error {
	if tx.repo.lineInvoiced(line.GRLineID) {
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

func (tx *memoryTx) UpdateInvoiceTotals(_ context.Context, inv SupplierInvoice) error {
	stored := tx.repo.invoices[inv.ID]
	stored.Date = inv.Date
	stored.DueDate = inv.DueDate
	stored.Subtotal = inv.Subtotal
	stored.DiscountPercent = inv.DiscountPercent
	stored.DiscountAmount = inv.DiscountAmount
	stored.TaxAmount = inv.TaxAmount
	stored.GrandTotal = inv.GrandTotal
	tx.repo.invoices[inv.ID] = stored
	return nil
}

func (tx *memoryTx) SoftDeleteInvoice(_ context.Context, invoiceID int64) error {
	delete(tx.repo.invoices, invoiceID)
	return nil
}

func (tx *memoryTx) GoodsReceiptLineCoverage(_ context.Context, grID int64) (int, int, error) {
	total, covered := 0, 0
	for _, line := range tx.repo.grLines {
		if line.GoodsReceiptID != grID {
			continue
		}
		total++
		if tx.repo.lineInvoiced(line.ID) {
			covered++
		}
	}
	return total, covered, nil
}

func (tx *memoryTx) SetGoodsReceiptInvoicingStatus(_ context.Context, grID int64, status billing.InvoicingStatus) error {
	gr := tx.repo.grs[grID]
	gr.InvoicingStatus = status
	tx.repo.grs[grID] = gr
	return nil
}

func (tx *memoryTx) GoodsReceiptIDsForInvoice(_ context.Context, invoiceID int64) ([]int64, error) {
	seen := map[int64]struct{}{}
	var ids []int64
	for _, il := range tx.repo.invLines {
		if il.line.InvoiceID != invoiceID {
			continue
		}
		grID := tx.repo.grLines[il.line.GRLineID].GoodsReceiptID
		if _, ok := seen[grID]; !ok {
			seen[grID] = struct{}{}
			ids = append(ids, grID)
		}
	}
	return ids, nil
}

func (tx *memoryTx) GetInvoiceForUpdate(_ context.Context, id int64) (SupplierInvoice, error) {
	inv, ok := tx.repo.invoices[id]
	if !ok {
		return SupplierInvoice{}, ErrNotFound
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

func (tx *memoryTx) InsertPayment(_ context.Context, p SupplierPayment) (int64, error) {
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

func seedOrder(repo *memoryRepo, supplierID int64, taxRate, qty, price string) (PurchaseOrder, POLine) {
	repo.nextID++
	po := PurchaseOrder{ID: repo.nextID, Code: fmt.Sprintf("PO-%d", repo.nextID), SupplierID: supplierID, TaxRate: d(taxRate), Date: time.Now()}
	repo.pos[po.ID] = po
	repo.nextID++
	line := POLine{
		ID:        repo.nextID,
		POID:      po.ID,
		ItemID:    repo.nextID + 100,
		Quantity:  d(qty),
		UnitPrice: d(price),
	}
	line.TotalPrice = line.Quantity.Mul(line.UnitPrice)
	repo.poLines[line.ID] = line
	return po, line
}

func TestCreateGoodsReceiptReserveSequence(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, line := seedOrder(repo, 1, "0", "100", "2500")

	gr, err := svc.CreateGoodsReceipt(ctx, CreateGoodsReceiptInput{
		SupplierID:  1,
		WarehouseID: 7,
		Lines:       []ReceiptLineInput{{POLineID: line.ID, Quantity: d("60")}},
	})
	require.NoError(t, err)
	require.NotZero(t, gr.ID)

	rows, err := svc.UnreceivedPOLines(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].RemainingQuantity.Equal(d("40")))

	_, err = svc.CreateGoodsReceipt(ctx, CreateGoodsReceiptInput{
		SupplierID:  1,
		WarehouseID: 7,
		Lines:       []ReceiptLineInput{{POLineID: line.ID, Quantity: d("50")}},
	})
	var over *fulfillment.OverReceiptError
	require.ErrorAs(t, err, &over)
	require.True(t, over.Remaining.Equal(d("40")))
	require.True(t, over.Requested.Equal(d("50")))

	// the rejected receipt left nothing behind
	rows, err = svc.UnreceivedPOLines(ctx, 1)
	require.NoError(t, err)
	require.True(t, rows[0].RemainingQuantity.Equal(d("40")))

	_, err = svc.CreateGoodsReceipt(ctx, CreateGoodsReceiptInput{
		SupplierID:  1,
		WarehouseID: 7,
		Lines:       []ReceiptLineInput{{POLineID: line.ID, Quantity: d("40")}},
	})
	require.NoError(t, err)

	rows, err = svc.UnreceivedPOLines(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestCreateGoodsReceiptAtomicRollback(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, lineA := seedOrder(repo, 1, "0", "10", "100")
	_, lineB := seedOrder(repo, 1, "0", "10", "100")
	repo.failLine = lineB.ID

	_, err := svc.CreateGoodsReceipt(ctx, CreateGoodsReceiptInput{
		SupplierID:  1,
		WarehouseID: 7,
		Lines: []ReceiptLineInput{
			{POLineID: lineA.ID, Quantity: d("5")},
			{POLineID: lineB.ID, Quantity: d("5")},
		},
	})
	require.Error(t, err)

	// document, lines and stock entries all rolled back together
	require.Empty(t, repo.grs)
	require.Empty(t, repo.grLines)
	require.Empty(t, repo.movements)
	require.True(t, repo.receivedFor(lineA.ID).IsZero())
}

func TestCreateGoodsReceiptSnapshotsPriceAndTax(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, line := seedOrder(repo, 1, "11", "10", "12500")

	gr, err := svc.CreateGoodsReceipt(ctx, CreateGoodsReceiptInput{
		SupplierID:  1,
		WarehouseID: 7,
		Lines:       []ReceiptLineInput{{POLineID: line.ID, Quantity: d("3")}},
	})
	require.NoError(t, err)

	data, err := svc.GoodsReceiptData(ctx, gr.ID)
	require.NoError(t, err)
	require.Len(t, data.Lines, 1)
	require.True(t, data.Lines[0].TotalPrice.Equal(d("37500")))
	require.True(t, data.Lines[0].TaxAmount.Equal(d("4125")))
	require.True(t, data.Lines[0].TotalAmount.Equal(d("41625")))
}

func TestSupplierInvoiceLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, line := seedOrder(repo, 1, "11", "10", "12500")
	gr, err := svc.CreateGoodsReceipt(ctx, CreateGoodsReceiptInput{
		SupplierID:  1,
		WarehouseID: 7,
		Lines:       []ReceiptLineInput{{POLineID: line.ID, Quantity: d("10")}},
	})
	require.NoError(t, err)

	_, grLines, err := svc.GetGoodsReceipt(ctx, gr.ID)
	require.NoError(t, err)
	require.Len(t, grLines, 1)

	inv, err := svc.CreateSupplierInvoice(ctx, InvoiceInput{
		SupplierID: 1,
		DueDate:    time.Now().AddDate(0, 0, 30),
		GRLineIDs:  []int64{grLines[0].ID},
	})
	require.NoError(t, err)
	require.True(t, inv.Subtotal.Equal(d("125000")))
	require.True(t, inv.TaxAmount.Equal(d("13750")))
	require.True(t, inv.GrandTotal.Equal(d("138750")))
	require.Equal(t, billing.PaymentUnpaid, inv.Status)

	// receipt flips to invoiced once every line is covered
	stored, _, err := svc.GetGoodsReceipt(ctx, gr.ID)
	require.NoError(t, err)
	require.Equal(t, billing.Invoiced, stored.InvoicingStatus)

	// the same receipt line cannot be billed twice
	_, err = svc.CreateSupplierInvoice(ctx, InvoiceInput{
		SupplierID: 1,
		DueDate:    time.Now().AddDate(0, 0, 30),
		GRLineIDs:  []int64{grLines[0].ID},
	})
	require.ErrorIs(t, err, billing.ErrAlreadyInvoiced)

	// deleting the unpaid invoice releases the line and reopens the receipt
	require.NoError(t, svc.DeleteSupplierInvoice(ctx, inv.ID, 0))
	stored, _, err = svc.GetGoodsReceipt(ctx, gr.ID)
	require.NoError(t, err)
	require.Equal(t, billing.NotInvoiced, stored.InvoicingStatus)
}

func TestRegisterPaymentCeiling(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, line := seedOrder(repo, 1, "0", "10", "100000")
	gr, err := svc.CreateGoodsReceipt(ctx, CreateGoodsReceiptInput{
		SupplierID:  1,
		WarehouseID: 7,
		Lines:       []ReceiptLineInput{{POLineID: line.ID, Quantity: d("10")}},
	})
	require.NoError(t, err)

	_, grLines, err := svc.GetGoodsReceipt(ctx, gr.ID)
	require.NoError(t, err)

	inv, err := svc.CreateSupplierInvoice(ctx, InvoiceInput{
		SupplierID: 1,
		DueDate:    time.Now().AddDate(0, 0, 14),
		GRLineIDs:  []int64{grLines[0].ID},
	})
	require.NoError(t, err)
	require.True(t, inv.GrandTotal.Equal(d("1000000")))

	_, err = svc.RegisterPayment(ctx, PaymentInput{InvoiceID: inv.ID, Amount: d("600000"), Method: "transfer"})
	require.NoError(t, err)
	stored, _, err := svc.GetSupplierInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, billing.PaymentPartiallyPaid, stored.Status)
	require.True(t, stored.PaidAmount.Equal(d("600000")))

	_, err = svc.RegisterPayment(ctx, PaymentInput{InvoiceID: inv.ID, Amount: d("400000"), Method: "transfer"})
	require.NoError(t, err)
	stored, _, err = svc.GetSupplierInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, billing.PaymentPaid, stored.Status)

	// the invoice with payments can no longer be edited or deleted
	require.ErrorIs(t, svc.DeleteSupplierInvoice(ctx, inv.ID, 0), billing.ErrInvoiceNotDeletable)

	_, err = svc.RegisterPayment(ctx, PaymentInput{InvoiceID: inv.ID, Amount: d("1"), Method: "transfer"})
	var exceeds *billing.PaymentExceedsError
	require.ErrorAs(t, err, &exceeds)
	require.Len(t, repo.payments[inv.ID], 2)
}

func TestSupplierInvoiceRejectsForeignReceiptLine(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, line := seedOrder(repo, 2, "0", "10", "5000")
	gr, err := svc.CreateGoodsReceipt(ctx, CreateGoodsReceiptInput{
		SupplierID:  2,
		WarehouseID: 7,
		Lines:       []ReceiptLineInput{{POLineID: line.ID, Quantity: d("10")}},
	})
	require.NoError(t, err)

	_, grLines, err := svc.GetGoodsReceipt(ctx, gr.ID)
	require.NoError(t, err)

	// supplier 1 cannot bill a receipt line owned by supplier 2
	_, err = svc.CreateSupplierInvoice(ctx, InvoiceInput{
		SupplierID: 1,
		DueDate:    time.Now().AddDate(0, 0, 30),
		GRLineIDs:  []int64{grLines[0].ID},
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, repo.invoices)
	require.Empty(t, repo.invLines)

	// the receipt line stays open for its own supplier
	_, err = svc.CreateSupplierInvoice(ctx, InvoiceInput{
		SupplierID: 2,
		DueDate:    time.Now().AddDate(0, 0, 30),
		GRLineIDs:  []int64{grLines[0].ID},
	})
	require.NoError(t, err)
}

func TestCreateGoodsReceiptRejectsDeletedOrderLine(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, line := seedOrder(repo, 1, "0", "10", "2500")
	repo.deadLines[line.ID] = struct{}{}

	_, err := svc.CreateGoodsReceipt(ctx, CreateGoodsReceiptInput{
		SupplierID:  1,
		WarehouseID: 7,
		Lines:       []ReceiptLineInput{{POLineID: line.ID, Quantity: d("5")}},
	})
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, repo.grs)
	require.Empty(t, repo.movements)
}

func TestUpdateInvoiceFrozenAfterPayment(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, line := seedOrder(repo, 1, "0", "10", "10000")
	gr, err := svc.CreateGoodsReceipt(ctx, CreateGoodsReceiptInput{
		SupplierID:  1,
		WarehouseID: 7,
		Lines:       []ReceiptLineInput{{POLineID: line.ID, Quantity: d("10")}},
	})
	require.NoError(t, err)

	_, grLines, err := svc.GetGoodsReceipt(ctx, gr.ID)
	require.NoError(t, err)

	inv, err := svc.CreateSupplierInvoice(ctx, InvoiceInput{
		SupplierID: 1,
		DueDate:    time.Now().AddDate(0, 0, 14),
		GRLineIDs:  []int64{grLines[0].ID},
	})
	require.NoError(t, err)

	_, err = svc.RegisterPayment(ctx, PaymentInput{InvoiceID: inv.ID, Amount: d("50000"), Method: "transfer"})
	require.NoError(t, err)

	_, err = svc.UpdateSupplierInvoice(ctx, inv.ID, InvoiceInput{
		SupplierID: 1,
		DueDate:    time.Now().AddDate(0, 0, 30),
		GRLineIDs:  []int64{grLines[0].ID},
	})
	require.ErrorIs(t, err, shared.ErrImmutable)

	// line set untouched by the rejected edit
	_, invLines, err := svc.GetSupplierInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, invLines, 1)
}
