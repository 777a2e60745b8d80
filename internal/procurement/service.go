package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/billing"
	"github.com/meridian-erp/meridian/internal/fulfillment"
	"github.com/meridian-erp/meridian/internal/inventory"
	"github.com/meridian-erp/meridian/internal/masterdata/locations"
	"github.com/meridian-erp/meridian/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, []GRLine, error)
	GetSupplierInvoice(ctx context.Context, id int64) (SupplierInvoice, []SupplierInvoiceLine, error)
	ListUnreceivedPOLines(ctx context.Context, supplierID int64) ([]UnreceivedPOLine, error)
	ListNotInvoicedGoodsReceipts(ctx context.Context, supplierID int64) ([]GoodsReceiptSummary, error)
	GoodsReceiptData(ctx context.Context, grID int64) (GoodsReceiptData, error)
	ListGoodsReceipts(ctx context.Context, limit, offset int, filters ListFilters) ([]GoodsReceipt, int, error)
	ListSupplierInvoices(ctx context.Context, limit, offset int, filters ListFilters) ([]SupplierInvoice, int, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the procurement flows: receipts against purchase
// order lines, supplier invoices over receipt lines, and payments.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	cache       *ReportCache
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, cache *ReportCache) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, cache: cache}
}

// ReceiptLineInput draws quantity from one purchase order line.
type ReceiptLineInput struct {
	POLineID int64
	Quantity decimal.Decimal
}

// CreateGoodsReceiptInput describes goods receipt creation. One receipt may
// draw from several purchase orders of the same supplier.
type CreateGoodsReceiptInput struct {
	SupplierID     int64
	WarehouseID    int64
	ReceivedAt     time.Time
	Note           string
	IdempotencyKey string
	ActorID        int64
	Lines          []ReceiptLineInput
}

// InvoiceInput describes supplier invoice creation or edit. Line amounts are
// copied from the referenced receipt lines.
type InvoiceInput struct {
	SupplierID int64
	Date       time.Time
	DueDate    time.Time
	Discount   billing.Discount
	ActorID    int64
	GRLineIDs  []int64
}

// PaymentInput records one payment against a supplier invoice.
type PaymentInput struct {
	InvoiceID int64
	Amount    decimal.Decimal
	Method    string
	PaidAt    time.Time
	ActorID   int64
}

// CreateGoodsReceipt validates every line against its own purchase order
// line under a row lock, snapshots prices, and appends the inbound stock
// movements in the same transaction. Any line failure rolls the whole
// receipt back.
func (s *Service) CreateGoodsReceipt(ctx context.Context, input CreateGoodsReceiptInput) (GoodsReceipt, error) {
	if len(input.Lines) == 0 {
		return GoodsReceipt{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}
	if input.SupplierID <= 0 || input.WarehouseID <= 0 {
		return GoodsReceipt{}, fmt.Errorf("%w: supplier and warehouse required", ErrValidation)
	}

	inserted := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "procurement.goods_receipt"); err != nil {
			return GoodsReceipt{}, err
		}
		inserted = true
	}

	gr := GoodsReceipt{
		Code:            generateNumber("GR"),
		SupplierID:      input.SupplierID,
		WarehouseID:     input.WarehouseID,
		ReceivedAt:      defaultTime(input.ReceivedAt),
		Note:            input.Note,
		InvoicingStatus: billing.NotInvoiced,
		CreatedBy:       input.ActorID,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grID, err := tx.CreateGoodsReceipt(ctx, gr)
		if err != nil {
			return err
		}
		gr.ID = grID

		orders := map[int64]PurchaseOrder{}
		for _, lineInput := range input.Lines {
			poLine, received, err := tx.GetPOLineForUpdate(ctx, lineInput.POLineID)
			if err != nil {
				return err
			}
			po, ok := orders[poLine.POID]
			if !ok {
				po, err = tx.GetPurchaseOrder(ctx, poLine.POID)
				if err != nil {
					return err
				}
				if po.SupplierID != input.SupplierID {
					return fmt.Errorf("%w: purchase order %s belongs to another supplier", ErrValidation, po.Code)
				}
				orders[poLine.POID] = po
			}

			if err := fulfillment.CheckReserve(poLine.Quantity, received, lineInput.Quantity); err != nil {
				return err
			}

			total := fulfillment.LineTotal(lineInput.Quantity, poLine.UnitPrice)
			line := GRLine{
				GoodsReceiptID: grID,
				POLineID:       poLine.ID,
				ItemID:         poLine.ItemID,
				Quantity:       lineInput.Quantity,
				UnitPrice:      poLine.UnitPrice,
				TotalPrice:     total,
				TaxAmount:      fulfillment.LineTax(total, po.TaxRate),
			}
			if _, err := tx.InsertGRLine(ctx, line); err != nil {
				return err
			}

			_, err = tx.AppendStockMovement(ctx, inventory.AppendInput{
				ItemID:     poLine.ItemID,
				Location:   inventory.LocationRef{Kind: locations.KindWarehouse, ID: input.WarehouseID},
				Type:       inventory.MovementIn,
				Quantity:   lineInput.Quantity,
				Reference:  inventory.Reference{DocType: "goods_receipt", DocID: grID, DocCode: gr.Code},
				ActorID:    input.ActorID,
				OccurredAt: gr.ReceivedAt,
			})
			if err != nil {
				return err
			}
		}

		for poID := range orders {
			if err := tx.LinkGoodsReceiptOrder(ctx, grID, poID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return GoodsReceipt{}, err
	}

	s.recordAudit(ctx, input.ActorID, "GR_CREATE", gr.ID, map[string]any{"code": gr.Code})
	_ = s.cache.Bump(ctx)
	return gr, nil
}

// UnreceivedPOLines serves the goods receipt form: every supplier order
// line with remaining quantity above zero.
func (s *Service) UnreceivedPOLines(ctx context.Context, supplierID int64) ([]UnreceivedPOLine, error) {
	if supplierID <= 0 {
		return nil, fmt.Errorf("%w: supplier_id required", ErrValidation)
	}
	return s.cache.UnreceivedLines(ctx, supplierID, func(ctx context.Context) ([]UnreceivedPOLine, error) {
		return s.repo.ListUnreceivedPOLines(ctx, supplierID)
	})
}

// NotInvoicedGoodsReceipts lists receipts open for invoicing.
func (s *Service) NotInvoicedGoodsReceipts(ctx context.Context, supplierID int64) ([]GoodsReceiptSummary, error) {
	if supplierID <= 0 {
		return nil, fmt.Errorf("%w: supplier_id required", ErrValidation)
	}
	return s.repo.ListNotInvoicedGoodsReceipts(ctx, supplierID)
}

// GoodsReceiptData returns the receipt with derived per-line totals for the
// invoicing form.
func (s *Service) GoodsReceiptData(ctx context.Context, grID int64) (GoodsReceiptData, error) {
	return s.repo.GoodsReceiptData(ctx, grID)
}

// GetGoodsReceipt returns one receipt with lines.
func (s *Service) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, []GRLine, error) {
	return s.repo.GetGoodsReceipt(ctx, id)
}

// ListGoodsReceipts pages through receipts.
func (s *Service) ListGoodsReceipts(ctx context.Context, limit, offset int, filters ListFilters) ([]GoodsReceipt, int, error) {
	return s.repo.ListGoodsReceipts(ctx, limit, offset, filters)
}

// CreateSupplierInvoice bills a set of receipt lines. Each line may be on
// at most one active invoice; the pre-check and the partial unique index
// both surface the same rejection.
func (s *Service) CreateSupplierInvoice(ctx context.Context, input InvoiceInput) (SupplierInvoice, error) {
	if len(input.GRLineIDs) == 0 {
		return SupplierInvoice{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}

	inv := SupplierInvoice{
		Code:       generateNumber("INV"),
		SupplierID: input.SupplierID,
		Date:       defaultTime(input.Date),
		DueDate:    input.DueDate,
		PaidAmount: decimal.Zero,
		Status:     billing.PaymentUnpaid,
		CreatedBy:  input.ActorID,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines, totals, err := s.buildInvoiceLines(ctx, tx, input)
		if err != nil {
			return err
		}
		applyTotals(&inv, totals)

		invID, err := tx.CreateSupplierInvoice(ctx, inv)
		if err != nil {
			return err
		}
		inv.ID = invID

		receipts := map[int64]struct{}{}
		for _, line := range lines {
			line.InvoiceID = invID
			if err := tx.InsertInvoiceLine(ctx, line.SupplierInvoiceLine); err != nil {
				return err
			}
			receipts[line.grID] = struct{}{}
		}
		return s.refreshInvoicingStatus(ctx, tx, receipts)
	})
	if err != nil {
		return SupplierInvoice{}, err
	}

	s.recordAudit(ctx, input.ActorID, "INVOICE_CREATE", inv.ID, map[string]any{"code": inv.Code, "grand_total": inv.GrandTotal.String()})
	return inv, nil
}

// UpdateSupplierInvoice replaces the line set and recomputes totals with the
// same arithmetic used at creation. Allowed only while the invoice is
// unpaid with zero recorded payments.
func (s *Service) UpdateSupplierInvoice(ctx context.Context, invoiceID int64, input InvoiceInput) (SupplierInvoice, error) {
	if len(input.GRLineIDs) == 0 {
		return SupplierInvoice{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}

	var updated SupplierInvoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := s.requireEditable(ctx, tx, inv); err != nil {
			return err
		}

		before, err := tx.GoodsReceiptIDsForInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := tx.SoftDeleteInvoiceLines(ctx, invoiceID); err != nil {
			return err
		}

		input.SupplierID = inv.SupplierID
		lines, totals, err := s.buildInvoiceLines(ctx, tx, input)
		if err != nil {
			return err
		}

		inv.Date = defaultTime(input.Date)
		inv.DueDate = input.DueDate
		applyTotals(&inv, totals)
		if err := tx.UpdateInvoiceTotals(ctx, inv); err != nil {
			return err
		}

		receipts := map[int64]struct{}{}
		for _, id := range before {
			receipts[id] = struct{}{}
		}
		for _, line := range lines {
			line.InvoiceID = invoiceID
			if err := tx.InsertInvoiceLine(ctx, line.SupplierInvoiceLine); err != nil {
				return err
			}
			receipts[line.grID] = struct{}{}
		}
		if err := s.refreshInvoicingStatus(ctx, tx, receipts); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return SupplierInvoice{}, err
	}

	s.recordAudit(ctx, input.ActorID, "INVOICE_UPDATE", invoiceID, map[string]any{"grand_total": updated.GrandTotal.String()})
	return updated, nil
}

// DeleteSupplierInvoice releases the covered receipt lines and reopens the
// owning receipts. Allowed only while unpaid with zero payments.
func (s *Service) DeleteSupplierInvoice(ctx context.Context, invoiceID int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := s.requireDeletable(ctx, tx, inv); err != nil {
			return err
		}

		receiptIDs, err := tx.GoodsReceiptIDsForInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := tx.SoftDeleteInvoiceLines(ctx, invoiceID); err != nil {
			return err
		}
		if err := tx.SoftDeleteInvoice(ctx, invoiceID); err != nil {
			return err
		}

		receipts := map[int64]struct{}{}
		for _, id := range receiptIDs {
			receipts[id] = struct{}{}
		}
		return s.refreshInvoicingStatus(ctx, tx, receipts)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "INVOICE_DELETE", invoiceID, nil)
	return nil
}

// GetSupplierInvoice returns one invoice with lines.
func (s *Service) GetSupplierInvoice(ctx context.Context, id int64) (SupplierInvoice, []SupplierInvoiceLine, error) {
	return s.repo.GetSupplierInvoice(ctx, id)
}

// ListSupplierInvoices pages through invoices.
func (s *Service) ListSupplierInvoices(ctx context.Context, limit, offset int, filters ListFilters) ([]SupplierInvoice, int, error) {
	return s.repo.ListSupplierInvoices(ctx, limit, offset, filters)
}

// RegisterPayment appends a payment under the invoice row lock, enforcing
// the ceiling Σ payments ≤ grand_total. Excess is rejected, never clamped.
func (s *Service) RegisterPayment(ctx context.Context, input PaymentInput) (SupplierPayment, error) {
	payment := SupplierPayment{
		Code:      generateNumber("PAY"),
		InvoiceID: input.InvoiceID,
		Amount:    input.Amount,
		Method:    input.Method,
		PaidAt:    defaultTime(input.PaidAt),
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		paid, err := tx.SumPayments(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		if err := billing.CheckPayment(inv.GrandTotal, paid, input.Amount); err != nil {
			return err
		}

		id, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = id

		newPaid := paid.Add(input.Amount)
		return tx.SetInvoicePaymentState(ctx, input.InvoiceID, newPaid,
			billing.DerivePaymentStatus(inv.GrandTotal, newPaid))
	})
	if err != nil {
		return SupplierPayment{}, err
	}

	s.recordAudit(ctx, input.ActorID, "PAYMENT_CREATE", payment.ID, map[string]any{"code": payment.Code, "amount": payment.Amount.String()})
	return payment, nil
}

// invoiceLine carries the owning receipt id alongside the line while an
// invoice is being assembled.
type invoiceLine struct {
	SupplierInvoiceLine
	grID int64
}

func (s *Service) buildInvoiceLines(ctx context.Context, tx TxRepository, input InvoiceInput) ([]invoiceLine, billing.Totals, error) {
	var (
		lines      []invoiceLine
		lineTotals []decimal.Decimal
		lineTaxes  []decimal.Decimal
	)
	for _, grLineID := range input.GRLineIDs {
		grLine, supplierID, err := tx.GetGRLine(ctx, grLineID)
		if err != nil {
			return nil, billing.Totals{}, err
		}
		if supplierID != input.SupplierID {
			return nil, billing.Totals{}, fmt.Errorf("%w: goods receipt line %d belongs to supplier %d", ErrValidation, grLineID, supplierID)
		}
		invoiced, err := tx.GRLineInvoiced(ctx, grLineID)
		if err != nil {
			return nil, billing.Totals{}, err
		}
		if invoiced {
			return nil, billing.Totals{}, fmt.Errorf("%w: goods receipt line %d", billing.ErrAlreadyInvoiced, grLineID)
		}
		lines = append(lines, invoiceLine{
			SupplierInvoiceLine: SupplierInvoiceLine{
				GRLineID:   grLine.ID,
				ItemID:     grLine.ItemID,
				Quantity:   grLine.Quantity,
				UnitPrice:  grLine.UnitPrice,
				TotalPrice: grLine.TotalPrice,
				TaxAmount:  grLine.TaxAmount,
			},
			grID: grLine.GoodsReceiptID,
		})
		lineTotals = append(lineTotals, grLine.TotalPrice)
		lineTaxes = append(lineTaxes, grLine.TaxAmount)
	}

	totals, err := billing.ComputeTotals(billing.TotalsInput{
		LineTotals: lineTotals,
		LineTaxes:  lineTaxes,
		Discount:   input.Discount,
		TaxMode:    billing.TaxPerLine,
	})
	if err != nil {
		return nil, billing.Totals{}, err
	}
	return lines, totals, nil
}

func (s *Service) refreshInvoicingStatus(ctx context.Context, tx TxRepository, receipts map[int64]struct{}) error {
	for grID := range receipts {
		total, covered, err := tx.GoodsReceiptLineCoverage(ctx, grID)
		if err != nil {
			return err
		}
		if err := tx.SetGoodsReceiptInvoicingStatus(ctx, grID, billing.DeriveInvoicingStatus(total, covered)); err != nil {
			return err
		}
	}
	return nil
}

// requireEditable allows line-set edits only while the invoice is unpaid
// with zero recorded payments. A recorded payment freezes the line set.
func (s *Service) requireEditable(ctx context.Context, tx TxRepository, inv SupplierInvoice) error {
	n, err := tx.CountPayments(ctx, inv.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: invoice %s has recorded payments", shared.ErrImmutable, inv.Code)
	}
	if inv.Status != billing.PaymentUnpaid {
		return fmt.Errorf("%w: invoice %s is %s", ErrInvalidState, inv.Code, inv.Status)
	}
	return nil
}

func (s *Service) requireDeletable(ctx context.Context, tx TxRepository, inv SupplierInvoice) error {
	if inv.Status != billing.PaymentUnpaid {
		return billing.ErrInvoiceNotDeletable
	}
	n, err := tx.CountPayments(ctx, inv.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return billing.ErrInvoiceNotDeletable
	}
	return nil
}

func applyTotals(inv *SupplierInvoice, totals billing.Totals) {
	inv.Subtotal = totals.Subtotal
	inv.DiscountPercent = totals.DiscountPercent
	inv.DiscountAmount = totals.DiscountAmount
	inv.TaxAmount = totals.TaxAmount
	inv.GrandTotal = totals.GrandTotal
	inv.RemainingAmount = billing.RemainingAmount(totals.GrandTotal, inv.PaidAmount)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "procurement", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func generateNumber(prefix string) string {
	now := time.Now()
	return fmt.Sprintf("%s-%s-%d", prefix, now.Format("20060102"), now.UnixNano()%1_000_000_000)
}

func defaultTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now()
	}
	return value
}
