package sales

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
	GetWaybill(ctx context.Context, id int64) (Waybill, []WaybillLine, error)
	GetSalesInvoice(ctx context.Context, id int64) (SalesInvoice, []SalesInvoiceLine, error)
	ListUndeliveredSOLines(ctx context.Context, customerID int64) ([]UndeliveredSOLine, error)
	ListNotInvoicedWaybills(ctx context.Context, customerID int64) ([]WaybillSummary, error)
	WaybillData(ctx context.Context, waybillID int64) (WaybillData, error)
	ListWaybills(ctx context.Context, limit, offset int, filters ListFilters) ([]Waybill, int, error)
	ListSalesInvoices(ctx context.Context, limit, offset int, filters ListFilters) ([]SalesInvoice, int, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the sales flows: waybills against sales order lines,
// customer invoices over waybill lines, and payments.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	cache       *ReportCache
}

// NewService constructs the sales service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, cache *ReportCache) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, cache: cache}
}

// WaybillLineInput draws quantity from one sales order line.
type WaybillLineInput struct {
	SOLineID int64
	Quantity decimal.Decimal
}

// CreateWaybillInput describes waybill creation. A waybill ships against
// exactly one sales order from a single stock location.
type CreateWaybillInput struct {
	SOID           int64
	LocationKind   locations.Kind
	LocationID     int64
	ShippedAt      time.Time
	Note           string
	IdempotencyKey string
	ActorID        int64
	Lines          []WaybillLineInput
}

// InvoiceInput describes sales invoice creation or edit. Line amounts are
// copied from the referenced waybill lines; tax is a single rate over the
// discounted subtotal.
type InvoiceInput struct {
	CustomerID int64
	Date       time.Time
	DueDate    time.Time
	Discount   billing.Discount
	TaxRate    decimal.Decimal
	ActorID    int64
	WBLineIDs  []int64
}

// PaymentInput records one payment against a sales invoice.
type PaymentInput struct {
	InvoiceID int64
	Amount    decimal.Decimal
	Method    string
	PaidAt    time.Time
	ActorID   int64
}

// CreateWaybill validates every line against its sales order line under a
// row lock, snapshots prices, and appends the outbound stock movements in
// the same transaction. An oversell or any other line failure rolls the
// whole waybill back.
func (s *Service) CreateWaybill(ctx context.Context, input CreateWaybillInput) (Waybill, error) {
	if len(input.Lines) == 0 {
		return Waybill{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}
	if input.SOID <= 0 || input.LocationID <= 0 {
		return Waybill{}, fmt.Errorf("%w: sales order and location required", ErrValidation)
	}
	if !input.LocationKind.IsValid() {
		return Waybill{}, fmt.Errorf("%w: unknown location kind %q", ErrValidation, input.LocationKind)
	}

	inserted := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "sales.waybill"); err != nil {
			return Waybill{}, err
		}
		inserted = true
	}

	wb := Waybill{
		Code:            generateNumber("WB"),
		SOID:            input.SOID,
		LocationKind:    input.LocationKind,
		LocationID:      input.LocationID,
		ShippedAt:       defaultTime(input.ShippedAt),
		Note:            input.Note,
		InvoicingStatus: billing.NotInvoiced,
		CreatedBy:       input.ActorID,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		so, err := tx.GetSalesOrder(ctx, input.SOID)
		if err != nil {
			return err
		}
		wb.CustomerID = so.CustomerID

		wbID, err := tx.CreateWaybill(ctx, wb)
		if err != nil {
			return err
		}
		wb.ID = wbID

		for _, lineInput := range input.Lines {
			soLine, delivered, err := tx.GetSOLineForUpdate(ctx, lineInput.SOLineID)
			if err != nil {
				return err
			}
			if soLine.SOID != input.SOID {
				return fmt.Errorf("%w: sales order line %d belongs to another order", ErrValidation, soLine.ID)
			}
			if err := fulfillment.CheckReserve(soLine.Quantity, delivered, lineInput.Quantity); err != nil {
				return err
			}

			line := WaybillLine{
				WaybillID:  wbID,
				SOLineID:   soLine.ID,
				ItemID:     soLine.ItemID,
				Quantity:   lineInput.Quantity,
				UnitPrice:  soLine.UnitPrice,
				TotalPrice: fulfillment.LineTotal(lineInput.Quantity, soLine.UnitPrice),
			}
			if _, err := tx.InsertWaybillLine(ctx, line); err != nil {
				return err
			}

			_, err = tx.AppendStockMovement(ctx, inventory.AppendInput{
				ItemID:     soLine.ItemID,
				Location:   inventory.LocationRef{Kind: input.LocationKind, ID: input.LocationID},
				Type:       inventory.MovementOut,
				Quantity:   lineInput.Quantity,
				Reference:  inventory.Reference{DocType: "waybill", DocID: wbID, DocCode: wb.Code},
				ActorID:    input.ActorID,
				OccurredAt: wb.ShippedAt,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return Waybill{}, err
	}

	s.recordAudit(ctx, input.ActorID, "WB_CREATE", wb.ID, map[string]any{"code": wb.Code})
	_ = s.cache.Bump(ctx)
	return wb, nil
}

// UndeliveredSOLines serves the waybill form: every customer order line
// with remaining quantity above zero.
func (s *Service) UndeliveredSOLines(ctx context.Context, customerID int64) ([]UndeliveredSOLine, error) {
	if customerID <= 0 {
		return nil, fmt.Errorf("%w: customer_id required", ErrValidation)
	}
	return s.cache.UndeliveredLines(ctx, customerID, func(ctx context.Context) ([]UndeliveredSOLine, error) {
		return s.repo.ListUndeliveredSOLines(ctx, customerID)
	})
}

// NotInvoicedWaybills lists waybills open for invoicing.
func (s *Service) NotInvoicedWaybills(ctx context.Context, customerID int64) ([]WaybillSummary, error) {
	if customerID <= 0 {
		return nil, fmt.Errorf("%w: customer_id required", ErrValidation)
	}
	return s.repo.ListNotInvoicedWaybills(ctx, customerID)
}

// WaybillData returns the waybill with nested items and derived wholesale
// quantities for the invoicing form.
func (s *Service) WaybillData(ctx context.Context, waybillID int64) (WaybillData, error) {
	return s.repo.WaybillData(ctx, waybillID)
}

// GetWaybill returns one waybill with lines.
func (s *Service) GetWaybill(ctx context.Context, id int64) (Waybill, []WaybillLine, error) {
	return s.repo.GetWaybill(ctx, id)
}

// ListWaybills pages through waybills.
func (s *Service) ListWaybills(ctx context.Context, limit, offset int, filters ListFilters) ([]Waybill, int, error) {
	return s.repo.ListWaybills(ctx, limit, offset, filters)
}

// CreateSalesInvoice bills a set of waybill lines. Each line may be on at
// most one active invoice; the pre-check and the partial unique index both
// surface the same rejection.
func (s *Service) CreateSalesInvoice(ctx context.Context, input InvoiceInput) (SalesInvoice, error) {
	if len(input.WBLineIDs) == 0 {
		return SalesInvoice{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}

	inv := SalesInvoice{
		Code:       generateNumber("SI"),
		CustomerID: input.CustomerID,
		Date:       defaultTime(input.Date),
		DueDate:    input.DueDate,
		TaxRate:    input.TaxRate,
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

		invID, err := tx.CreateSalesInvoice(ctx, inv)
		if err != nil {
			return err
		}
		inv.ID = invID

		waybills := map[int64]struct{}{}
		for _, line := range lines {
			line.InvoiceID = invID
			if err := tx.InsertInvoiceLine(ctx, line.SalesInvoiceLine); err != nil {
				return err
			}
			waybills[line.wbID] = struct{}{}
		}
		return s.refreshInvoicingStatus(ctx, tx, waybills)
	})
	if err != nil {
		return SalesInvoice{}, err
	}

	s.recordAudit(ctx, input.ActorID, "INVOICE_CREATE", inv.ID, map[string]any{"code": inv.Code, "grand_total": inv.GrandTotal.String()})
	return inv, nil
}

// UpdateSalesInvoice replaces the line set and recomputes totals with the
// same arithmetic used at creation. Allowed only while the invoice is
// unpaid with zero recorded payments.
func (s *Service) UpdateSalesInvoice(ctx context.Context, invoiceID int64, input InvoiceInput) (SalesInvoice, error) {
	if len(input.WBLineIDs) == 0 {
		return SalesInvoice{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}

	var updated SalesInvoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := s.requireEditable(ctx, tx, inv); err != nil {
			return err
		}

		before, err := tx.WaybillIDsForInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := tx.SoftDeleteInvoiceLines(ctx, invoiceID); err != nil {
			return err
		}

		input.CustomerID = inv.CustomerID
		lines, totals, err := s.buildInvoiceLines(ctx, tx, input)
		if err != nil {
			return err
		}

		inv.Date = defaultTime(input.Date)
		inv.DueDate = input.DueDate
		inv.TaxRate = input.TaxRate
		applyTotals(&inv, totals)
		if err := tx.UpdateInvoiceTotals(ctx, inv); err != nil {
			return err
		}

		waybills := map[int64]struct{}{}
		for _, id := range before {
			waybills[id] = struct{}{}
		}
		for _, line := range lines {
			line.InvoiceID = invoiceID
			if err := tx.InsertInvoiceLine(ctx, line.SalesInvoiceLine); err != nil {
				return err
			}
			waybills[line.wbID] = struct{}{}
		}
		if err := s.refreshInvoicingStatus(ctx, tx, waybills); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return SalesInvoice{}, err
	}

	s.recordAudit(ctx, input.ActorID, "INVOICE_UPDATE", invoiceID, map[string]any{"grand_total": updated.GrandTotal.String()})
	return updated, nil
}

// DeleteSalesInvoice releases the covered waybill lines and reopens the
// owning waybills. Allowed only while unpaid with zero payments.
func (s *Service) DeleteSalesInvoice(ctx context.Context, invoiceID int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := s.requireDeletable(ctx, tx, inv); err != nil {
			return err
		}

		waybillIDs, err := tx.WaybillIDsForInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := tx.SoftDeleteInvoiceLines(ctx, invoiceID); err != nil {
			return err
		}
		if err := tx.SoftDeleteInvoice(ctx, invoiceID); err != nil {
			return err
		}

		waybills := map[int64]struct{}{}
		for _, id := range waybillIDs {
			waybills[id] = struct{}{}
		}
		return s.refreshInvoicingStatus(ctx, tx, waybills)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "INVOICE_DELETE", invoiceID, nil)
	return nil
}

// GetSalesInvoice returns one invoice with lines.
func (s *Service) GetSalesInvoice(ctx context.Context, id int64) (SalesInvoice, []SalesInvoiceLine, error) {
	return s.repo.GetSalesInvoice(ctx, id)
}

// ListSalesInvoices pages through invoices.
func (s *Service) ListSalesInvoices(ctx context.Context, limit, offset int, filters ListFilters) ([]SalesInvoice, int, error) {
	return s.repo.ListSalesInvoices(ctx, limit, offset, filters)
}

// RegisterPayment appends a payment under the invoice row lock, enforcing
// the ceiling Σ payments ≤ grand_total. Excess is rejected, never clamped.
func (s *Service) RegisterPayment(ctx context.Context, input PaymentInput) (CustomerPayment, error) {
	payment := CustomerPayment{
		Code:      generateNumber("RCV"),
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
		return CustomerPayment{}, err
	}

	s.recordAudit(ctx, input.ActorID, "PAYMENT_CREATE", payment.ID, map[string]any{"code": payment.Code, "amount": payment.Amount.String()})
	return payment, nil
}

// invoiceLine carries the owning waybill id alongside the line while an
// invoice is being assembled.
type invoiceLine struct {
	SalesInvoiceLine
	wbID int64
}

func (s *Service) buildInvoiceLines(ctx context.Context, tx TxRepository, input InvoiceInput) ([]invoiceLine, billing.Totals, error) {
	var (
		lines      []invoiceLine
		lineTotals []decimal.Decimal
	)
	for _, wbLineID := range input.WBLineIDs {
		wbLine, customerID, err := tx.GetWaybillLine(ctx, wbLineID)
		if err != nil {
			return nil, billing.Totals{}, err
		}
		if customerID != input.CustomerID {
			return nil, billing.Totals{}, fmt.Errorf("%w: waybill line %d belongs to customer %d", ErrValidation, wbLineID, customerID)
		}
		invoiced, err := tx.WaybillLineInvoiced(ctx, wbLineID)
		if err != nil {
			return nil, billing.Totals{}, err
		}
		if invoiced {
			return nil, billing.Totals{}, fmt.Errorf("%w: waybill line %d", billing.ErrAlreadyInvoiced, wbLineID)
		}
		lines = append(lines, invoiceLine{
			SalesInvoiceLine: SalesInvoiceLine{
				WBLineID:   wbLine.ID,
				ItemID:     wbLine.ItemID,
				Quantity:   wbLine.Quantity,
				UnitPrice:  wbLine.UnitPrice,
				TotalPrice: wbLine.TotalPrice,
			},
			wbID: wbLine.WaybillID,
		})
		lineTotals = append(lineTotals, wbLine.TotalPrice)
	}

	totals, err := billing.ComputeTotals(billing.TotalsInput{
		LineTotals: lineTotals,
		Discount:   input.Discount,
		TaxMode:    billing.TaxOnSubtotal,
		TaxRate:    input.TaxRate,
	})
	if err != nil {
		return nil, billing.Totals{}, err
	}
	return lines, totals, nil
}

func (s *Service) refreshInvoicingStatus(ctx context.Context, tx TxRepository, waybills map[int64]struct{}) error {
	for wbID := range waybills {
		total, covered, err := tx.WaybillLineCoverage(ctx, wbID)
		if err != nil {
			return err
		}
		if err := tx.SetWaybillInvoicingStatus(ctx, wbID, billing.DeriveInvoicingStatus(total, covered)); err != nil {
			return err
		}
	}
	return nil
}

// requireEditable allows line-set edits only while the invoice is unpaid
// with zero recorded payments. A recorded payment freezes the line set.
func (s *Service) requireEditable(ctx context.Context, tx TxRepository, inv SalesInvoice) error {
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

func (s *Service) requireDeletable(ctx context.Context, tx TxRepository, inv SalesInvoice) error {
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

func applyTotals(inv *SalesInvoice, totals billing.Totals) {
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
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "sales", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
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
