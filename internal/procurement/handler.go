package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/billing"
	"github.com/meridian-erp/meridian/internal/fulfillment"
	"github.com/meridian-erp/meridian/internal/inventory"
	"github.com/meridian-erp/meridian/internal/platform/db"
	"github.com/meridian-erp/meridian/internal/platform/httpx"
	"github.com/meridian-erp/meridian/internal/shared"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/procurement", func(r chi.Router) {
		r.Get("/unreceived-purchase-order-details", h.listUnreceived)
		r.Get("/not-invoiced-goods-receipts", h.listNotInvoiced)
		r.Get("/goods-receipt-data", h.goodsReceiptData)

		r.Get("/goods-receipts", h.listGoodsReceipts)
		r.Post("/goods-receipts", h.createGoodsReceipt)
		r.Get("/goods-receipts/{id}", h.getGoodsReceipt)

		r.Get("/supplier-invoices", h.listInvoices)
		r.Post("/supplier-invoices", h.createInvoice)
		r.Get("/supplier-invoices/{id}", h.getInvoice)
		r.Put("/supplier-invoices/{id}", h.updateInvoice)
		r.Delete("/supplier-invoices/{id}", h.deleteInvoice)
		r.Post("/supplier-invoices/{id}/payments", h.registerPayment)
	})
}

type receiptLineRequest struct {
	POLineID int64           `json:"purchase_order_detail_id" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity" validate:"required"`
}

type createReceiptRequest struct {
	SupplierID     int64                `json:"supplier_id" validate:"required,gt=0"`
	WarehouseID    int64                `json:"warehouse_id" validate:"required,gt=0"`
	ReceivedAt     time.Time            `json:"received_at"`
	Note           string               `json:"note"`
	IdempotencyKey string               `json:"idempotency_key"`
	Lines          []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type invoiceRequest struct {
	SupplierID      int64           `json:"supplier_id" validate:"required,gt=0"`
	Date            time.Time       `json:"date"`
	DueDate         time.Time       `json:"due_date" validate:"required"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	GRLineIDs       []int64         `json:"goods_receipt_detail_ids" validate:"required,min=1,dive,gt=0"`
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
	Method string          `json:"method" validate:"required"`
	PaidAt time.Time       `json:"paid_at"`
}

func (h *Handler) listUnreceived(w http.ResponseWriter, r *http.Request) {
	supplierID, _ := strconv.ParseInt(r.URL.Query().Get("supplier_id"), 10, 64)
	rows, err := h.service.UnreceivedPOLines(r.Context(), supplierID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_order_details": rows})
}

func (h *Handler) listNotInvoiced(w http.ResponseWriter, r *http.Request) {
	supplierID, _ := strconv.ParseInt(r.URL.Query().Get("supplier_id"), 10, 64)
	rows, err := h.service.NotInvoicedGoodsReceipts(r.Context(), supplierID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"goods_receipts": rows})
}

func (h *Handler) goodsReceiptData(w http.ResponseWriter, r *http.Request) {
	grID, _ := strconv.ParseInt(r.URL.Query().Get("goods_receipt_id"), 10, 64)
	data, err := h.service.GoodsReceiptData(r.Context(), grID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, data)
}

func (h *Handler) createGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	var req createReceiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}

	input := CreateGoodsReceiptInput{
		SupplierID:     req.SupplierID,
		WarehouseID:    req.WarehouseID,
		ReceivedAt:     req.ReceivedAt,
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
		ActorID:        actorID(r),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ReceiptLineInput{POLineID: line.POLineID, Quantity: line.Quantity})
	}

	gr, err := h.service.CreateGoodsReceipt(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, gr)
}

func (h *Handler) getGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	gr, lines, err := h.service.GetGoodsReceipt(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"goods_receipt": gr, "lines": lines})
}

func (h *Handler) listGoodsReceipts(w http.ResponseWriter, r *http.Request) {
	limit, offset, filters := listParams(r)
	items, total, err := h.service.ListGoodsReceipts(r.Context(), limit, offset, filters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"goods_receipts": items, "pagination": httpx.NewPage(limit, offset, total)})
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}

	inv, err := h.service.CreateSupplierInvoice(r.Context(), invoiceInput(req, actorID(r)))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	inv, lines, err := h.service.GetSupplierInvoice(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"supplier_invoice": inv, "lines": lines})
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	limit, offset, filters := listParams(r)
	items, total, err := h.service.ListSupplierInvoices(r.Context(), limit, offset, filters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"supplier_invoices": items, "pagination": httpx.NewPage(limit, offset, total)})
}

func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req invoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}

	inv, err := h.service.UpdateSupplierInvoice(r.Context(), id, invoiceInput(req, actorID(r)))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err := h.service.DeleteSupplierInvoice(r.Context(), id, actorID(r)); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) registerPayment(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}

	payment, err := h.service.RegisterPayment(r.Context(), PaymentInput{
		InvoiceID: id,
		Amount:    req.Amount,
		Method:    req.Method,
		PaidAt:    req.PaidAt,
		ActorID:   actorID(r),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var over *fulfillment.OverReceiptError
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation),
		errors.Is(err, fulfillment.ErrQuantityNotPositive),
		errors.Is(err, billing.ErrPaymentNotPositive),
		errors.Is(err, billing.ErrDiscountConflict),
		errors.Is(err, billing.ErrDiscountNegative),
		errors.Is(err, billing.ErrDiscountExceedsSubtotal):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &over),
		errors.Is(err, billing.ErrAlreadyInvoiced),
		errors.Is(err, inventory.ErrNegativeStock),
		isPaymentExceeds(err):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Business Rule Rejected", err.Error())
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, shared.ErrImmutable),
		errors.Is(err, billing.ErrInvoiceNotDeletable):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, db.ErrTxConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "please retry the request")
	default:
		h.logger.Error("procurement request", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func isPaymentExceeds(err error) bool {
	var exceeds *billing.PaymentExceedsError
	return errors.As(err, &exceeds)
}

func actorID(r *http.Request) int64 {
	return shared.ActorFromContext(r.Context()).UserID
}

func listParams(r *http.Request) (int, int, ListFilters) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	supplierID, _ := strconv.ParseInt(r.URL.Query().Get("supplier_id"), 10, 64)
	return limit, offset, ListFilters{
		Status:     r.URL.Query().Get("status"),
		SupplierID: supplierID,
		Search:     r.URL.Query().Get("search"),
		SortBy:     r.URL.Query().Get("sort"),
		SortDir:    r.URL.Query().Get("dir"),
	}
}

func invoiceInput(req invoiceRequest, actor int64) InvoiceInput {
	return InvoiceInput{
		SupplierID: req.SupplierID,
		Date:       req.Date,
		DueDate:    req.DueDate,
		Discount:   billing.Discount{Percent: req.DiscountPercent, Amount: req.DiscountAmount},
		ActorID:    actor,
		GRLineIDs:  req.GRLineIDs,
	}
}
