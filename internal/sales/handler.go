package sales

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
	"github.com/meridian-erp/meridian/internal/masterdata/locations"
	"github.com/meridian-erp/meridian/internal/platform/db"
	"github.com/meridian-erp/meridian/internal/platform/httpx"
	"github.com/meridian-erp/meridian/internal/shared"
)

// Handler manages sales endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/sales", func(r chi.Router) {
		r.Get("/undelivered-sales-order-details", h.listUndelivered)
		r.Get("/not-invoiced-waybills", h.listNotInvoiced)
		r.Get("/waybill-data", h.waybillData)

		r.Get("/waybills", h.listWaybills)
		r.Post("/waybills", h.createWaybill)
		r.Get("/waybills/{id}", h.getWaybill)

		r.Get("/sales-invoices", h.listInvoices)
		r.Post("/sales-invoices", h.createInvoice)
		r.Get("/sales-invoices/{id}", h.getInvoice)
		r.Put("/sales-invoices/{id}", h.updateInvoice)
		r.Delete("/sales-invoices/{id}", h.deleteInvoice)
		r.Post("/sales-invoices/{id}/payments", h.registerPayment)
	})
}

type waybillLineRequest struct {
	SOLineID int64           `json:"sales_order_detail_id" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity" validate:"required"`
}

type createWaybillRequest struct {
	SOID           int64                `json:"sales_order_id" validate:"required,gt=0"`
	LocationKind   string               `json:"location_type" validate:"required,oneof=warehouse branch"`
	LocationID     int64                `json:"location_id" validate:"required,gt=0"`
	ShippedAt      time.Time            `json:"shipped_at"`
	Note           string               `json:"note"`
	IdempotencyKey string               `json:"idempotency_key"`
	Lines          []waybillLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type invoiceRequest struct {
	CustomerID      int64           `json:"customer_id" validate:"required,gt=0"`
	Date            time.Time       `json:"date"`
	DueDate         time.Time       `json:"due_date" validate:"required"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	WBLineIDs       []int64         `json:"waybill_detail_ids" validate:"required,min=1,dive,gt=0"`
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
	Method string          `json:"method" validate:"required"`
	PaidAt time.Time       `json:"paid_at"`
}

func (h *Handler) listUndelivered(w http.ResponseWriter, r *http.Request) {
	customerID, _ := strconv.ParseInt(r.URL.Query().Get("customer_id"), 10, 64)
	rows, err := h.service.UndeliveredSOLines(r.Context(), customerID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales_order_details": rows})
}

func (h *Handler) listNotInvoiced(w http.ResponseWriter, r *http.Request) {
	customerID, _ := strconv.ParseInt(r.URL.Query().Get("customer_id"), 10, 64)
	rows, err := h.service.NotInvoicedWaybills(r.Context(), customerID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"waybills": rows})
}

func (h *Handler) waybillData(w http.ResponseWriter, r *http.Request) {
	waybillID, _ := strconv.ParseInt(r.URL.Query().Get("waybill_id"), 10, 64)
	data, err := h.service.WaybillData(r.Context(), waybillID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, data)
}

func (h *Handler) createWaybill(w http.ResponseWriter, r *http.Request) {
	var req createWaybillRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}

	input := CreateWaybillInput{
		SOID:           req.SOID,
		LocationKind:   locations.Kind(req.LocationKind),
		LocationID:     req.LocationID,
		ShippedAt:      req.ShippedAt,
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
		ActorID:        actorID(r),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, WaybillLineInput{SOLineID: line.SOLineID, Quantity: line.Quantity})
	}

	wb, err := h.service.CreateWaybill(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, wb)
}

func (h *Handler) getWaybill(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	wb, lines, err := h.service.GetWaybill(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"waybill": wb, "lines": lines})
}

func (h *Handler) listWaybills(w http.ResponseWriter, r *http.Request) {
	limit, offset, filters := listParams(r)
	items, total, err := h.service.ListWaybills(r.Context(), limit, offset, filters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"waybills": items, "pagination": httpx.NewPage(limit, offset, total)})
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

	inv, err := h.service.CreateSalesInvoice(r.Context(), invoiceInput(req, actorID(r)))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	inv, lines, err := h.service.GetSalesInvoice(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales_invoice": inv, "lines": lines})
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	limit, offset, filters := listParams(r)
	items, total, err := h.service.ListSalesInvoices(r.Context(), limit, offset, filters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales_invoices": items, "pagination": httpx.NewPage(limit, offset, total)})
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

	inv, err := h.service.UpdateSalesInvoice(r.Context(), id, invoiceInput(req, actorID(r)))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err := h.service.DeleteSalesInvoice(r.Context(), id, actorID(r)); err != nil {
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
		h.logger.Error("sales request", slog.Any("error", err))
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
	customerID, _ := strconv.ParseInt(r.URL.Query().Get("customer_id"), 10, 64)
	return limit, offset, ListFilters{
		Status:     r.URL.Query().Get("status"),
		CustomerID: customerID,
		Search:     r.URL.Query().Get("search"),
		SortBy:     r.URL.Query().Get("sort"),
		SortDir:    r.URL.Query().Get("dir"),
	}
}

func invoiceInput(req invoiceRequest, actor int64) InvoiceInput {
	return InvoiceInput{
		CustomerID: req.CustomerID,
		Date:       req.Date,
		DueDate:    req.DueDate,
		Discount:   billing.Discount{Percent: req.DiscountPercent, Amount: req.DiscountAmount},
		TaxRate:    req.TaxRate,
		ActorID:    actor,
		WBLineIDs:  req.WBLineIDs,
	}
}
