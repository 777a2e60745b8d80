package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian/internal/masterdata/locations"
	"github.com/meridian-erp/meridian/internal/platform/httpx"
)

const dateLayout = "2006-01-02"

// Handler serves the stock movement report and stock level lookups.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/inventory/stock-movements", h.listMovements)
	r.Get("/inventory/stock-levels", h.listLevels)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f ReportFilter

	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "start_date must be YYYY-MM-DD")
			return
		}
		f.Start = t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "end_date must be YYYY-MM-DD")
			return
		}
		// end date is inclusive
		f.End = t.AddDate(0, 0, 1)
	}
	if v := q.Get("item_id"); v != "" {
		f.ItemID, _ = strconv.ParseInt(v, 10, 64)
	}
	if kind := q.Get("location_type"); kind != "" {
		id, _ := strconv.ParseInt(q.Get("location_id"), 10, 64)
		f.Location = &LocationRef{Kind: locations.Kind(kind), ID: id}
	}
	f.Type = MovementType(q.Get("movement_type"))
	if v := q.Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}

	entries, err := h.service.Report(r.Context(), f)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stock_movements": entries})
}

func (h *Handler) listLevels(w http.ResponseWriter, r *http.Request) {
	var itemID int64
	if v := r.URL.Query().Get("item_id"); v != "" {
		itemID, _ = strconv.ParseInt(v, 10, 64)
	}
	levels, err := h.service.StockLevels(r.Context(), itemID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if levels == nil {
		levels = []Level{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stock_levels": levels})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidDateRange), errors.Is(err, ErrInvalidMovementType),
		errors.Is(err, ErrInvalidLocation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("inventory query", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
