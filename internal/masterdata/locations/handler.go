package locations

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian/internal/masterdata/shared"
	"github.com/meridian-erp/meridian/internal/platform/httpx"
)

// Handler serves warehouse and branch lookups.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the location handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers location routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/warehouses", h.listKind(KindWarehouse))
	r.Get("/warehouses/{id}", h.getKind(KindWarehouse))
	r.Get("/branches", h.listKind(KindBranch))
	r.Get("/branches/{id}", h.getKind(KindBranch))
}

func (h *Handler) listKind(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := h.service.List(r.Context(), kind)
		if err != nil {
			h.logger.Error("list locations", slog.String("kind", string(kind)), slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"locations": list})
	}
}

func (h *Handler) getKind(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		loc, err := h.service.Get(r.Context(), kind, id)
		if err != nil {
			switch {
			case errors.Is(err, shared.ErrNotFound):
				httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			case errors.Is(err, shared.ErrInvalidID), errors.Is(err, shared.ErrValidation):
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			default:
				h.logger.Error("get location", slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			}
			return
		}
		httpx.JSON(w, http.StatusOK, loc)
	}
}
