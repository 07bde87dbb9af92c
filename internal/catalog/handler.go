package catalog

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// ReaderPort abstracts the item master lookup.
type ReaderPort interface {
	Get(ctx context.Context, name string) (Item, error)
	List(ctx context.Context, search string, limit int) ([]Item, error)
}

// Handler serves read-only item master endpoints.
type Handler struct {
	logger *slog.Logger
	items  ReaderPort
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, items ReaderPort) *Handler {
	return &Handler{logger: logger, items: items}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{name}", h.handleGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.items.List(r.Context(), r.URL.Query().Get("search"), limit)
	if err != nil {
		h.logger.Error("list items", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	item, err := h.items.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get item", slog.Any("error", err), slog.String("name", name))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}
