package reconcile

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Enqueuer schedules an asynchronous reconciliation run for a tenant.
type Enqueuer func(ctx context.Context, tenantID, location string) error

// Handler wires HTTP endpoints for reconciliation.
type Handler struct {
	logger  *slog.Logger
	service *Service
	enqueue Enqueuer
}

// NewHandler constructs the reconciliation handler. enqueue may be nil when
// no task queue is configured; the async trigger then responds 503.
func NewHandler(logger *slog.Logger, service *Service, enqueue Enqueuer) *Handler {
	return &Handler{logger: logger, service: service, enqueue: enqueue}
}

// MountRoutes registers reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleRun)
	r.Post("/enqueue", h.handleEnqueue)
	r.Get("/last", h.handleLast)
	r.Get("/last/report", h.handleLastText)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	rep, err := h.service.Run(r.Context())
	if err != nil {
		h.logger.Error("reconciliation run", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rep)
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if h.enqueue == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "task queue not configured")
		return
	}
	tenant := shared.TenantFromContext(r.Context())
	if err := h.enqueue(r.Context(), tenant.ID, tenant.Location); err != nil {
		h.logger.Error("enqueue reconciliation", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) handleLast(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.service.LastReport()
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no reconciliation has run yet")
		return
	}
	httpx.JSON(w, http.StatusOK, rep)
}

func (h *Handler) handleLastText(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.service.LastReport()
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no reconciliation has run yet")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := WriteReport(w, rep); err != nil {
		h.logger.Error("write reconciliation report", slog.Any("error", err))
	}
}
