package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/reconcile"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// ReconcileTaskHandler runs scheduled reconciliation passes.
type ReconcileTaskHandler struct {
	service *reconcile.Service
	logger  *slog.Logger
}

// NewReconcileTaskHandler constructs the handler.
func NewReconcileTaskHandler(service *reconcile.Service, logger *slog.Logger) *ReconcileTaskHandler {
	return &ReconcileTaskHandler{service: service, logger: logger}
}

// Handle processes TaskStockReconcile tasks. The payload names the tenant;
// the run itself only reads and reports.
func (h *ReconcileTaskHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	ctx = shared.ContextWithTenant(ctx, shared.Tenant{ID: payload.TenantID, Location: payload.Location})
	rep, err := h.service.Run(ctx)
	if err != nil {
		h.logger.Error("scheduled reconciliation failed", slog.String("tenant", payload.TenantID), slog.Any("error", err))
		return err
	}
	if !rep.Clean() {
		h.logger.Warn("scheduled reconciliation found divergence",
			slog.String("tenant", payload.TenantID),
			slog.Int("critical", rep.Critical), slog.Int("warnings", rep.Warnings))
	}
	return nil
}
