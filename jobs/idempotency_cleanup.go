package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// IdempotencyCleanupHandler prunes idempotency keys past the retention
// window. Pruned keys make their operations replayable again, so the window
// must comfortably exceed any realistic retry horizon.
type IdempotencyCleanupHandler struct {
	store  *shared.IdempotencyStore
	logger *slog.Logger
}

// NewIdempotencyCleanupHandler constructs the handler.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, logger *slog.Logger) *IdempotencyCleanupHandler {
	return &IdempotencyCleanupHandler{store: store, logger: logger}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (h *IdempotencyCleanupHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload CleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if err := h.store.Cleanup(ctx, retention); err != nil {
		h.logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	return nil
}
