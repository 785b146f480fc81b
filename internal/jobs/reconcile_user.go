// Package jobs contains the background job handlers.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/studyhallhq/studyhall/internal/service"
	"github.com/studyhallhq/studyhall/internal/worker"
)

// ReconcileUserHandler processes payment reconciliation jobs. The webhook
// enqueues one of these per completed checkout; the handler just drives the
// reconcile service, which is idempotent, so redundant jobs are harmless.
type ReconcileUserHandler struct {
	reconcile service.ReconcileService
	logger    *slog.Logger
}

// NewReconcileUserHandler creates a new handler for reconciliation jobs.
func NewReconcileUserHandler(reconcile service.ReconcileService, logger *slog.Logger) *ReconcileUserHandler {
	return &ReconcileUserHandler{
		reconcile: reconcile,
		logger:    logger,
	}
}

// Type returns the job type identifier.
func (h *ReconcileUserHandler) Type() string {
	return worker.JobTypeReconcileUser
}

// Handle executes one reconciliation run for the user in the payload.
func (h *ReconcileUserHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.ReconcileUserPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}

	result, err := h.reconcile.Reconcile(ctx, p.UserID)
	if err != nil {
		// Fetch failures are transient; let the worker reschedule.
		return fmt.Errorf("reconcile user %s: %w", p.UserID, err)
	}

	if result.Failed > 0 {
		// Unapplied records stay unapplied; a retried job picks them up.
		return fmt.Errorf("reconcile user %s: %d of %d records failed", p.UserID, result.Failed, result.Fetched)
	}

	h.logger.Info("Reconciliation job finished",
		"user_id", p.UserID,
		"applied", result.Applied,
		"skipped", result.Skipped,
	)
	return nil
}
