// Package service contains the business logic layer.
//
// This file implements payment reconciliation: pulling purchase events from
// the payment source and folding them into the credit ledger exactly once.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/studyhallhq/studyhall/internal/domain"
	"github.com/studyhallhq/studyhall/internal/metrics"
)

// PaymentSource yields the externally recorded purchase events for a user.
// Records are immutable once issued; the source may return them in any
// order and may return already-applied records freely.
type PaymentSource interface {
	PaymentRecords(ctx context.Context, userID uuid.UUID) ([]domain.PaymentRecord, error)
}

// ReconcileResult summarizes one reconciliation run.
type ReconcileResult struct {
	Fetched int `json:"fetched"`
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// =============================================================================
// Interface Definition
// =============================================================================

// ReconcileService folds payment records into the credit ledger.
type ReconcileService interface {
	// Reconcile fetches all payment records for the user and applies each
	// unapplied one. A failure on one record never blocks the others;
	// failed records stay unapplied and are retried on the next run.
	Reconcile(ctx context.Context, userID uuid.UUID) (ReconcileResult, error)
}

// =============================================================================
// Implementation
// =============================================================================

type reconcileService struct {
	source PaymentSource
	ledger LedgerService
	logger *slog.Logger
}

// NewReconcileService creates a new ReconcileService.
func NewReconcileService(source PaymentSource, ledger LedgerService, logger *slog.Logger) ReconcileService {
	return &reconcileService{
		source: source,
		ledger: ledger,
		logger: logger,
	}
}

// applyBackoff bounds the retries around one record's transaction.
// Transient store errors get a short exponential backoff; the record is
// given up after three extra attempts and left for the next run.
func applyBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
}

func (s *reconcileService) Reconcile(ctx context.Context, userID uuid.UUID) (ReconcileResult, error) {
	const op = "reconcile.run"

	records, err := s.source.PaymentRecords(ctx, userID)
	if err != nil {
		return ReconcileResult{}, domain.Internal(err, op, "failed to fetch payment records")
	}

	result := ReconcileResult{Fetched: len(records)}
	for _, rec := range records {
		var applied bool
		err := retry.Do(ctx, applyBackoff(), func(ctx context.Context) error {
			var applyErr error
			applied, applyErr = s.ledger.ApplyPayment(ctx, userID, rec)
			if applyErr != nil {
				// A record the ledger rejects as invalid stays invalid;
				// only store failures earn the backoff budget.
				if domain.ErrorCode(applyErr) == domain.EINVALID {
					return applyErr
				}
				return retry.RetryableError(applyErr)
			}
			return nil
		})
		if err != nil {
			result.Failed++
			metrics.PaymentsReconciled.WithLabelValues("failed").Inc()
			s.logger.Error("Failed to apply payment record",
				"user_id", userID,
				"payment_id", rec.ID,
				"error", err,
			)
			continue
		}

		if applied {
			result.Applied++
			metrics.PaymentsReconciled.WithLabelValues("applied").Inc()
		} else {
			result.Skipped++
			metrics.PaymentsReconciled.WithLabelValues("skipped").Inc()
		}
	}

	s.logger.Info("Reconciliation finished",
		"user_id", userID,
		"fetched", result.Fetched,
		"applied", result.Applied,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}
