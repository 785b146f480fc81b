package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/studyhallhq/studyhall/internal/repository"
)

// Job type constants - these must match the JobHandler.Type() values
const (
	JobTypeReconcileUser       = "reconcile_user"
	JobTypeArchiveTransactions = "archive_transactions"
)

// Priority constants for job scheduling
const (
	PriorityLow    = 0
	PriorityNormal = 10
	PriorityHigh   = 20
)

// ReconcileUserPayload is the payload for payment reconciliation jobs.
type ReconcileUserPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

// ArchiveTransactionsPayload is the payload for audit-log archive jobs.
// Zero values mean "use the configured retention and batch size".
type ArchiveTransactionsPayload struct {
	Before    time.Time `json:"before,omitempty"`
	BatchSize int       `json:"batch_size,omitempty"`
}

// EnqueueOption is a functional option for customizing job enqueue parameters.
type EnqueueOption func(*repository.EnqueueJobParams)

// WithPriority sets the job priority.
func WithPriority(priority int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.Priority = priority
	}
}

// WithMaxAttempts sets the maximum number of retry attempts.
func WithMaxAttempts(attempts int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.MaxAttempts = attempts
	}
}

// WithDelay schedules the job to run after a delay.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.ScheduledAt = time.Now().Add(delay)
	}
}

// EnqueueJob is a generic helper for enqueuing jobs with custom options.
func EnqueueJob(
	ctx context.Context,
	queries *repository.Queries,
	jobType string,
	payload interface{},
	opts ...EnqueueOption,
) (repository.Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return repository.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	params := repository.EnqueueJobParams{
		JobType:     jobType,
		Payload:     payloadJSON,
		Priority:    PriorityNormal,
		MaxAttempts: 3,
		ScheduledAt: time.Now(),
	}

	for _, opt := range opts {
		opt(&params)
	}

	job, err := queries.EnqueueJob(ctx, params)
	if err != nil {
		return repository.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	return job, nil
}

// EnqueueReconcileUser enqueues a payment reconciliation run for one user.
// Called from the Stripe webhook after a completed checkout, and safe to
// enqueue redundantly: reconciliation is idempotent.
func EnqueueReconcileUser(
	ctx context.Context,
	queries *repository.Queries,
	userID uuid.UUID,
	opts ...EnqueueOption,
) (repository.Job, error) {
	payload := ReconcileUserPayload{UserID: userID}
	opts = append([]EnqueueOption{WithPriority(PriorityHigh)}, opts...)

	return EnqueueJob(ctx, queries, JobTypeReconcileUser, payload, opts...)
}

// EnqueueArchiveTransactions enqueues an audit-log archive export.
func EnqueueArchiveTransactions(
	ctx context.Context,
	queries *repository.Queries,
	opts ...EnqueueOption,
) (repository.Job, error) {
	return EnqueueJob(ctx, queries, JobTypeArchiveTransactions, ArchiveTransactionsPayload{}, opts...)
}
