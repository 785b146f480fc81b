package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job is a row in the background job queue.
type Job struct {
	ID           uuid.UUID
	JobType      string
	Payload      json.RawMessage
	Status       string
	Priority     int32
	Attempts     int32
	MaxAttempts  int32
	ScheduledAt  time.Time
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
	ErrorMessage sql.NullString
	CreatedAt    time.Time
}

// EnqueueJobParams are the caller-supplied fields for a new job.
type EnqueueJobParams struct {
	JobType     string
	Payload     json.RawMessage
	Priority    int32
	MaxAttempts int32
	ScheduledAt time.Time
}

// EnqueueJob inserts a pending job into the queue.
func (q *Queries) EnqueueJob(ctx context.Context, arg EnqueueJobParams) (Job, error) {
	row := q.db.QueryRowContext(ctx, `
INSERT INTO jobs (job_type, payload, priority, max_attempts, scheduled_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, job_type, payload, status, priority, attempts, max_attempts, scheduled_at, created_at;
`, arg.JobType, arg.Payload, arg.Priority, arg.MaxAttempts, arg.ScheduledAt)

	var job Job
	err := row.Scan(
		&job.ID, &job.JobType, &job.Payload, &job.Status,
		&job.Priority, &job.Attempts, &job.MaxAttempts,
		&job.ScheduledAt, &job.CreatedAt,
	)
	return job, err
}

// DequeueJob claims the next runnable job. FOR UPDATE SKIP LOCKED lets
// multiple workers poll the same table without blocking on each other's
// claims. Returns sql.ErrNoRows when nothing is runnable. Must be called
// inside a transaction, paired with UpdateJobStarted before commit.
func (q *Queries) DequeueJob(ctx context.Context) (Job, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT id, job_type, payload, status, priority, attempts, max_attempts, scheduled_at, created_at
FROM jobs
WHERE status = 'pending' AND scheduled_at <= now()
ORDER BY priority DESC, scheduled_at
LIMIT 1
FOR UPDATE SKIP LOCKED;
`)

	var job Job
	err := row.Scan(
		&job.ID, &job.JobType, &job.Payload, &job.Status,
		&job.Priority, &job.Attempts, &job.MaxAttempts,
		&job.ScheduledAt, &job.CreatedAt,
	)
	return job, err
}

// UpdateJobStarted marks a claimed job as running and counts the attempt.
func (q *Queries) UpdateJobStarted(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `
UPDATE jobs
SET status = 'running', started_at = now(), attempts = attempts + 1
WHERE id = $1;
`, id)
	return err
}

// UpdateJobCompleted marks a job as successfully finished.
func (q *Queries) UpdateJobCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `
UPDATE jobs
SET status = 'completed', completed_at = now(), error_message = NULL
WHERE id = $1;
`, id)
	return err
}

// UpdateJobFailedParams carries the failure details for a job.
type UpdateJobFailedParams struct {
	ID           uuid.UUID
	ErrorMessage sql.NullString
}

// UpdateJobFailed records a failed attempt. Jobs with attempts remaining go
// back to pending with exponential backoff (1m, 2m, 4m, ...); exhausted
// jobs are marked failed for good.
func (q *Queries) UpdateJobFailed(ctx context.Context, arg UpdateJobFailedParams) error {
	_, err := q.db.ExecContext(ctx, `
UPDATE jobs
SET status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
    scheduled_at = CASE WHEN attempts >= max_attempts THEN scheduled_at
                        ELSE now() + (interval '1 minute' * power(2, attempts - 1)) END,
    error_message = $2
WHERE id = $1;
`, arg.ID, arg.ErrorMessage)
	return err
}

// MarkJobPermanentlyFailed marks a job failed regardless of remaining
// attempts, for errors that retrying cannot fix.
func (q *Queries) MarkJobPermanentlyFailed(ctx context.Context, arg UpdateJobFailedParams) error {
	_, err := q.db.ExecContext(ctx, `
UPDATE jobs
SET status = 'failed', error_message = $2
WHERE id = $1;
`, arg.ID, arg.ErrorMessage)
	return err
}

// RecoverStaleJobs resets jobs stuck in running longer than the threshold
// back to pending. Covers workers that crashed mid-job.
func (q *Queries) RecoverStaleJobs(ctx context.Context, thresholdSeconds float64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE jobs
SET status = 'pending', started_at = NULL
WHERE status = 'running' AND started_at < now() - ($1 * interval '1 second');
`, thresholdSeconds)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
