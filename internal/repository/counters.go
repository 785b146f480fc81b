package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/studyhallhq/studyhall/internal/domain"
)

// GetOrCreateCounter loads the quota counter for (user, dimension),
// creating it lazily with a zero count when first accessed.
func (q *Queries) GetOrCreateCounter(ctx context.Context, userID uuid.UUID, dim domain.Dimension, now time.Time) (domain.QuotaCounter, error) {
	// The no-op DO UPDATE makes the insert return the existing row on
	// conflict, so lazy creation and read are one round trip.
	row := q.db.QueryRowContext(ctx, `
INSERT INTO quota_counters (user_id, dimension, count, last_reset)
VALUES ($1, $2, 0, $3)
ON CONFLICT (user_id, dimension) DO UPDATE SET count = quota_counters.count
RETURNING count, last_reset;
`, userID, dim, now)

	counter := domain.QuotaCounter{UserID: userID, Dimension: dim}
	if err := row.Scan(&counter.Count, &counter.LastReset); err != nil {
		return domain.QuotaCounter{}, err
	}
	return counter, nil
}

// ConsumeCounterParams identifies the counter and the window state the
// caller observed. LastReset acts as a compare-and-swap guard: if another
// request reset the window in between, no row matches and the caller must
// re-read and retry.
type ConsumeCounterParams struct {
	UserID    uuid.UUID
	Dimension domain.Dimension
	LastReset time.Time
}

// ConsumeWithinLimit atomically increments the counter only while it is
// below limit and the window is unchanged. Returns the new count, or
// sql.ErrNoRows when the guard failed (limit reached or window moved).
func (q *Queries) ConsumeWithinLimit(ctx context.Context, arg ConsumeCounterParams, limit int) (int, error) {
	row := q.db.QueryRowContext(ctx, `
UPDATE quota_counters
SET count = count + 1
WHERE user_id = $1 AND dimension = $2 AND last_reset = $3 AND count < $4
RETURNING count;
`, arg.UserID, arg.Dimension, arg.LastReset, limit)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ConsumeUnlimited atomically increments the counter with no limit check,
// still guarded on the observed window. Returns sql.ErrNoRows on a window
// race.
func (q *Queries) ConsumeUnlimited(ctx context.Context, arg ConsumeCounterParams) (int, error) {
	row := q.db.QueryRowContext(ctx, `
UPDATE quota_counters
SET count = count + 1
WHERE user_id = $1 AND dimension = $2 AND last_reset = $3
RETURNING count;
`, arg.UserID, arg.Dimension, arg.LastReset)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ResetAndConsume zeroes an elapsed window and takes the first grant of the
// new one in a single statement. The guard on the previous last_reset
// closes the reset/increment race: only one of several concurrent callers
// wins, the rest re-read and retry. Returns sql.ErrNoRows on a lost race.
func (q *Queries) ResetAndConsume(ctx context.Context, arg ConsumeCounterParams, now time.Time) (int, error) {
	row := q.db.QueryRowContext(ctx, `
UPDATE quota_counters
SET count = 1, last_reset = $4
WHERE user_id = $1 AND dimension = $2 AND last_reset = $3
RETURNING count;
`, arg.UserID, arg.Dimension, arg.LastReset, now)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
