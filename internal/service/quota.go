// Package service contains the business logic layer.
//
// This file implements the quota gate: the single decision point through
// which every gated user action must pass before it runs.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/studyhallhq/studyhall/internal/domain"
	"github.com/studyhallhq/studyhall/internal/metrics"
	"github.com/studyhallhq/studyhall/internal/repository"
)

// maxConsumeAttempts bounds the retry loop around counter races. Each
// attempt re-reads the counter, so a loop this long only happens under
// pathological contention on a single user's counter.
const maxConsumeAttempts = 4

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService defines the quota gate operations.
type QuotaService interface {
	// CheckAndConsume atomically checks and consumes one unit of the
	// dimension for the user. A denial is a normal Decision, not an error;
	// errors mean the check could not be performed and the caller must
	// treat the action as blocked.
	CheckAndConsume(ctx context.Context, userID uuid.UUID, dim domain.Dimension) (domain.Decision, error)

	// GetUsage returns the read-only usage projection for every dimension.
	// It never mutates counters or balances.
	GetUsage(ctx context.Context, userID uuid.UUID) (domain.UsageSnapshot, error)
}

// quotaStore is the slice of the repository the quota gate needs.
type quotaStore interface {
	GetOrCreateCounter(ctx context.Context, userID uuid.UUID, dim domain.Dimension, now time.Time) (domain.QuotaCounter, error)
	ConsumeWithinLimit(ctx context.Context, arg repository.ConsumeCounterParams, limit int) (int, error)
	ConsumeUnlimited(ctx context.Context, arg repository.ConsumeCounterParams) (int, error)
	ResetAndConsume(ctx context.Context, arg repository.ConsumeCounterParams, now time.Time) (int, error)
	DebitBalance(ctx context.Context, userID uuid.UUID, dim domain.Dimension, amount int) (int, error)
	GetBalances(ctx context.Context, userID uuid.UUID) (map[domain.Dimension]int, error)
	InsertTransaction(ctx context.Context, arg repository.InsertTransactionParams) (domain.Transaction, error)
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	store  quotaStore
	plans  PlanResolver
	logger *slog.Logger
	now    func() time.Time
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(store quotaStore, plans PlanResolver, logger *slog.Logger) QuotaService {
	return &quotaService{
		store:  store,
		plans:  plans,
		logger: logger,
		now:    time.Now,
	}
}

// CheckAndConsume walks the decision ladder: pro-gate, plan allowance with
// lazy window reset, then purchased-credit fallback. Any store failure
// surfaces as an internal error so enforcement fails closed.
func (s *quotaService) CheckAndConsume(ctx context.Context, userID uuid.UUID, dim domain.Dimension) (domain.Decision, error) {
	const op = "quota.consume"

	if !dim.Valid() {
		return domain.Decision{}, domain.Invalid(op, "unknown dimension")
	}

	tier, err := s.plans.CurrentPlan(ctx, userID)
	if err != nil {
		return domain.Decision{}, domain.Internal(err, op, "failed to resolve plan")
	}

	// Pro-gating is a tier property, not an allowance: credits never lift it.
	if dim.ProGated() && tier.IsFree() {
		metrics.QuotaDenialsTotal.WithLabelValues(dim.String(), "pro_gated").Inc()
		return domain.Deny(domain.ProGateMessage(dim)), nil
	}

	now := s.now().UTC()
	limit := domain.PlanLimit(tier, dim)

	if limit != 0 {
		decision, exhausted, err := s.consumeFromPlan(ctx, userID, dim, limit, now)
		if err != nil {
			return domain.Decision{}, domain.Internal(err, op, "failed to update counter")
		}
		if !exhausted {
			metrics.QuotaGrantsTotal.WithLabelValues(dim.String(), string(domain.GrantSourcePlan)).Inc()
			s.recordUsage(ctx, userID, dim, 1)
			return decision, nil
		}
	}

	// Plan allowance exhausted: fall through to purchased credits.
	balance, err := s.store.DebitBalance(ctx, userID, dim, 1)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.QuotaDenialsTotal.WithLabelValues(dim.String(), "exhausted").Inc()
		s.logger.Info("Quota denied",
			"user_id", userID,
			"dimension", dim,
			"tier", tier,
		)
		return domain.Deny(domain.DenialMessage(dim, tier)), nil
	}
	if err != nil {
		return domain.Decision{}, domain.Internal(err, op, "failed to debit credits")
	}

	metrics.QuotaGrantsTotal.WithLabelValues(dim.String(), string(domain.GrantSourceCredit)).Inc()
	metrics.CreditsDebitedTotal.WithLabelValues(dim.String()).Inc()
	s.logger.Info("Quota granted from credits",
		"user_id", userID,
		"dimension", dim,
		"balance", balance,
	)

	s.recordUsage(ctx, userID, dim, -1)

	return domain.Grant(domain.GrantSourceCredit, 0), nil
}

// recordUsage appends the audit entry for one grant: +1 against the plan
// counter or -1 against the credit balance. The grant already stands; the
// entry is advisory and must not turn a granted action into a failure.
func (s *quotaService) recordUsage(ctx context.Context, userID uuid.UUID, dim domain.Dimension, delta int) {
	if _, err := s.store.InsertTransaction(ctx, repository.InsertTransactionParams{
		UserID: userID,
		Kind:   domain.TransactionKindUsage,
		Deltas: map[domain.Dimension]int{dim: delta},
	}); err != nil {
		s.logger.Error("Failed to record usage transaction", "user_id", userID, "error", err)
	}
}

// consumeFromPlan tries to take one unit from the plan allowance. The
// boolean result reports whether the allowance is exhausted; in that case
// the Decision is empty and the caller falls through to the ledger.
//
// Every mutation is a conditional update guarded on the counter state read
// just before it. sql.ErrNoRows from the store means another request moved
// the counter first; re-reading and retrying preserves the allowance bound
// without locks.
func (s *quotaService) consumeFromPlan(ctx context.Context, userID uuid.UUID, dim domain.Dimension, limit int, now time.Time) (domain.Decision, bool, error) {
	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		counter, err := s.store.GetOrCreateCounter(ctx, userID, dim, now)
		if err != nil {
			return domain.Decision{}, false, err
		}

		params := repository.ConsumeCounterParams{
			UserID:    userID,
			Dimension: dim,
			LastReset: counter.LastReset,
		}

		if domain.NeedsReset(dim, counter.LastReset, now) {
			count, err := s.store.ResetAndConsume(ctx, params, now)
			if errors.Is(err, sql.ErrNoRows) {
				continue // another request reset the window first
			}
			if err != nil {
				return domain.Decision{}, false, err
			}
			metrics.QuotaWindowResets.WithLabelValues(dim.String()).Inc()
			return domain.Grant(domain.GrantSourcePlan, remaining(limit, count)), false, nil
		}

		if limit == domain.Unlimited {
			_, err := s.store.ConsumeUnlimited(ctx, params)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return domain.Decision{}, false, err
			}
			return domain.Grant(domain.GrantSourcePlan, domain.Unlimited), false, nil
		}

		count, err := s.store.ConsumeWithinLimit(ctx, params, limit)
		if err == nil {
			return domain.Grant(domain.GrantSourcePlan, remaining(limit, count)), false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Decision{}, false, err
		}

		// Guard failed: either the window moved underneath us or the limit
		// is reached. Re-read to tell the two apart.
		fresh, err := s.store.GetOrCreateCounter(ctx, userID, dim, now)
		if err != nil {
			return domain.Decision{}, false, err
		}
		if !fresh.LastReset.Equal(counter.LastReset) || domain.NeedsReset(dim, fresh.LastReset, now) {
			continue
		}
		return domain.Decision{}, true, nil
	}

	return domain.Decision{}, false, errors.New("counter contention: retries exhausted")
}

func remaining(limit, count int) int {
	if limit == domain.Unlimited {
		return domain.Unlimited
	}
	if count > limit {
		return 0
	}
	return limit - count
}

// GetUsage builds the per-dimension usage projection. Counters whose window
// has elapsed are shown as zero without being written; the actual reset
// happens lazily on the next consume.
func (s *quotaService) GetUsage(ctx context.Context, userID uuid.UUID) (domain.UsageSnapshot, error) {
	const op = "quota.usage"

	tier, err := s.plans.CurrentPlan(ctx, userID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to resolve plan")
	}

	balances, err := s.store.GetBalances(ctx, userID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load balances")
	}

	now := s.now().UTC()
	snapshot := domain.UsageSnapshot{}
	for _, dim := range domain.AllDimensions() {
		counter, err := s.store.GetOrCreateCounter(ctx, userID, dim, now)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to load counter")
		}

		used := counter.Count
		resetsAt := domain.NextReset(dim, counter.LastReset)
		if domain.NeedsReset(dim, counter.LastReset, now) {
			used = 0
			resetsAt = domain.NextReset(dim, now)
		}

		snapshot[dim] = domain.DimensionUsage{
			Used:             used,
			Limit:            domain.PlanLimit(tier, dim),
			PurchasedBalance: balances[dim],
			ResetsAt:         resetsAt,
		}
	}

	return snapshot, nil
}
