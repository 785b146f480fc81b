// Package service contains the business logic layer.
//
// This file implements the purchased-credit ledger operations: the admin
// credit path and the exactly-once application of payment records.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/studyhallhq/studyhall/internal/domain"
	"github.com/studyhallhq/studyhall/internal/metrics"
	"github.com/studyhallhq/studyhall/internal/repository"
)

// =============================================================================
// Interface Definition
// =============================================================================

// LedgerService defines the purchased-credit balance operations.
type LedgerService interface {
	// Credit adds purchased credits directly, bypassing payment
	// reconciliation. This is the admin/support path.
	// Returns domain.EINVALID for unknown dimensions or non-positive amounts.
	Credit(ctx context.Context, userID uuid.UUID, deltas map[domain.Dimension]int) error

	// ApplyPayment credits the deltas carried by one payment record,
	// exactly once. Returns false when the record was already applied.
	// The applied-ID insert, balance credits, and audit entry commit in a
	// single transaction.
	ApplyPayment(ctx context.Context, userID uuid.UUID, rec domain.PaymentRecord) (bool, error)

	// Balances returns the current purchased-credit balances for a user.
	Balances(ctx context.Context, userID uuid.UUID) (map[domain.Dimension]int, error)
}

// =============================================================================
// Implementation
// =============================================================================

type ledgerService struct {
	db      *sql.DB
	queries *repository.Queries
	logger  *slog.Logger
}

// NewLedgerService creates a new LedgerService. The *sql.DB handle is
// needed alongside the queries because ApplyPayment and Credit span
// multiple statements in one transaction.
func NewLedgerService(db *sql.DB, queries *repository.Queries, logger *slog.Logger) LedgerService {
	return &ledgerService{
		db:      db,
		queries: queries,
		logger:  logger,
	}
}

// Credit adds purchased credits directly via the admin path.
func (s *ledgerService) Credit(ctx context.Context, userID uuid.UUID, deltas map[domain.Dimension]int) error {
	const op = "ledger.credit"

	if len(deltas) == 0 {
		return domain.Invalid(op, "no credits to apply")
	}
	for dim, amount := range deltas {
		if !dim.Valid() {
			return domain.Invalid(op, fmt.Sprintf("unknown dimension %q", dim))
		}
		if amount <= 0 {
			return domain.Invalid(op, fmt.Sprintf("amount for %s must be positive", dim))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Internal(err, op, "failed to begin transaction")
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)
	for dim, amount := range deltas {
		if _, err := qtx.CreditBalance(ctx, userID, dim, amount); err != nil {
			return domain.Internal(err, op, "failed to credit balance")
		}
	}

	if _, err := qtx.InsertTransaction(ctx, repository.InsertTransactionParams{
		UserID: userID,
		Kind:   domain.TransactionKindPurchase,
		Deltas: deltas,
	}); err != nil {
		return domain.Internal(err, op, "failed to record transaction")
	}

	if err := tx.Commit(); err != nil {
		return domain.Internal(err, op, "failed to commit")
	}

	for dim, amount := range deltas {
		metrics.CreditsGrantedTotal.WithLabelValues(dim.String(), "admin").Add(float64(amount))
	}
	s.logger.Info("Credits granted", "user_id", userID, "deltas", deltas, "source", "admin")
	return nil
}

// ApplyPayment credits one payment record exactly once.
//
// The applied-payments insert doubles as the idempotency check: a record
// whose ID is already in the set commits nothing. Records whose metadata
// parses to no usable deltas are still marked applied so reconciliation
// does not revisit them forever.
func (s *ledgerService) ApplyPayment(ctx context.Context, userID uuid.UUID, rec domain.PaymentRecord) (bool, error) {
	const op = "ledger.apply_payment"

	if rec.ID == "" {
		return false, domain.Invalid(op, "payment record has no ID")
	}

	deltas := domain.ParseCreditDeltas(rec.Metadata)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, domain.Internal(err, op, "failed to begin transaction")
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)

	inserted, err := qtx.MarkPaymentApplied(ctx, userID, rec.ID)
	if err != nil {
		return false, domain.Internal(err, op, "failed to mark payment applied")
	}
	if !inserted {
		return false, nil
	}

	for dim, amount := range deltas {
		if _, err := qtx.CreditBalance(ctx, userID, dim, amount); err != nil {
			return false, domain.Internal(err, op, "failed to credit balance")
		}
	}

	var metadata pqtype.NullRawMessage
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return false, domain.Internal(err, op, "failed to encode metadata")
		}
		metadata = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	if _, err := qtx.InsertTransaction(ctx, repository.InsertTransactionParams{
		UserID:    userID,
		Kind:      domain.TransactionKindPurchase,
		Deltas:    deltas,
		PaymentID: rec.ID,
		Metadata:  metadata,
	}); err != nil {
		return false, domain.Internal(err, op, "failed to record transaction")
	}

	if err := tx.Commit(); err != nil {
		return false, domain.Internal(err, op, "failed to commit")
	}

	if len(deltas) == 0 {
		s.logger.Warn("Payment record carried no usable credits",
			"user_id", userID,
			"payment_id", rec.ID,
		)
	}
	for dim, amount := range deltas {
		metrics.CreditsGrantedTotal.WithLabelValues(dim.String(), "reconcile").Add(float64(amount))
	}
	return true, nil
}

// Balances returns the purchased-credit balances for a user.
func (s *ledgerService) Balances(ctx context.Context, userID uuid.UUID) (map[domain.Dimension]int, error) {
	const op = "ledger.balances"

	balances, err := s.queries.GetBalances(ctx, userID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load balances")
	}
	return balances, nil
}
