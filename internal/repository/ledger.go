package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/studyhallhq/studyhall/internal/domain"
)

// GetBalances returns every purchased-credit balance for a user. Dimensions
// with no ledger row have an implicit zero balance and are absent from the
// map.
func (q *Queries) GetBalances(ctx context.Context, userID uuid.UUID) (map[domain.Dimension]int, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT dimension, balance
FROM purchase_ledger
WHERE user_id = $1;
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make(map[domain.Dimension]int)
	for rows.Next() {
		var dim domain.Dimension
		var balance int
		if err := rows.Scan(&dim, &balance); err != nil {
			return nil, err
		}
		balances[dim] = balance
	}
	return balances, rows.Err()
}

// CreditBalance atomically increases a purchased-credit balance, creating
// the ledger row lazily. Always succeeds for non-negative amounts.
func (q *Queries) CreditBalance(ctx context.Context, userID uuid.UUID, dim domain.Dimension, amount int) (int, error) {
	row := q.db.QueryRowContext(ctx, `
INSERT INTO purchase_ledger (user_id, dimension, balance)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, dimension)
DO UPDATE SET balance = purchase_ledger.balance + EXCLUDED.balance, updated_at = now()
RETURNING balance;
`, userID, dim, amount)

	var balance int
	if err := row.Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// DebitBalance atomically decreases a balance only if it covers the amount.
// Returns the new balance, or sql.ErrNoRows when the balance was
// insufficient (no mutation happens in that case).
func (q *Queries) DebitBalance(ctx context.Context, userID uuid.UUID, dim domain.Dimension, amount int) (int, error) {
	row := q.db.QueryRowContext(ctx, `
UPDATE purchase_ledger
SET balance = balance - $3, updated_at = now()
WHERE user_id = $1 AND dimension = $2 AND balance >= $3
RETURNING balance;
`, userID, dim, amount)

	var balance int
	if err := row.Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// MarkPaymentApplied records a payment ID in the applied set. Returns false
// without error when the ID was already present. Run inside the same
// transaction as the corresponding CreditBalance calls so the membership
// check and the ledger update commit or roll back together.
func (q *Queries) MarkPaymentApplied(ctx context.Context, userID uuid.UUID, paymentID string) (bool, error) {
	row := q.db.QueryRowContext(ctx, `
INSERT INTO applied_payments (user_id, payment_id)
VALUES ($1, $2)
ON CONFLICT (payment_id) DO NOTHING
RETURNING payment_id;
`, userID, paymentID)

	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsPaymentApplied reports whether a payment ID has already been credited.
func (q *Queries) IsPaymentApplied(ctx context.Context, paymentID string) (bool, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM applied_payments WHERE payment_id = $1);
`, paymentID)

	var applied bool
	if err := row.Scan(&applied); err != nil {
		return false, err
	}
	return applied, nil
}
