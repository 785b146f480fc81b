package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/studyhallhq/studyhall/internal/domain"
)

// InsertTransactionParams describes one audit-log entry. Metadata is
// optional provider payload (Stripe session fields and the like) kept for
// support investigations.
type InsertTransactionParams struct {
	UserID    uuid.UUID
	Kind      domain.TransactionKind
	Deltas    map[domain.Dimension]int
	PaymentID string
	Metadata  pqtype.NullRawMessage
}

// InsertTransaction appends an immutable audit-log entry. Run inside the
// same transaction as the counter or ledger mutation it describes.
func (q *Queries) InsertTransaction(ctx context.Context, arg InsertTransactionParams) (domain.Transaction, error) {
	deltas, err := json.Marshal(arg.Deltas)
	if err != nil {
		return domain.Transaction{}, err
	}

	row := q.db.QueryRowContext(ctx, `
INSERT INTO transaction_log (user_id, kind, deltas, payment_id, metadata)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at;
`, arg.UserID, arg.Kind, deltas, arg.PaymentID, arg.Metadata)

	txn := domain.Transaction{
		UserID:    arg.UserID,
		Kind:      arg.Kind,
		Deltas:    arg.Deltas,
		PaymentID: arg.PaymentID,
	}
	if arg.Metadata.Valid {
		txn.Metadata = arg.Metadata.RawMessage
	}
	if err := row.Scan(&txn.ID, &txn.CreatedAt); err != nil {
		return domain.Transaction{}, err
	}
	return txn, nil
}

// ListTransactionsBefore returns audit-log entries older than the cutoff,
// oldest first, capped at limit. Used by the archive job to page through
// history.
func (q *Queries) ListTransactionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT id, user_id, kind, deltas, payment_id, metadata, created_at
FROM transaction_log
WHERE created_at < $1
ORDER BY created_at, id
LIMIT $2;
`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ListTransactionsByUser returns a user's audit-log entries, newest first.
func (q *Queries) ListTransactionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT id, user_id, kind, deltas, payment_id, metadata, created_at
FROM transaction_log
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2;
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	for rows.Next() {
		var txn domain.Transaction
		var deltas []byte
		var metadata pqtype.NullRawMessage
		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Kind, &deltas, &txn.PaymentID, &metadata, &txn.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(deltas, &txn.Deltas); err != nil {
			return nil, err
		}
		if metadata.Valid {
			txn.Metadata = metadata.RawMessage
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// DeleteTransactionsThrough removes entries up to and including the given
// (created_at, id) position, the sort order ListTransactionsBefore pages in.
// Keyed on the last exported row rather than a bare timestamp so a batch
// boundary inside a group of equal timestamps never deletes rows that were
// not exported. Only called after the archive job has durably exported the
// batch.
func (q *Queries) DeleteTransactionsThrough(ctx context.Context, createdAt time.Time, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
DELETE FROM transaction_log
WHERE created_at < $1 OR (created_at = $1 AND id <= $2);
`, createdAt, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
