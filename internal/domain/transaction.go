package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TransactionID is the sequential identifier assigned by the log.
type TransactionID = int64

// TransactionKind classifies a transaction-log entry.
type TransactionKind string

const (
	TransactionKindPurchase TransactionKind = "purchase"
	TransactionKindUsage    TransactionKind = "usage"
)

// Transaction is one immutable, append-only audit record of a grant or a
// purchase credit. The quota gate only ever writes these; nothing in the
// grant path reads them back.
type Transaction struct {
	ID        TransactionID
	UserID    uuid.UUID
	Kind      TransactionKind
	Deltas    map[Dimension]int // +N purchase credits, +1 plan usage, -1 ledger debit
	PaymentID string            // set for purchase entries
	Metadata  json.RawMessage   // provider payload on purchase entries, nil otherwise
	CreatedAt time.Time
}
