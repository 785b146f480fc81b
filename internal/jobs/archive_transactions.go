package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyhallhq/studyhall/internal/domain"
	"github.com/studyhallhq/studyhall/internal/storage"
	"github.com/studyhallhq/studyhall/internal/worker"
)

// archiveStore is the slice of the repository the archive job needs.
type archiveStore interface {
	ListTransactionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error)
	DeleteTransactionsThrough(ctx context.Context, createdAt time.Time, id int64) (int64, error)
}

// ArchiveTransactionsHandler exports aged audit-log entries to object
// storage and prunes them from the hot table. Entries are only deleted
// after the export has been durably written.
type ArchiveTransactionsHandler struct {
	store     archiveStore
	storage   storage.Storage
	retention time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewArchiveTransactionsHandler creates a new handler for archive jobs.
func NewArchiveTransactionsHandler(
	store archiveStore,
	objects storage.Storage,
	retention time.Duration,
	batchSize int,
	logger *slog.Logger,
) *ArchiveTransactionsHandler {
	return &ArchiveTransactionsHandler{
		store:     store,
		storage:   objects,
		retention: retention,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Type returns the job type identifier.
func (h *ArchiveTransactionsHandler) Type() string {
	return worker.JobTypeArchiveTransactions
}

// Handle exports one batch of aged entries. Large backlogs drain across
// multiple scheduled runs rather than in one long transaction.
func (h *ArchiveTransactionsHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.ArchiveTransactionsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}

	cutoff := p.Before
	if cutoff.IsZero() {
		cutoff = time.Now().UTC().Add(-h.retention)
	}
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = h.batchSize
	}

	txns, err := h.store.ListTransactionsBefore(ctx, cutoff, batchSize)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}
	if len(txns) == 0 {
		h.logger.Debug("No transactions to archive", "cutoff", cutoff)
		return nil
	}

	body, err := json.Marshal(txns)
	if err != nil {
		return worker.NewPermanentError(fmt.Errorf("encode archive: %w", err))
	}

	key := storage.ArchiveKey(time.Now().UTC())
	err = h.storage.Put(ctx, key, bytes.NewReader(body), storage.PutOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("write archive %s: %w", key, err)
	}

	// The batch is durable; prune through the last exported entry's
	// (created_at, id) position. Several entries can share a timestamp, so
	// a timestamp cutoff alone would take out rows past the batch boundary
	// that were never exported.
	last := txns[len(txns)-1]
	deleted, err := h.store.DeleteTransactionsThrough(ctx, last.CreatedAt, last.ID)
	if err != nil {
		// The archive exists but the rows remain; the next run re-exports
		// them into a new object, which is wasteful but safe.
		return fmt.Errorf("prune archived transactions: %w", err)
	}

	h.logger.Info("Archived transactions",
		"count", len(txns),
		"deleted", deleted,
		"key", key,
		"cutoff", cutoff,
	)
	return nil
}
