// Package handler contains HTTP handlers for the Studyhall quota service.
//
// This file implements the admin API for support operations.
//
// Routes (behind the admin API-key middleware):
//   - POST   /api/admin/credits           -> GrantCredits
//   - POST   /api/admin/reconcile         -> Reconcile
//   - GET    /api/admin/archives/{key...} -> DownloadArchive
//   - DELETE /api/admin/archives/{key...} -> DeleteArchive
//   - POST   /api/admin/archive-links     -> ArchiveLink
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/studyhallhq/studyhall/internal/domain"
	"github.com/studyhallhq/studyhall/internal/service"
	"github.com/studyhallhq/studyhall/internal/storage"
)

// AdminHandler handles admin API requests.
type AdminHandler struct {
	ledger    service.LedgerService
	reconcile service.ReconcileService
	archives  storage.Storage
	logger    *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	ledger service.LedgerService,
	reconcile service.ReconcileService,
	archives storage.Storage,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		ledger:    ledger,
		reconcile: reconcile,
		archives:  archives,
		logger:    logger,
	}
}

// RegisterRoutes registers admin routes with the provided middleware.
func (h *AdminHandler) RegisterRoutes(
	mux *http.ServeMux,
	requireAdmin func(http.Handler) http.Handler,
) {
	mux.Handle("POST /api/admin/credits", requireAdmin(http.HandlerFunc(h.GrantCredits)))
	mux.Handle("POST /api/admin/reconcile", requireAdmin(http.HandlerFunc(h.Reconcile)))
	mux.Handle("GET /api/admin/archives/{key...}", requireAdmin(http.HandlerFunc(h.DownloadArchive)))
	mux.Handle("DELETE /api/admin/archives/{key...}", requireAdmin(http.HandlerFunc(h.DeleteArchive)))
	mux.Handle("POST /api/admin/archive-links", requireAdmin(http.HandlerFunc(h.ArchiveLink)))
}

type grantCreditsRequest struct {
	UserID  string         `json:"user_id"`
	Credits map[string]int `json:"credits"` // dimension -> amount
}

// GrantCredits adds purchased credits directly, bypassing reconciliation.
// This is the support path for goodwill grants and refund corrections.
func (h *AdminHandler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	const op = "handler.admin_credits"

	var req grantCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid JSON body"))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "user_id must be a UUID"))
		return
	}

	deltas := make(map[domain.Dimension]int, len(req.Credits))
	for name, amount := range req.Credits {
		dim, err := domain.ParseDimension(name)
		if err != nil {
			ErrorResponse(w, r, h.logger, err)
			return
		}
		deltas[dim] = amount
	}

	if err := h.ledger.Credit(r.Context(), userID, deltas); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	balances, err := h.ledger.Balances(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"balances": balances,
	})
}

type reconcileRequest struct {
	UserID string `json:"user_id"`
}

// Reconcile runs payment reconciliation for one user synchronously and
// returns the run summary.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	const op = "handler.admin_reconcile"

	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid JSON body"))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "user_id must be a UUID"))
		return
	}

	result, err := h.reconcile.Reconcile(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// DownloadArchive streams an exported transaction-log archive back to the
// support operator.
func (h *AdminHandler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	const op = "handler.admin_archive_download"

	key := r.PathValue("key")
	reader, info, err := h.archives.Get(r.Context(), key)
	if err != nil {
		ErrorResponse(w, r, h.logger, archiveError(op, key, err))
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", info.ContentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if _, err := io.Copy(w, reader); err != nil {
		// Headers are out; all we can do is log the truncated response.
		h.logger.Error("Failed to stream archive", "key", key, "error", err)
	}
}

// DeleteArchive removes an exported archive once its retention lapses.
func (h *AdminHandler) DeleteArchive(w http.ResponseWriter, r *http.Request) {
	const op = "handler.admin_archive_delete"

	key := r.PathValue("key")
	exists, err := h.archives.Exists(r.Context(), key)
	if err != nil {
		ErrorResponse(w, r, h.logger, archiveError(op, key, err))
		return
	}
	if !exists {
		ErrorResponse(w, r, h.logger, domain.NotFound(op, "archive", key))
		return
	}

	if err := h.archives.Delete(r.Context(), key); err != nil {
		ErrorResponse(w, r, h.logger, archiveError(op, key, err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"key":     key,
		"deleted": true,
	})
}

type archiveLinkRequest struct {
	Key        string `json:"key"`
	TTLMinutes int    `json:"ttl_minutes"`
}

// ArchiveLink issues a time-limited link for fetching an archive out of
// band (a presigned URL on R2), so large exports don't stream through the
// service.
func (h *AdminHandler) ArchiveLink(w http.ResponseWriter, r *http.Request) {
	const op = "handler.admin_archive_link"

	var req archiveLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid JSON body"))
		return
	}
	if req.TTLMinutes < 0 {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "ttl_minutes must not be negative"))
		return
	}

	exists, err := h.archives.Exists(r.Context(), req.Key)
	if err != nil {
		ErrorResponse(w, r, h.logger, archiveError(op, req.Key, err))
		return
	}
	if !exists {
		ErrorResponse(w, r, h.logger, domain.NotFound(op, "archive", req.Key))
		return
	}

	ttl := time.Duration(req.TTLMinutes) * time.Minute
	url, err := h.archives.URL(r.Context(), req.Key, ttl)
	if err != nil {
		ErrorResponse(w, r, h.logger, archiveError(op, req.Key, err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"key": req.Key,
		"url": url,
	})
}

// archiveError maps storage sentinels onto domain error codes so the
// response layer picks the right status.
func archiveError(op, key string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return domain.NotFound(op, "archive", key)
	case errors.Is(err, storage.ErrInvalidKey):
		return domain.Invalid(op, "invalid archive key")
	default:
		return domain.Internal(err, op, "archive storage operation failed")
	}
}
