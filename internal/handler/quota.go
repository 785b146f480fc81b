// Package handler contains HTTP handlers for the Studyhall quota service.
//
// This file implements the public quota API.
//
// Routes:
//   - POST /api/quota/consume -> Consume
//   - GET  /api/quota/usage   -> Usage
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/studyhallhq/studyhall/internal/domain"
	"github.com/studyhallhq/studyhall/internal/service"
)

// QuotaHandler handles quota check and usage requests.
type QuotaHandler struct {
	quota  service.QuotaService
	logger *slog.Logger
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(quota service.QuotaService, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{
		quota:  quota,
		logger: logger,
	}
}

// RegisterRoutes registers quota routes on the provided mux.
func (h *QuotaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/quota/consume", h.Consume)
	mux.HandleFunc("GET /api/quota/usage", h.Usage)
}

type consumeRequest struct {
	UserID    string `json:"user_id"`
	Dimension string `json:"dimension"`
}

type consumeResponse struct {
	Allowed   bool   `json:"allowed"`
	Source    string `json:"source,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Remaining int    `json:"remaining"`
}

// Consume checks and consumes one unit of a dimension for a user. Both
// grants and denials are 200 responses; only infrastructure failures use
// error statuses.
func (h *QuotaHandler) Consume(w http.ResponseWriter, r *http.Request) {
	const op = "handler.quota_consume"

	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid JSON body"))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "user_id must be a UUID"))
		return
	}
	dim, err := domain.ParseDimension(req.Dimension)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	decision, err := h.quota.CheckAndConsume(r.Context(), userID, dim)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, consumeResponse{
		Allowed:   decision.Allowed,
		Source:    string(decision.Source),
		Reason:    decision.Reason,
		Remaining: decision.Remaining,
	})
}

// Usage returns the per-dimension usage projection for a user.
func (h *QuotaHandler) Usage(w http.ResponseWriter, r *http.Request) {
	const op = "handler.quota_usage"

	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "user_id must be a UUID"))
		return
	}

	snapshot, err := h.quota.GetUsage(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}
