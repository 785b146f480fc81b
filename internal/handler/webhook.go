// Package handler contains HTTP handlers for the Studyhall quota service.
//
// This file implements the Stripe webhook handler.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification.
package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"

	"github.com/studyhallhq/studyhall/internal/billing"
	"github.com/studyhallhq/studyhall/internal/repository"
	"github.com/studyhallhq/studyhall/internal/worker"
)

// WebhookHandler handles incoming webhook events from Stripe.
//
// The webhook never credits anything directly: a completed checkout only
// enqueues reconciliation for the paying user, and reconciliation pulls the
// authoritative session list from Stripe. A replayed or forged-looking
// event therefore cannot double-credit.
type WebhookHandler struct {
	billing billing.Service
	queries *repository.Queries
	logger  *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(billingService billing.Service, queries *repository.Queries, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing: billingService,
		queries: queries,
		logger:  logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	// Read body (limit to 64KB)
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(r, event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
	}

	// Always 200 once the signature checks out; Stripe retries anything else
	// and reconciliation is idempotent anyway.
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleCheckoutCompleted(r *http.Request, event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.logger.Error("failed to parse checkout session", "error", err)
		return
	}

	userID, err := uuid.Parse(session.ClientReferenceID)
	if err != nil {
		h.logger.Warn("checkout session has no usable client_reference_id",
			"session_id", session.ID,
			"client_reference_id", session.ClientReferenceID,
		)
		return
	}

	job, err := worker.EnqueueReconcileUser(r.Context(), h.queries, userID)
	if err != nil {
		// The next reconciliation run will still pick the payment up.
		h.logger.Error("failed to enqueue reconciliation",
			"user_id", userID,
			"session_id", session.ID,
			"error", err,
		)
		return
	}

	h.logger.Info("reconciliation enqueued",
		"user_id", userID,
		"session_id", session.ID,
		"job_id", job.ID,
	)
}
