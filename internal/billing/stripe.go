// Package billing provides the Stripe-backed payment source for credit
// reconciliation.
//
// Purchases happen through Stripe Checkout. Each completed session carries
// the buying user's ID in client_reference_id and the purchased credit
// amounts as flat metadata keys; reconciliation turns those sessions into
// ledger credits exactly once.
package billing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/studyhallhq/studyhall/internal/domain"
)

// Service defines the billing operations the rest of the system consumes.
type Service interface {
	// PaymentRecords lists the completed checkout sessions for a user as
	// immutable payment records. Already-applied records are returned
	// freely; reconciliation handles deduplication.
	PaymentRecords(ctx context.Context, userID uuid.UUID) ([]domain.PaymentRecord, error)

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)
}

// maxSessionPages bounds how far back PaymentRecords pages through the
// checkout session list. Reconciliation runs often enough that older
// sessions have long been applied.
const maxSessionPages = 10

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey authenticates Stripe API calls. The webhookSecret verifies
// incoming webhook signatures.
func NewStripeService(secretKey, webhookSecret string) Service {
	stripe.Key = secretKey

	return &stripeService{
		webhookSecret: webhookSecret,
	}
}

func (s *stripeService) PaymentRecords(ctx context.Context, userID uuid.UUID) ([]domain.PaymentRecord, error) {
	params := &stripe.CheckoutSessionListParams{
		Status: stripe.String(string(stripe.CheckoutSessionStatusComplete)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(100)

	var records []domain.PaymentRecord
	seen := 0
	iter := checkoutsession.List(params)
	for iter.Next() {
		if seen >= maxSessionPages*100 {
			break
		}
		seen++

		sess := iter.CheckoutSession()
		if sess.ClientReferenceID != userID.String() {
			continue
		}
		records = append(records, domain.PaymentRecord{
			ID:       sess.ID,
			Metadata: sess.Metadata,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripe list checkout sessions: %w", err)
	}
	return records, nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

// stubService is the development billing service used when no Stripe keys
// are configured. It yields no payment records and skips signature
// verification.
type stubService struct{}

// NewStubService creates a billing service for development environments.
func NewStubService() Service {
	return &stubService{}
}

func (s *stubService) PaymentRecords(_ context.Context, _ uuid.UUID) ([]domain.PaymentRecord, error) {
	return nil, nil
}

func (s *stubService) VerifyWebhookSignature(payload []byte, _ string) (stripe.Event, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return stripe.Event{}, fmt.Errorf("parse webhook payload: %w", err)
	}
	return event, nil
}
