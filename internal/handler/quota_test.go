package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/studyhallhq/studyhall/internal/domain"
)

// fakeQuotaService returns canned decisions so the handler tests only
// exercise request parsing and response shaping.
type fakeQuotaService struct {
	decision domain.Decision
	snapshot domain.UsageSnapshot
	err      error

	gotUser uuid.UUID
	gotDim  domain.Dimension
}

func (f *fakeQuotaService) CheckAndConsume(ctx context.Context, userID uuid.UUID, dim domain.Dimension) (domain.Decision, error) {
	f.gotUser = userID
	f.gotDim = dim
	return f.decision, f.err
}

func (f *fakeQuotaService) GetUsage(ctx context.Context, userID uuid.UUID) (domain.UsageSnapshot, error) {
	f.gotUser = userID
	return f.snapshot, f.err
}

func newQuotaTestHandler(svc *fakeQuotaService) *QuotaHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewQuotaHandler(svc, logger)
}

func TestQuotaConsume_Grant(t *testing.T) {
	svc := &fakeQuotaService{decision: domain.Grant(domain.GrantSourcePlan, 29)}
	h := newQuotaTestHandler(svc)

	userID := uuid.New()
	body := `{"user_id":"` + userID.String() + `","dimension":"text_message"}`
	req := httptest.NewRequest("POST", "/api/quota/consume", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Consume(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if svc.gotUser != userID {
		t.Errorf("user = %s, want %s", svc.gotUser, userID)
	}
	if svc.gotDim != domain.DimensionTextMessage {
		t.Errorf("dimension = %s, want text_message", svc.gotDim)
	}

	var resp consumeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Allowed {
		t.Error("expected allowed=true")
	}
	if resp.Remaining != 29 {
		t.Errorf("remaining = %d, want 29", resp.Remaining)
	}
	if resp.Source != string(domain.GrantSourcePlan) {
		t.Errorf("source = %q, want plan", resp.Source)
	}
}

func TestQuotaConsume_DenialIsStill200(t *testing.T) {
	svc := &fakeQuotaService{decision: domain.Deny("You have used all your daily Text Messages allowance.")}
	h := newQuotaTestHandler(svc)

	body := `{"user_id":"` + uuid.NewString() + `","dimension":"text_message"}`
	req := httptest.NewRequest("POST", "/api/quota/consume", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Consume(rec, req)

	// Denial is a business outcome, not a transport error
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp consumeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Allowed {
		t.Error("expected allowed=false")
	}
	if resp.Reason == "" {
		t.Error("expected denial reason in response")
	}
}

func TestQuotaConsume_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"bad uuid", `{"user_id":"nope","dimension":"text_message"}`},
		{"unknown dimension", `{"user_id":"` + uuid.NewString() + `","dimension":"teleport"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newQuotaTestHandler(&fakeQuotaService{})
			req := httptest.NewRequest("POST", "/api/quota/consume", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			h.Consume(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestQuotaConsume_StoreFailureIs503(t *testing.T) {
	svc := &fakeQuotaService{err: domain.Internal(io.ErrUnexpectedEOF, "quota.consume", "failed to update counter")}
	h := newQuotaTestHandler(svc)

	body := `{"user_id":"` + uuid.NewString() + `","dimension":"area_message"}`
	req := httptest.NewRequest("POST", "/api/quota/consume", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Consume(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestQuotaUsage(t *testing.T) {
	svc := &fakeQuotaService{snapshot: domain.UsageSnapshot{
		domain.DimensionTextMessage: domain.DimensionUsage{Used: 3, Limit: 30},
	}}
	h := newQuotaTestHandler(svc)

	req := httptest.NewRequest("GET", "/api/quota/usage?user_id="+uuid.NewString(), nil)
	rec := httptest.NewRecorder()

	h.Usage(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "text_message") {
		t.Errorf("expected snapshot keyed by dimension, got: %s", rec.Body.String())
	}
}

func TestQuotaUsage_MissingUserID(t *testing.T) {
	h := newQuotaTestHandler(&fakeQuotaService{})

	req := httptest.NewRequest("GET", "/api/quota/usage", nil)
	rec := httptest.NewRecorder()

	h.Usage(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
