package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/studyhallhq/studyhall/internal/domain"
	"github.com/studyhallhq/studyhall/internal/repository"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeStore is an in-memory quotaStore that honors the same guard semantics
// as the SQL layer: every mutation checks the observed last_reset (and the
// limit) atomically and reports sql.ErrNoRows on a failed guard.
type fakeStore struct {
	mu       sync.Mutex
	counters map[string]*domain.QuotaCounter // keyed by user|dimension
	balances map[domain.Dimension]int
	txns     []repository.InsertTransactionParams

	failCounters bool // force errors from counter operations
	debitCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		counters: make(map[string]*domain.QuotaCounter),
		balances: make(map[domain.Dimension]int),
	}
}

func counterKey(userID uuid.UUID, dim domain.Dimension) string {
	return userID.String() + "|" + string(dim)
}

func (f *fakeStore) GetOrCreateCounter(_ context.Context, userID uuid.UUID, dim domain.Dimension, now time.Time) (domain.QuotaCounter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCounters {
		return domain.QuotaCounter{}, errors.New("store unavailable")
	}
	key := counterKey(userID, dim)
	c, ok := f.counters[key]
	if !ok {
		c = &domain.QuotaCounter{UserID: userID, Dimension: dim, LastReset: now}
		f.counters[key] = c
	}
	return *c, nil
}

func (f *fakeStore) ConsumeWithinLimit(_ context.Context, arg repository.ConsumeCounterParams, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCounters {
		return 0, errors.New("store unavailable")
	}
	c, ok := f.counters[counterKey(arg.UserID, arg.Dimension)]
	if !ok || !c.LastReset.Equal(arg.LastReset) || c.Count >= limit {
		return 0, sql.ErrNoRows
	}
	c.Count++
	return c.Count, nil
}

func (f *fakeStore) ConsumeUnlimited(_ context.Context, arg repository.ConsumeCounterParams) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.counters[counterKey(arg.UserID, arg.Dimension)]
	if !ok || !c.LastReset.Equal(arg.LastReset) {
		return 0, sql.ErrNoRows
	}
	c.Count++
	return c.Count, nil
}

func (f *fakeStore) ResetAndConsume(_ context.Context, arg repository.ConsumeCounterParams, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.counters[counterKey(arg.UserID, arg.Dimension)]
	if !ok || !c.LastReset.Equal(arg.LastReset) {
		return 0, sql.ErrNoRows
	}
	c.Count = 1
	c.LastReset = now
	return c.Count, nil
}

func (f *fakeStore) DebitBalance(_ context.Context, _ uuid.UUID, dim domain.Dimension, amount int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.debitCalls++
	if f.balances[dim] < amount {
		return 0, sql.ErrNoRows
	}
	f.balances[dim] -= amount
	return f.balances[dim], nil
}

func (f *fakeStore) GetBalances(_ context.Context, _ uuid.UUID) (map[domain.Dimension]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[domain.Dimension]int, len(f.balances))
	for dim, b := range f.balances {
		out[dim] = b
	}
	return out, nil
}

func (f *fakeStore) InsertTransaction(_ context.Context, arg repository.InsertTransactionParams) (domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txns = append(f.txns, arg)
	return domain.Transaction{}, nil
}

// fixedPlan resolves every user to one tier.
type fixedPlan struct {
	tier domain.PlanTier
}

func (p fixedPlan) CurrentPlan(context.Context, uuid.UUID) (domain.PlanTier, error) {
	return p.tier, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQuotaService(store *fakeStore, tier domain.PlanTier, now time.Time) *quotaService {
	return &quotaService{
		store:  store,
		plans:  fixedPlan{tier: tier},
		logger: testLogger(),
		now:    func() time.Time { return now },
	}
}

// =============================================================================
// Decision Ladder Tests
// =============================================================================

func TestCheckAndConsume_FreeTierExhaustsThenDenies(t *testing.T) {
	// Free tier standard_vocalize allows 3 per window.
	store := newFakeStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestQuotaService(store, domain.PlanFree, now)
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		decision, err := svc.CheckAndConsume(context.Background(), userID, domain.DimensionStandardVocalize)
		if err != nil {
			t.Fatalf("consume %d: unexpected error: %v", i+1, err)
		}
		if !decision.Allowed {
			t.Fatalf("consume %d: expected grant, got denial: %s", i+1, decision.Reason)
		}
		if decision.Source != domain.GrantSourcePlan {
			t.Errorf("consume %d: expected plan source, got %s", i+1, decision.Source)
		}
		if want := 3 - (i + 1); decision.Remaining != want {
			t.Errorf("consume %d: remaining = %d, want %d", i+1, decision.Remaining, want)
		}
	}

	decision, err := svc.CheckAndConsume(context.Background(), userID, domain.DimensionStandardVocalize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("4th consume should be denied with no credits")
	}
	if !strings.Contains(decision.Reason, "monthly") {
		t.Errorf("denial should name the window, got: %s", decision.Reason)
	}
	if !strings.Contains(decision.Reason, "Plus") {
		t.Errorf("free-tier denial should upsell Plus, got: %s", decision.Reason)
	}
}

func TestCheckAndConsume_AllowanceBoundUnderConcurrency(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestQuotaService(store, domain.PlanFree, now)
	userID := uuid.New()

	const requests = 100 // free text_message limit is 30
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := svc.CheckAndConsume(context.Background(), userID, domain.DimensionTextMessage)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if decision.Allowed {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 30 {
		t.Errorf("granted = %d, want exactly the plan limit 30", granted)
	}
}

func TestCheckAndConsume_DailyWindowResets(t *testing.T) {
	store := newFakeStore()
	userID := uuid.New()

	// Exhaust the daily allowance late on day one.
	day1 := time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)
	svc := newTestQuotaService(store, domain.PlanFree, day1)
	for i := 0; i < 30; i++ {
		if decision, err := svc.CheckAndConsume(context.Background(), userID, domain.DimensionTextMessage); err != nil || !decision.Allowed {
			t.Fatalf("consume %d failed: %+v %v", i+1, decision, err)
		}
	}
	if decision, _ := svc.CheckAndConsume(context.Background(), userID, domain.DimensionTextMessage); decision.Allowed {
		t.Fatal("expected denial after exhausting daily allowance")
	}

	// Ten minutes later it is a new calendar day.
	day2 := time.Date(2026, 3, 11, 0, 0, 30, 0, time.UTC)
	svc.now = func() time.Time { return day2 }

	decision, err := svc.CheckAndConsume(context.Background(), userID, domain.DimensionTextMessage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed || decision.Source != domain.GrantSourcePlan {
		t.Fatalf("expected plan grant after reset, got %+v", decision)
	}
	if decision.Remaining != 29 {
		t.Errorf("remaining after reset = %d, want 29", decision.Remaining)
	}

	counter, _ := store.GetOrCreateCounter(context.Background(), userID, domain.DimensionTextMessage, day2)
	if counter.Count != 1 {
		t.Errorf("counter after reset = %d, want 1", counter.Count)
	}
}

func TestCheckAndConsume_LedgerFallbackDrainsBalance(t *testing.T) {
	store := newFakeStore()
	store.balances[domain.DimensionStandardVocalize] = 2
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestQuotaService(store, domain.PlanFree, now)
	userID := uuid.New()

	// 3 from plan, 2 from credits, then denial.
	results := make([]domain.Decision, 0, 6)
	for i := 0; i < 6; i++ {
		decision, err := svc.CheckAndConsume(context.Background(), userID, domain.DimensionStandardVocalize)
		if err != nil {
			t.Fatalf("consume %d: %v", i+1, err)
		}
		results = append(results, decision)
	}

	for i := 0; i < 3; i++ {
		if !results[i].Allowed || results[i].Source != domain.GrantSourcePlan {
			t.Errorf("consume %d: expected plan grant, got %+v", i+1, results[i])
		}
	}
	for i := 3; i < 5; i++ {
		if !results[i].Allowed || results[i].Source != domain.GrantSourceCredit {
			t.Errorf("consume %d: expected credit grant, got %+v", i+1, results[i])
		}
	}
	if results[5].Allowed {
		t.Errorf("consume 6: expected denial, got %+v", results[5])
	}
	if store.balances[domain.DimensionStandardVocalize] != 0 {
		t.Errorf("balance = %d, want 0", store.balances[domain.DimensionStandardVocalize])
	}

	// Every grant leaves a usage audit entry: +1 per plan grant, -1 per
	// credit debit.
	planEntries, creditEntries := 0, 0
	for _, txn := range store.txns {
		if txn.Kind != domain.TransactionKindUsage {
			continue
		}
		switch txn.Deltas[domain.DimensionStandardVocalize] {
		case 1:
			planEntries++
		case -1:
			creditEntries++
		}
	}
	if planEntries != 3 {
		t.Errorf("plan usage transactions = %d, want 3", planEntries)
	}
	if creditEntries != 2 {
		t.Errorf("credit usage transactions = %d, want 2", creditEntries)
	}
}

func TestCheckAndConsume_UnlimitedNeverTouchesLedger(t *testing.T) {
	store := newFakeStore()
	store.balances[domain.DimensionTextMessage] = 5
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestQuotaService(store, domain.PlanPro, now) // pro text is unlimited
	userID := uuid.New()

	for i := 0; i < 500; i++ {
		decision, err := svc.CheckAndConsume(context.Background(), userID, domain.DimensionTextMessage)
		if err != nil {
			t.Fatalf("consume %d: %v", i+1, err)
		}
		if !decision.Allowed || decision.Source != domain.GrantSourcePlan {
			t.Fatalf("consume %d: expected plan grant, got %+v", i+1, decision)
		}
		if decision.Remaining != domain.Unlimited {
			t.Fatalf("consume %d: remaining = %d, want Unlimited", i+1, decision.Remaining)
		}
	}

	if store.debitCalls != 0 {
		t.Errorf("debit calls = %d, want 0", store.debitCalls)
	}
	if store.balances[domain.DimensionTextMessage] != 5 {
		t.Errorf("balance changed to %d, want untouched 5", store.balances[domain.DimensionTextMessage])
	}
}

func TestCheckAndConsume_ProGateBeatsCredits(t *testing.T) {
	store := newFakeStore()
	store.balances[domain.DimensionProVocalize] = 100
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestQuotaService(store, domain.PlanFree, now)
	userID := uuid.New()

	decision, err := svc.CheckAndConsume(context.Background(), userID, domain.DimensionProVocalize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("pro-gated dimension must deny on free tier even with credits")
	}
	if store.debitCalls != 0 {
		t.Errorf("debit calls = %d, want 0", store.debitCalls)
	}
	if store.balances[domain.DimensionProVocalize] != 100 {
		t.Errorf("balance = %d, want untouched 100", store.balances[domain.DimensionProVocalize])
	}
}

func TestCheckAndConsume_FailsClosedOnStoreError(t *testing.T) {
	store := newFakeStore()
	store.failCounters = true
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestQuotaService(store, domain.PlanFree, now)

	_, err := svc.CheckAndConsume(context.Background(), uuid.New(), domain.DimensionTextMessage)
	if err == nil {
		t.Fatal("expected error when the store is unavailable")
	}
	if code := domain.ErrorCode(err); code != domain.EINTERNAL {
		t.Errorf("error code = %s, want EINTERNAL", code)
	}
}

func TestCheckAndConsume_UnknownDimension(t *testing.T) {
	svc := newTestQuotaService(newFakeStore(), domain.PlanFree, time.Now())

	_, err := svc.CheckAndConsume(context.Background(), uuid.New(), domain.Dimension("video_call"))
	if err == nil {
		t.Fatal("expected error for unknown dimension")
	}
	if code := domain.ErrorCode(err); code != domain.EINVALID {
		t.Errorf("error code = %s, want EINVALID", code)
	}
}

// =============================================================================
// Usage Snapshot Tests
// =============================================================================

func TestGetUsage_ElapsedWindowShowsZeroWithoutWriting(t *testing.T) {
	store := newFakeStore()
	userID := uuid.New()

	day1 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestQuotaService(store, domain.PlanFree, day1)
	for i := 0; i < 5; i++ {
		if _, err := svc.CheckAndConsume(context.Background(), userID, domain.DimensionTextMessage); err != nil {
			t.Fatal(err)
		}
	}

	day2 := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day2 }

	snapshot, err := svc.GetUsage(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	usage := snapshot[domain.DimensionTextMessage]
	if usage.Used != 0 {
		t.Errorf("used = %d, want 0 for elapsed window", usage.Used)
	}
	if usage.Limit != 30 {
		t.Errorf("limit = %d, want 30", usage.Limit)
	}

	// The projection must not have reset the stored counter.
	counter, _ := store.GetOrCreateCounter(context.Background(), userID, domain.DimensionTextMessage, day2)
	if counter.Count != 5 {
		t.Errorf("stored count = %d, want 5 (reset happens on consume, not read)", counter.Count)
	}
}

func TestGetUsage_IncludesBalancesAndLimits(t *testing.T) {
	store := newFakeStore()
	store.balances[domain.DimensionAreaMessage] = 7
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestQuotaService(store, domain.PlanPlus, now)

	snapshot, err := svc.GetUsage(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshot) != len(domain.AllDimensions()) {
		t.Fatalf("snapshot has %d dimensions, want %d", len(snapshot), len(domain.AllDimensions()))
	}

	area := snapshot[domain.DimensionAreaMessage]
	if area.Limit != 50 {
		t.Errorf("plus area limit = %d, want 50", area.Limit)
	}
	if area.PurchasedBalance != 7 {
		t.Errorf("purchased balance = %d, want 7", area.PurchasedBalance)
	}
}
