package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ipflow/relay/audit"
	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/delivery"
	"github.com/ipflow/relay/id"
	"github.com/ipflow/relay/internal/entity"
	relaystore "github.com/ipflow/relay/store"
	"github.com/ipflow/relay/subscription"
)

func ctx() context.Context { return context.Background() }

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	s := New()

	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); !errors.Is(err, relaystore.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// credential.Store
// ──────────────────────────────────────────────────

func newCredential(tenantID, hash string) *credential.Credential {
	return &credential.Credential{
		Entity:    entity.New(),
		ID:        id.NewCredentialID(),
		TenantID:  tenantID,
		Name:      "ci",
		KeyHash:   hash,
		KeyPrefix: "ip_abcdefghi",
		Scopes:    []string{"cases.read"},
		Active:    true,
		RateLimit: 100,
	}
}

func TestCredentialCRUD(t *testing.T) {
	s := New()
	c := newCredential("t1", "hash-1")

	if err := s.CreateCredential(ctx(), c); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCredentialByHash(ctx(), "hash-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != c.ID.String() {
		t.Fatalf("got %s, want %s", got.ID, c.ID)
	}

	if err := s.RevokeCredential(ctx(), c.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetCredential(ctx(), c.ID)
	if got.Active {
		t.Fatal("expected revoked credential to be inactive")
	}

	if err := s.DeleteCredential(ctx(), c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetCredentialByHash(ctx(), "hash-1"); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteCredential(ctx(), c.ID); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCredentialDuplicateHash(t *testing.T) {
	s := New()
	if err := s.CreateCredential(ctx(), newCredential("t1", "same")); err != nil {
		t.Fatal(err)
	}
	err := s.CreateCredential(ctx(), newCredential("t2", "same"))
	if !errors.Is(err, credential.ErrDuplicateHash) {
		t.Fatalf("expected ErrDuplicateHash, got %v", err)
	}
}

func TestCredentialTouchConcurrent(t *testing.T) {
	s := New()
	c := newCredential("t1", "hash")
	_ = s.CreateCredential(ctx(), c)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.TouchCredential(ctx(), c.ID, time.Now())
		}()
	}
	wg.Wait()

	got, _ := s.GetCredential(ctx(), c.ID)
	if got.UsageCount != 50 {
		t.Fatalf("usage: got %d, want 50", got.UsageCount)
	}
	if got.LastUsedAt == nil {
		t.Fatal("expected LastUsedAt")
	}
}

func TestCredentialListScopedToTenant(t *testing.T) {
	s := New()
	_ = s.CreateCredential(ctx(), newCredential("t1", "a"))
	_ = s.CreateCredential(ctx(), newCredential("t1", "b"))
	_ = s.CreateCredential(ctx(), newCredential("t2", "c"))

	list, err := s.ListCredentials(ctx(), "t1", credential.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2, got %d", len(list))
	}

	page, _ := s.ListCredentials(ctx(), "t1", credential.ListOpts{Limit: 1, Offset: 1})
	if len(page) != 1 {
		t.Fatalf("expected 1 on second page, got %d", len(page))
	}
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := New()
	c := newCredential("t1", "hash")
	_ = s.CreateCredential(ctx(), c)

	got, _ := s.GetCredential(ctx(), c.ID)
	got.Scopes[0] = "tampered"
	got.Active = false

	again, _ := s.GetCredential(ctx(), c.ID)
	if again.Scopes[0] != "cases.read" || !again.Active {
		t.Fatal("store state leaked through returned pointer")
	}
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

func newSubscription(tenantID string, events ...string) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:   entity.New(),
		ID:       id.NewSubscriptionID(),
		TenantID: tenantID,
		URL:      "https://example.com/hook",
		Secret:   "whsec_test",
		Events:   events,
		Active:   true,
	}
}

func TestSubscriptionResolve(t *testing.T) {
	s := New()
	a := newSubscription("t1", "case.created")
	b := newSubscription("t1", "case.created", "case.closed")
	other := newSubscription("t2", "case.created")
	inactive := newSubscription("t1", "case.created")
	inactive.Active = false
	for _, sub := range []*subscription.Subscription{a, b, other, inactive} {
		_ = s.CreateSubscription(ctx(), sub)
	}

	got, err := s.Resolve(ctx(), "t1", "case.created")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2, got %d", len(got))
	}

	got, _ = s.Resolve(ctx(), "t1", "case.closed")
	if len(got) != 1 || got[0].ID.String() != b.ID.String() {
		t.Fatalf("expected only b, got %v", got)
	}

	got, _ = s.Resolve(ctx(), "t1", "form.generated")
	if len(got) != 0 {
		t.Fatalf("expected none, got %d", len(got))
	}
}

func TestSubscriptionPausedBeforeThreshold(t *testing.T) {
	s := New()
	sub := newSubscription("t1", "case.created")
	_ = s.CreateSubscription(ctx(), sub)

	for range 2 {
		if _, err := s.RecordFailure(ctx(), sub.ID, time.Now(), 3); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetActive(ctx(), sub.ID, false); err != nil {
		t.Fatal(err)
	}

	h, err := s.RecordFailure(ctx(), sub.ID, time.Now(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if h.FailureCount != 3 || h.Active || h.Disabled {
		t.Fatalf("a failure on a paused subscription must not disable it, got %+v", h)
	}
	got, _ := s.GetSubscription(ctx(), sub.ID)
	if got.DisabledAt != nil {
		t.Fatalf("expected no DisabledAt, got %v", got.DisabledAt)
	}
}

func TestSubscriptionFailureThreshold(t *testing.T) {
	s := New()
	sub := newSubscription("t1", "case.created")
	_ = s.CreateSubscription(ctx(), sub)

	var h subscription.Health
	for i := 1; i <= 3; i++ {
		var err error
		h, err = s.RecordFailure(ctx(), sub.ID, time.Now(), 3)
		if err != nil {
			t.Fatal(err)
		}
		if h.FailureCount != i {
			t.Fatalf("attempt %d: count %d", i, h.FailureCount)
		}
	}
	if h.Active || !h.Disabled {
		t.Fatalf("expected subscription disabled at threshold, got %+v", h)
	}

	got, _ := s.GetSubscription(ctx(), sub.ID)
	if got.DisabledAt == nil || got.LastDeliveryAt == nil {
		t.Fatal("expected DisabledAt and LastDeliveryAt")
	}

	h, _ = s.RecordFailure(ctx(), sub.ID, time.Now(), 3)
	if h.Disabled {
		t.Fatal("a later failure must not report the transition again")
	}

	if err := s.SetActive(ctx(), sub.ID, true); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetSubscription(ctx(), sub.ID)
	if !got.Active || got.FailureCount != 0 || got.DisabledAt != nil {
		t.Fatalf("reactivation should reset state, got %+v", got)
	}
}

func TestSubscriptionSuccessResets(t *testing.T) {
	s := New()
	sub := newSubscription("t1", "case.created")
	_ = s.CreateSubscription(ctx(), sub)

	for range 3 {
		_, _ = s.RecordFailure(ctx(), sub.ID, time.Now(), 10)
	}
	h, err := s.RecordSuccess(ctx(), sub.ID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if h.FailureCount != 0 || !h.Active {
		t.Fatalf("expected reset, got %+v", h)
	}
}

func TestSubscriptionUpdateKeepsCounters(t *testing.T) {
	s := New()
	sub := newSubscription("t1", "case.created")
	_ = s.CreateSubscription(ctx(), sub)
	_, _ = s.RecordFailure(ctx(), sub.ID, time.Now(), 10)

	stale := *sub
	stale.URL = "https://example.com/v2"
	stale.Events = []string{"case.closed"}
	stale.Secret = "whsec_other"
	if err := s.UpdateSubscription(ctx(), &stale); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetSubscription(ctx(), sub.ID)
	if got.URL != "https://example.com/v2" || got.Events[0] != "case.closed" {
		t.Fatalf("config not updated: %+v", got)
	}
	if got.FailureCount != 1 {
		t.Fatalf("failure count clobbered: %d", got.FailureCount)
	}
	if got.Secret != "whsec_test" {
		t.Fatal("secret must be immutable")
	}
}

func TestSubscriptionNotFound(t *testing.T) {
	s := New()
	missing := id.NewSubscriptionID()

	if _, err := s.GetSubscription(ctx(), missing); !errors.Is(err, subscription.ErrNotFound) {
		t.Fatalf("get: %v", err)
	}
	if _, err := s.RecordFailure(ctx(), missing, time.Now(), 10); !errors.Is(err, subscription.ErrNotFound) {
		t.Fatalf("record failure: %v", err)
	}
	if err := s.DeleteSubscription(ctx(), missing); !errors.Is(err, subscription.ErrNotFound) {
		t.Fatalf("delete: %v", err)
	}
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func TestRecordsNewestFirst(t *testing.T) {
	s := New()
	subID := id.NewSubscriptionID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 3 {
		rec := &delivery.Record{
			ID:             id.NewRecordID(),
			SubscriptionID: subID,
			TenantID:       "t1",
			Event:          "case.created",
			Success:        i != 1,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateRecord(ctx(), rec); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListRecords(ctx(), subID, delivery.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3, got %d", len(list))
	}
	if !list[0].CreatedAt.After(list[2].CreatedAt) {
		t.Fatal("expected newest first")
	}

	failed := false
	list, _ = s.ListRecords(ctx(), subID, delivery.ListOpts{Success: &failed})
	if len(list) != 1 {
		t.Fatalf("expected 1 failed record, got %d", len(list))
	}

	if _, err := s.GetRecord(ctx(), id.NewRecordID()); !errors.Is(err, delivery.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// audit.Store
// ──────────────────────────────────────────────────

func TestAuditEntries(t *testing.T) {
	s := New()
	for _, a := range []audit.Action{audit.ActionKeyCreated, audit.ActionWebhookCreated, audit.ActionKeyRevoked} {
		_ = s.CreateAuditEntry(ctx(), &audit.Entry{ID: id.NewAuditID(), TenantID: "t1", Action: a})
	}
	_ = s.CreateAuditEntry(ctx(), &audit.Entry{ID: id.NewAuditID(), TenantID: "t2", Action: audit.ActionKeyCreated})

	list, err := s.ListAuditEntries(ctx(), "t1", audit.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].Action != audit.ActionKeyRevoked {
		t.Fatalf("expected 3 newest first, got %+v", list)
	}

	list, _ = s.ListAuditEntries(ctx(), "t1", audit.ListOpts{Action: audit.ActionKeyCreated})
	if len(list) != 1 {
		t.Fatalf("expected 1 filtered, got %d", len(list))
	}
}
