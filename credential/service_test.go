package credential_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ipflow/relay/audit"
	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/id"
	"github.com/ipflow/relay/store/memory"
)

func ctx() context.Context { return context.Background() }

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newService(t *testing.T) (*credential.Service, *memory.Store, *clock, *[]*audit.Entry) {
	t.Helper()
	s := memory.New()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	var entries []*audit.Entry
	rec := audit.NewRecorder(audit.SinkFunc(func(_ context.Context, e *audit.Entry) error {
		entries = append(entries, e)
		return nil
	}), nil)
	svc := credential.NewService(s, nil,
		credential.WithClock(clk.Now),
		credential.WithAudit(rec),
	)
	return svc, s, clk, &entries
}

func issue(t *testing.T, svc *credential.Service, in credential.Input) *credential.Issued {
	t.Helper()
	iss, err := svc.Issue(ctx(), in)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return iss
}

func TestGenerate(t *testing.T) {
	g, err := credential.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(g.Key, credential.KeyPrefix) {
		t.Fatalf("key %q lacks prefix", g.Key)
	}
	if len(g.Key) != 3+43 {
		t.Fatalf("unexpected key length %d", len(g.Key))
	}
	if g.Hash != credential.Hash(g.Key) || len(g.Hash) != 64 {
		t.Fatal("hash should be hex sha256 of the key")
	}
	if g.Prefix != g.Key[:12] {
		t.Fatalf("prefix: got %q", g.Prefix)
	}

	other, _ := credential.Generate()
	if other.Key == g.Key {
		t.Fatal("two keys collided")
	}
}

func TestIssueAuthenticateRoundTrip(t *testing.T) {
	svc, s, _, entries := newService(t)

	iss := issue(t, svc, credential.Input{
		TenantID: "org-1",
		Name:     "intake bot",
		Scopes:   []string{"cases.read", "forms.*"},
		ActorID:  "user-1",
	})
	if iss.Key == "" || iss.KeyHash == iss.Key {
		t.Fatal("raw key should be returned and never stored as the hash")
	}
	if iss.RateLimit != credential.DefaultRateLimit {
		t.Fatalf("rate limit: got %d", iss.RateLimit)
	}

	p, err := svc.Authenticate(ctx(), iss.Key)
	if err != nil {
		t.Fatal(err)
	}
	if p.TenantID != "org-1" || p.CredentialID.String() != iss.ID.String() {
		t.Fatalf("unexpected principal %+v", p)
	}
	if len(p.Scopes) != 2 {
		t.Fatalf("scopes: %v", p.Scopes)
	}

	stored, _ := s.GetCredential(ctx(), iss.ID)
	if stored.UsageCount != 1 || stored.LastUsedAt == nil {
		t.Fatalf("usage not recorded: %+v", stored)
	}

	if len(*entries) != 1 || (*entries)[0].Action != audit.ActionKeyCreated || (*entries)[0].ActorID != "user-1" {
		t.Fatalf("expected api_key.created entry, got %+v", *entries)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	svc, _, clk, _ := newService(t)

	expires := clk.t.Add(time.Hour)
	expiring := issue(t, svc, credential.Input{TenantID: "org", Name: "a", Scopes: []string{"*"}, ExpiresAt: &expires})
	revoked := issue(t, svc, credential.Input{TenantID: "org", Name: "b", Scopes: []string{"*"}})
	if err := svc.Revoke(ctx(), revoked.ID, "user-1"); err != nil {
		t.Fatal(err)
	}

	unknown, _ := credential.Generate()

	tests := []struct {
		name string
		key  string
		pre  func()
	}{
		{name: "empty", key: ""},
		{name: "wrong prefix", key: "sk_" + strings.Repeat("a", 43)},
		{name: "truncated", key: expiring.Key[:20]},
		{name: "unknown", key: unknown.Key},
		{name: "revoked", key: revoked.Key},
		{name: "expired", key: expiring.Key, pre: func() { clk.t = expires }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.pre != nil {
				tt.pre()
			}
			_, err := svc.Authenticate(ctx(), tt.key)
			if !errors.Is(err, credential.ErrInvalidCredential) {
				t.Fatalf("expected ErrInvalidCredential, got %v", err)
			}
		})
	}
}

func TestIssueValidation(t *testing.T) {
	svc, _, clk, _ := newService(t)
	past := clk.t.Add(-time.Minute)

	tests := []struct {
		name  string
		in    credential.Input
		field string
	}{
		{"no tenant", credential.Input{Name: "x", Scopes: []string{"*"}}, "tenant_id"},
		{"blank name", credential.Input{TenantID: "o", Name: "  ", Scopes: []string{"*"}}, "name"},
		{"no scopes", credential.Input{TenantID: "o", Name: "x"}, "scopes"},
		{"bad scope", credential.Input{TenantID: "o", Name: "x", Scopes: []string{"forms.*.read"}}, "scopes"},
		{"past expiry", credential.Input{TenantID: "o", Name: "x", Scopes: []string{"*"}, ExpiresAt: &past}, "expires_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Issue(ctx(), tt.in)
			var ve *credential.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("field: got %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestIssueCustomRateLimit(t *testing.T) {
	svc, _, _, _ := newService(t)
	iss := issue(t, svc, credential.Input{TenantID: "o", Name: "x", Scopes: []string{"*"}, RateLimit: 5})

	p, err := svc.Authenticate(ctx(), iss.Key)
	if err != nil {
		t.Fatal(err)
	}
	if p.RateLimit != 5 {
		t.Fatalf("rate limit: got %d", p.RateLimit)
	}
}

// dupOnce reports a hash collision on the first insert.
type dupOnce struct {
	*memory.Store
	tripped bool
}

func (d *dupOnce) CreateCredential(c context.Context, cr *credential.Credential) error {
	if !d.tripped {
		d.tripped = true
		return credential.ErrDuplicateHash
	}
	return d.Store.CreateCredential(c, cr)
}

func TestIssueRetriesOnHashCollision(t *testing.T) {
	store := &dupOnce{Store: memory.New()}
	svc := credential.NewService(store, nil)

	iss, err := svc.Issue(ctx(), credential.Input{TenantID: "o", Name: "x", Scopes: []string{"*"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Authenticate(ctx(), iss.Key); err != nil {
		t.Fatalf("retried key should authenticate: %v", err)
	}
}

func TestRevokeAndDelete(t *testing.T) {
	svc, _, _, entries := newService(t)
	iss := issue(t, svc, credential.Input{TenantID: "o", Name: "x", Scopes: []string{"*"}})

	if err := svc.Revoke(ctx(), iss.ID, "u"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Revoke(ctx(), iss.ID, "u"); err != nil {
		t.Fatalf("second revoke should succeed: %v", err)
	}
	if err := svc.Delete(ctx(), iss.ID, "u"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx(), iss.ID); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Revoke(ctx(), id.NewCredentialID(), "u"); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	last := (*entries)[len(*entries)-1]
	if last.Action != audit.ActionKeyDeleted {
		t.Fatalf("expected api_key.deleted last, got %s", last.Action)
	}
}
