package subscription_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ipflow/relay/audit"
	"github.com/ipflow/relay/catalog"
	"github.com/ipflow/relay/signature"
	"github.com/ipflow/relay/store/memory"
	"github.com/ipflow/relay/subscription"
)

func ctx() context.Context { return context.Background() }

func newService(opts ...subscription.ServiceOption) (*subscription.Service, *memory.Store) {
	s := memory.New()
	return subscription.NewService(s, nil, opts...), s
}

func TestCreate(t *testing.T) {
	svc, s := newService()

	sub, err := svc.Create(ctx(), subscription.Input{
		TenantID: "org-1",
		URL:      "https://hooks.example.com/ipflow",
		Events:   []string{"case.updated", "case.created", "case.created"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(sub.Secret, signature.SecretPrefix) {
		t.Fatalf("secret %q lacks prefix", sub.Secret)
	}
	if !sub.Active || sub.FailureCount != 0 {
		t.Fatalf("new subscription should be active and healthy: %+v", sub)
	}
	if !slices.Equal(sub.Events, []string{"case.created", "case.updated"}) {
		t.Fatalf("events: %v", sub.Events)
	}

	got, err := s.GetSubscription(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Secret != sub.Secret {
		t.Fatal("secret not persisted")
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService()

	tests := []struct {
		name  string
		in    subscription.Input
		field string
	}{
		{"no tenant", subscription.Input{URL: "https://x.test", Events: []string{"a.b"}}, "tenant_id"},
		{"relative url", subscription.Input{TenantID: "o", URL: "/hook", Events: []string{"a.b"}}, "url"},
		{"ftp url", subscription.Input{TenantID: "o", URL: "ftp://x.test/hook", Events: []string{"a.b"}}, "url"},
		{"no events", subscription.Input{TenantID: "o", URL: "https://x.test"}, "events"},
		{"pattern without catalog", subscription.Input{TenantID: "o", URL: "https://x.test", Events: []string{"case.*"}}, "events"},
		{"reserved event", subscription.Input{TenantID: "o", URL: "https://x.test", Events: []string{catalog.TestEvent}}, "events"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx(), tt.in)
			var ve *subscription.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("field: got %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestCreateExpandsCatalogPatterns(t *testing.T) {
	svc, _ := newService(subscription.WithCatalog(catalog.Default()))

	sub, err := svc.Create(ctx(), subscription.Input{
		TenantID: "o",
		URL:      "https://x.test",
		Events:   []string{"case.*"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"case.closed", "case.created", "case.updated"}
	if !slices.Equal(sub.Events, want) {
		t.Fatalf("events: got %v, want %v", sub.Events, want)
	}

	_, err = svc.Create(ctx(), subscription.Input{TenantID: "o", URL: "https://x.test", Events: []string{"case.exploded"}})
	var ve *subscription.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("unknown event should be a validation error, got %v", err)
	}
}

func TestUpdateKeepsSecret(t *testing.T) {
	svc, _ := newService()
	sub, _ := svc.Create(ctx(), subscription.Input{TenantID: "o", URL: "https://x.test", Events: []string{"a.b"}})

	newURL := "https://y.test/hook"
	updated, err := svc.Update(ctx(), sub.ID, subscription.UpdateInput{URL: &newURL, Events: []string{"c.d"}})
	if err != nil {
		t.Fatal(err)
	}
	if updated.URL != newURL || updated.Events[0] != "c.d" {
		t.Fatalf("not updated: %+v", updated)
	}

	got, _ := svc.Get(ctx(), sub.ID)
	if got.Secret != sub.Secret {
		t.Fatal("secret changed on update")
	}

	bad := "nope"
	if _, err := svc.Update(ctx(), sub.ID, subscription.UpdateInput{URL: &bad}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestReactivate(t *testing.T) {
	var actions []audit.Action
	rec := audit.NewRecorder(audit.SinkFunc(func(_ context.Context, e *audit.Entry) error {
		actions = append(actions, e.Action)
		return nil
	}), nil)
	svc, s := newService(subscription.WithAudit(rec))

	sub, _ := svc.Create(ctx(), subscription.Input{TenantID: "o", URL: "https://x.test", Events: []string{"a.b"}})
	for range subscription.DefaultFailureThreshold {
		_, _ = s.RecordFailure(ctx(), sub.ID, time.Now(), subscription.DefaultFailureThreshold)
	}

	got, _ := svc.Get(ctx(), sub.ID)
	if got.Active {
		t.Fatal("expected disabled subscription")
	}

	got, err := svc.Reactivate(ctx(), sub.ID, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Active || got.FailureCount != 0 || got.DisabledAt != nil {
		t.Fatalf("expected clean active subscription, got %+v", got)
	}

	want := []audit.Action{audit.ActionWebhookCreated, audit.ActionWebhookReactivated}
	if !slices.Equal(actions, want) {
		t.Fatalf("audit: got %v, want %v", actions, want)
	}
}

func TestDeleteNotFound(t *testing.T) {
	svc, _ := newService()
	sub, _ := svc.Create(ctx(), subscription.Input{TenantID: "o", URL: "https://x.test", Events: []string{"a.b"}})

	if err := svc.Delete(ctx(), sub.ID, "u"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx(), sub.ID, "u"); !errors.Is(err, subscription.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
