package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("RELAY_STORE", "memory")
	t.Setenv("RELAY_LOG_LEVEL", "error")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeysIssue_PrintsKeyOnce(t *testing.T) {
	out, err := run(t, "keys", "issue", "--tenant", "acme", "--name", "ci", "--scope", "webhooks.*")
	if err != nil {
		t.Fatalf("keys issue: %v", err)
	}
	if !strings.Contains(out, "key:    ip_") {
		t.Fatalf("expected raw key in output, got %q", out)
	}
	if !strings.Contains(out, "id:     apikey_") {
		t.Fatalf("expected credential ID in output, got %q", out)
	}
}

func TestKeysIssue_RequiresTenant(t *testing.T) {
	if _, err := run(t, "keys", "issue", "--scope", "*"); err == nil {
		t.Fatal("expected error without --tenant")
	}
}

func TestKeysIssue_RejectsBadScope(t *testing.T) {
	if _, err := run(t, "keys", "issue", "--tenant", "acme", "--name", "bad", "--scope", "webhooks.*.read"); err == nil {
		t.Fatal("expected error for malformed scope")
	}
}

func TestKeysRevoke_InvalidID(t *testing.T) {
	if _, err := run(t, "keys", "revoke", "not-an-id"); err == nil {
		t.Fatal("expected error for invalid ID")
	}
}

func TestMigrate_Memory(t *testing.T) {
	if _, err := run(t, "migrate"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestUnknownStore(t *testing.T) {
	t.Setenv("RELAY_STORE", "cassandra")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"migrate"})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected error for unknown store")
	}
}
