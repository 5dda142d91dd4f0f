package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ipflow/relay/id"
)

func TestNew_Prefixes(t *testing.T) {
	tests := []struct {
		gen    func() id.ID
		prefix id.Prefix
	}{
		{id.NewCredentialID, id.PrefixCredential},
		{id.NewSubscriptionID, id.PrefixSubscription},
		{id.NewRecordID, id.PrefixRecord},
		{id.NewAuditID, id.PrefixAudit},
	}
	for _, tt := range tests {
		got := tt.gen()
		if got.Prefix() != tt.prefix {
			t.Fatalf("expected prefix %q, got %q", tt.prefix, got.Prefix())
		}
		if !strings.HasPrefix(got.String(), string(tt.prefix)+"_") {
			t.Fatalf("unexpected string form %q", got.String())
		}
	}
}

func TestParseWithPrefix_RejectsOtherEntity(t *testing.T) {
	sub := id.NewSubscriptionID()
	if _, err := id.ParseCredentialID(sub.String()); err == nil {
		t.Fatal("expected error parsing a subscription ID as a credential ID")
	}
	parsed, err := id.ParseSubscriptionID(sub.String())
	if err != nil {
		t.Fatalf("ParseSubscriptionID: %v", err)
	}
	if parsed.String() != sub.String() {
		t.Fatalf("round trip mismatch: %s vs %s", parsed, sub)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "nope", "apikey_!!"} {
		if _, err := id.Parse(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestJSON_NilIsEmptyString(t *testing.T) {
	raw, err := json.Marshal(struct {
		ID id.ID `json:"id"`
	}{})
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"id":""}` {
		t.Fatalf("unexpected JSON %s", raw)
	}

	var back struct {
		ID id.ID `json:"id"`
	}
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if !back.ID.IsNil() {
		t.Fatal("expected Nil after round trip")
	}
}

func TestScanAndValue(t *testing.T) {
	orig := id.NewAuditID()
	v, err := orig.Value()
	if err != nil {
		t.Fatal(err)
	}
	var scanned id.ID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if scanned.String() != orig.String() {
		t.Fatalf("scan mismatch: %s vs %s", scanned, orig)
	}

	if v, _ := id.Nil.Value(); v != nil {
		t.Fatalf("expected NULL for Nil, got %v", v)
	}
}
