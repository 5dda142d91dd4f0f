package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/ipflow/relay"
	"github.com/ipflow/relay/api"
	"github.com/ipflow/relay/catalog"
	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/signature"
	"github.com/ipflow/relay/store/memory"
)

type env struct {
	srv   *httptest.Server
	relay *relay.Relay
	key   string
}

// testServer creates a Handler backed by a memory store and an
// all-powerful key for tenant-a.
func testServer(t *testing.T, opts ...relay.Option) *env {
	t.Helper()

	r, err := relay.New(append([]relay.Option{relay.WithStore(memory.New())}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	issued, err := r.IssueCredential(context.Background(), credential.Input{
		TenantID: "tenant-a",
		Name:     "root",
		Scopes:   []string{"*"},
	})
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(api.NewHandler(r, slog.Default()))
	t.Cleanup(srv.Close)
	return &env{srv: srv, relay: r, key: issued.Key}
}

func (e *env) issue(t *testing.T, tenant string, scopes ...string) string {
	t.Helper()
	issued, err := e.relay.IssueCredential(context.Background(), credential.Input{
		TenantID: tenant,
		Name:     "test",
		Scopes:   scopes,
	})
	if err != nil {
		t.Fatal(err)
	}
	return issued.Key
}

func doJSON(t *testing.T, method, url, key string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, b)
	}
}

// --- Gateway ---

func TestHealthz(t *testing.T) {
	e := testServer(t)
	resp := doJSON(t, "GET", e.srv.URL+"/healthz", "", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestAuth_MissingKey(t *testing.T) {
	e := testServer(t)
	resp := doJSON(t, "GET", e.srv.URL+"/v1/webhooks", "", nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
}

func TestAuth_InvalidKey(t *testing.T) {
	e := testServer(t)
	resp := doJSON(t, "GET", e.srv.URL+"/v1/webhooks", "ipk_live_nope", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestAuth_XAPIKeyHeader(t *testing.T) {
	e := testServer(t)
	req, _ := http.NewRequestWithContext(context.Background(), "GET", e.srv.URL+"/v1/webhooks", nil)
	req.Header.Set(api.HeaderAPIKey, e.key)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestAuth_MissingScope(t *testing.T) {
	e := testServer(t)
	key := e.issue(t, "tenant-a", "webhooks.read")

	resp := doJSON(t, "POST", e.srv.URL+"/v1/webhooks", key, map[string]any{
		"url":    "https://example.com/hook",
		"events": []string{"case.created"},
	})
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = doJSON(t, "GET", e.srv.URL+"/v1/webhooks", key, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestAuth_GroupWildcard(t *testing.T) {
	e := testServer(t)
	key := e.issue(t, "tenant-a", "webhooks.*")

	resp := doJSON(t, "POST", e.srv.URL+"/v1/webhooks", key, map[string]any{
		"url":    "https://example.com/hook",
		"events": []string{"case.created"},
	})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = doJSON(t, "GET", e.srv.URL+"/v1/audit", key, nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestAuth_RateLimitHeadersAndDenial(t *testing.T) {
	e := testServer(t)
	issued, err := e.relay.IssueCredential(context.Background(), credential.Input{
		TenantID:  "tenant-a",
		Name:      "tight",
		Scopes:    []string{"webhooks.read"},
		RateLimit: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := range 2 {
		resp := doJSON(t, "GET", e.srv.URL+"/v1/webhooks", issued.Key, nil)
		expectStatus(t, resp, http.StatusOK)
		if got := resp.Header.Get(api.HeaderRateLimit); got != "2" {
			t.Fatalf("limit header: got %q", got)
		}
		if got := resp.Header.Get(api.HeaderRateRemaining); got != strconv.Itoa(1-i) {
			t.Fatalf("request %d: remaining header %q", i, got)
		}
		resp.Body.Close()
	}

	resp := doJSON(t, "GET", e.srv.URL+"/v1/webhooks", issued.Key, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

// --- Keys ---

func TestKeys_CreateListRevoke(t *testing.T) {
	e := testServer(t)

	resp := doJSON(t, "POST", e.srv.URL+"/v1/keys", e.key, map[string]any{
		"name":   "ci",
		"scopes": []string{"events.write"},
	})
	expectStatus(t, resp, http.StatusCreated)
	var created struct {
		ID       string   `json:"id"`
		Key      string   `json:"key"`
		Prefix   string   `json:"key_prefix"`
		TenantID string   `json:"tenant_id"`
		Scopes   []string `json:"scopes"`
	}
	decodeBody(t, resp, &created)
	if created.Key == "" || created.TenantID != "tenant-a" {
		t.Fatalf("unexpected create response: %+v", created)
	}

	resp = doJSON(t, "GET", e.srv.URL+"/v1/keys", e.key, nil)
	expectStatus(t, resp, http.StatusOK)
	var keys []map[string]any
	decodeBody(t, resp, &keys)
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	for _, k := range keys {
		if _, ok := k["key_hash"]; ok {
			t.Fatal("key hash must not be exposed")
		}
	}

	resp = doJSON(t, "POST", e.srv.URL+"/v1/keys/"+created.ID+"/revoke", e.key, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doJSON(t, "POST", e.srv.URL+"/v1/events", created.Key, map[string]any{
		"event": "case.created",
		"data":  map[string]any{"caseId": "c1"},
	})
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestKeys_CannotEscalate(t *testing.T) {
	e := testServer(t)
	key := e.issue(t, "tenant-a", "keys.write", "keys.read")

	resp := doJSON(t, "POST", e.srv.URL+"/v1/keys", key, map[string]any{
		"name":   "sneaky",
		"scopes": []string{"*"},
	})
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestKeys_RateLimitCappedAtParent(t *testing.T) {
	e := testServer(t)
	parent, err := e.relay.IssueCredential(context.Background(), credential.Input{
		TenantID:  "tenant-a",
		Name:      "ci",
		Scopes:    []string{"keys.write"},
		RateLimit: 50,
	})
	if err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, "POST", e.srv.URL+"/v1/keys", parent.Key, map[string]any{
		"name":       "greedy",
		"scopes":     []string{"keys.write"},
		"rate_limit": 500,
	})
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	for _, tt := range []struct {
		requested int
		want      int
	}{
		{0, 50},
		{20, 20},
		{50, 50},
	} {
		body := map[string]any{"name": "child", "scopes": []string{"keys.write"}}
		if tt.requested > 0 {
			body["rate_limit"] = tt.requested
		}
		resp := doJSON(t, "POST", e.srv.URL+"/v1/keys", parent.Key, body)
		expectStatus(t, resp, http.StatusCreated)
		var created struct {
			RateLimit int `json:"rate_limit"`
		}
		decodeBody(t, resp, &created)
		if created.RateLimit != tt.want {
			t.Fatalf("requested %d: got rate_limit %d, want %d", tt.requested, created.RateLimit, tt.want)
		}
	}
}

func TestKeys_OtherTenantHidden(t *testing.T) {
	e := testServer(t)
	other, err := e.relay.IssueCredential(context.Background(), credential.Input{
		TenantID: "tenant-b",
		Name:     "b",
		Scopes:   []string{"*"},
	})
	if err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, "DELETE", e.srv.URL+"/v1/keys/"+other.ID.String(), e.key, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestKeys_InvalidID(t *testing.T) {
	e := testServer(t)
	resp := doJSON(t, "DELETE", e.srv.URL+"/v1/keys/not-an-id", e.key, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

// --- Webhooks ---

func TestWebhooks_CRUD(t *testing.T) {
	e := testServer(t, relay.WithCatalog(catalog.Default()))

	resp := doJSON(t, "POST", e.srv.URL+"/v1/webhooks", e.key, map[string]any{
		"url":         "https://example.com/hook",
		"description": "crm",
		"events":      []string{"case.*"},
	})
	expectStatus(t, resp, http.StatusCreated)
	var created struct {
		ID     string   `json:"id"`
		Secret string   `json:"secret"`
		Events []string `json:"events"`
		Active bool     `json:"active"`
	}
	decodeBody(t, resp, &created)
	if created.Secret == "" {
		t.Fatal("create must return the signing secret")
	}
	if len(created.Events) != 3 || !created.Active {
		t.Fatalf("unexpected webhook: %+v", created)
	}

	resp = doJSON(t, "GET", e.srv.URL+"/v1/webhooks/"+created.ID, e.key, nil)
	expectStatus(t, resp, http.StatusOK)
	var got map[string]any
	decodeBody(t, resp, &got)
	if _, ok := got["secret"]; ok {
		t.Fatal("get must not return the secret")
	}

	resp = doJSON(t, "PATCH", e.srv.URL+"/v1/webhooks/"+created.ID, e.key, map[string]any{
		"events": []string{"form.submitted"},
	})
	expectStatus(t, resp, http.StatusOK)
	var updated struct {
		Events []string `json:"events"`
	}
	decodeBody(t, resp, &updated)
	if len(updated.Events) != 1 || updated.Events[0] != "form.submitted" {
		t.Fatalf("unexpected events after update: %v", updated.Events)
	}

	resp = doJSON(t, "DELETE", e.srv.URL+"/v1/webhooks/"+created.ID, e.key, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doJSON(t, "GET", e.srv.URL+"/v1/webhooks/"+created.ID, e.key, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestWebhooks_CreateValidation(t *testing.T) {
	e := testServer(t, relay.WithCatalog(catalog.Default()))

	cases := []map[string]any{
		{"url": "not a url", "events": []string{"case.created"}},
		{"url": "ftp://example.com", "events": []string{"case.created"}},
		{"url": "https://example.com", "events": []string{}},
		{"url": "https://example.com", "events": []string{"nope.never"}},
	}
	for _, body := range cases {
		resp := doJSON(t, "POST", e.srv.URL+"/v1/webhooks", e.key, body)
		expectStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	}
}

func TestWebhooks_OtherTenantHidden(t *testing.T) {
	e := testServer(t)
	keyB := e.issue(t, "tenant-b", "*")

	resp := doJSON(t, "POST", e.srv.URL+"/v1/webhooks", e.key, map[string]any{
		"url":    "https://example.com/hook",
		"events": []string{"case.created"},
	})
	expectStatus(t, resp, http.StatusCreated)
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)

	resp = doJSON(t, "GET", e.srv.URL+"/v1/webhooks/"+created.ID, keyB, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = doJSON(t, "GET", e.srv.URL+"/v1/webhooks", keyB, nil)
	expectStatus(t, resp, http.StatusOK)
	var subs []map[string]any
	decodeBody(t, resp, &subs)
	if len(subs) != 0 {
		t.Fatalf("tenant-b should see no webhooks, got %d", len(subs))
	}
}

func TestWebhooks_TestDelivery(t *testing.T) {
	var hits atomic.Int32
	events := make(chan string, 4)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		events <- r.Header.Get(signature.HeaderEvent)
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	e := testServer(t)
	resp := doJSON(t, "POST", e.srv.URL+"/v1/webhooks", e.key, map[string]any{
		"url":    receiver.URL,
		"events": []string{"case.created"},
	})
	expectStatus(t, resp, http.StatusCreated)
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)

	resp = doJSON(t, "POST", e.srv.URL+"/v1/webhooks/"+created.ID+"/test", e.key, nil)
	expectStatus(t, resp, http.StatusOK)
	var out struct {
		Success    bool `json:"success"`
		StatusCode int  `json:"status_code"`
	}
	decodeBody(t, resp, &out)
	if !out.Success || out.StatusCode != http.StatusOK {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one hit, got %d", hits.Load())
	}
	if got := <-events; got != "webhook.test" {
		t.Fatalf("expected webhook.test, got %q", got)
	}

	resp = doJSON(t, "GET", e.srv.URL+"/v1/webhooks/"+created.ID+"/deliveries", e.key, nil)
	expectStatus(t, resp, http.StatusOK)
	var recs []map[string]any
	decodeBody(t, resp, &recs)
	if len(recs) != 0 {
		t.Fatalf("test deliveries must not be recorded, got %d", len(recs))
	}
}

// --- Events ---

func TestEvents_DispatchAndDeliveries(t *testing.T) {
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer receiver.Close()

	e := testServer(t)
	resp := doJSON(t, "POST", e.srv.URL+"/v1/webhooks", e.key, map[string]any{
		"url":    receiver.URL,
		"events": []string{"case.created"},
	})
	expectStatus(t, resp, http.StatusCreated)
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)

	resp = doJSON(t, "POST", e.srv.URL+"/v1/events", e.key, map[string]any{
		"event": "case.created",
		"data":  map[string]any{"caseId": "case_1"},
	})
	expectStatus(t, resp, http.StatusOK)
	var dispatched struct {
		Event    string `json:"event"`
		Outcomes []struct {
			SubscriptionID string `json:"subscription_id"`
			Success        bool   `json:"success"`
			StatusCode     int    `json:"status_code"`
		} `json:"outcomes"`
	}
	decodeBody(t, resp, &dispatched)
	if len(dispatched.Outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(dispatched.Outcomes))
	}
	if o := dispatched.Outcomes[0]; o.Success || o.StatusCode != 500 || o.SubscriptionID != created.ID {
		t.Fatalf("unexpected outcome: %+v", o)
	}

	resp = doJSON(t, "GET", e.srv.URL+"/v1/webhooks/"+created.ID+"/deliveries?success=false", e.key, nil)
	expectStatus(t, resp, http.StatusOK)
	var recs []struct {
		Event   string `json:"event"`
		Success bool   `json:"success"`
	}
	decodeBody(t, resp, &recs)
	if len(recs) != 1 || recs[0].Event != "case.created" || recs[0].Success {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestEvents_DispatchRejectsBadPayload(t *testing.T) {
	e := testServer(t, relay.WithCatalog(catalog.Default()))

	resp := doJSON(t, "POST", e.srv.URL+"/v1/webhooks", e.key, map[string]any{
		"url":    "https://example.com/hook",
		"events": []string{"case.created"},
	})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = doJSON(t, "POST", e.srv.URL+"/v1/events", e.key, map[string]any{
		"event": "case.created",
		"data":  map[string]any{"caseId": 7},
	})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = doJSON(t, "POST", e.srv.URL+"/v1/events", e.key, map[string]any{
		"event": "nope.never",
		"data":  map[string]any{},
	})
	expectStatus(t, resp, http.StatusOK)
	var dispatched struct {
		Outcomes []json.RawMessage `json:"outcomes"`
	}
	decodeBody(t, resp, &dispatched)
	if dispatched.Outcomes == nil || len(dispatched.Outcomes) != 0 {
		t.Fatalf("expected empty outcomes, got %v", dispatched.Outcomes)
	}

	resp = doJSON(t, "POST", e.srv.URL+"/v1/events", e.key, map[string]any{})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestEvents_ListTypes(t *testing.T) {
	e := testServer(t, relay.WithCatalog(catalog.Default()))
	resp := doJSON(t, "GET", e.srv.URL+"/v1/events/types", e.key, nil)
	expectStatus(t, resp, http.StatusOK)
	var defs []struct {
		Name string `json:"name"`
	}
	decodeBody(t, resp, &defs)
	if len(defs) == 0 {
		t.Fatal("expected registered event types")
	}
}

// --- Audit ---

func TestAudit_ListFiltersByAction(t *testing.T) {
	e := testServer(t)

	resp := doJSON(t, "POST", e.srv.URL+"/v1/webhooks", e.key, map[string]any{
		"url":    "https://example.com/hook",
		"events": []string{"case.created"},
	})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = doJSON(t, "GET", e.srv.URL+"/v1/audit?action=webhook.created", e.key, nil)
	expectStatus(t, resp, http.StatusOK)
	var entries []struct {
		Action   string `json:"action"`
		TenantID string `json:"tenant_id"`
	}
	decodeBody(t, resp, &entries)
	if len(entries) != 1 || entries[0].Action != "webhook.created" || entries[0].TenantID != "tenant-a" {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}
}
