package relay

import (
	"context"
	"errors"

	"github.com/ipflow/relay/audit"
	"github.com/ipflow/relay/catalog"
	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/delivery"
	"github.com/ipflow/relay/id"
	"github.com/ipflow/relay/observability"
	"github.com/ipflow/relay/ratelimit"
	"github.com/ipflow/relay/scope"
	"github.com/ipflow/relay/store"
	"github.com/ipflow/relay/subscription"
)

// wireServices initializes the internal services after options have been applied.
func (r *Relay) wireServices() {
	if r.auditSink == nil {
		r.auditSink = audit.NewStoreSink(r.store)
	}
	r.audit = audit.NewRecorder(r.auditSink, r.logger).WithClock(r.now)

	if r.window == nil {
		if w, ok := r.store.(ratelimit.Store); ok {
			r.window = w
		} else {
			r.window = ratelimit.NewMemoryStore()
		}
	}
	r.limiter = ratelimit.New(r.window,
		ratelimit.WithWindow(r.config.RateLimitWindow),
		ratelimit.WithClock(r.now),
	)

	r.credentials = credential.NewService(r.store, r.logger,
		credential.WithAudit(r.audit),
		credential.WithClock(r.now),
		credential.WithDefaultRateLimit(r.config.DefaultRateLimit),
	)

	r.subscriptions = subscription.NewService(r.store, r.logger,
		subscription.WithCatalog(r.catalog),
		subscription.WithAudit(r.audit),
		subscription.WithClock(r.now),
	)

	r.dispatcher = delivery.NewDispatcher(r.store, r.store, r.logger,
		delivery.WithHTTPClient(r.httpClient),
		delivery.WithMaxResponseBody(r.config.MaxResponseBody),
		delivery.WithCatalog(r.catalog),
		delivery.WithAudit(r.audit),
		delivery.WithMetrics(r.metrics),
		delivery.WithTracer(r.tracer),
		delivery.WithClock(r.now),
		delivery.WithFailureThreshold(r.config.FailureThreshold),
		delivery.WithRequestTimeout(r.config.RequestTimeout),
		delivery.WithTestTimeout(r.config.TestTimeout),
		delivery.WithConcurrency(r.config.DispatchConcurrency),
	)
}

// ──────────────────────────────────────────────────
// Credential gateway
// ──────────────────────────────────────────────────

// IssueCredential creates an API key. The raw key is only in the result.
func (r *Relay) IssueCredential(ctx context.Context, in credential.Input) (*credential.Issued, error) {
	return r.credentials.Issue(ctx, in)
}

// RevokeCredential deactivates an API key.
func (r *Relay) RevokeCredential(ctx context.Context, credID id.ID, actorID string) error {
	return r.credentials.Revoke(ctx, credID, actorID)
}

// Authenticate resolves a raw API key to a principal and records its use.
func (r *Relay) Authenticate(ctx context.Context, raw string) (*credential.Principal, error) {
	ctx, span := r.tracer.StartAuthenticateSpan(ctx)
	defer span.End()

	p, err := r.credentials.Authenticate(ctx, raw)
	switch {
	case err == nil:
		r.metrics.RecordAuth(observability.AuthOK)
	case errors.Is(err, credential.ErrInvalidCredential):
		r.metrics.RecordAuth(observability.AuthInvalid)
	}
	return p, err
}

// Authorize reports whether scopes grant required.
func (r *Relay) Authorize(scopes []string, required string) bool {
	return scope.Authorize(scopes, required)
}

// Require is Authorize for a principal, returning ErrForbidden on a miss.
func (r *Relay) Require(p *credential.Principal, required string) error {
	if p == nil || !scope.Authorize(p.Scopes, required) {
		r.metrics.RecordAuth(observability.AuthForbidden)
		return ErrForbidden
	}
	return nil
}

// CheckRateLimit counts a request against a credential's sliding window.
// Denied requests are not counted.
func (r *Relay) CheckRateLimit(ctx context.Context, credentialID string, limit int) (ratelimit.Result, error) {
	res, err := r.limiter.Take(ctx, rateLimitKey(credentialID), limit)
	if err != nil {
		return res, err
	}
	if !res.Allowed {
		r.metrics.RecordRateLimited()
		r.metrics.RecordAuth(observability.AuthLimited)
	}
	return res, nil
}

func rateLimitKey(credentialID string) string {
	return "credential:" + credentialID
}

// ──────────────────────────────────────────────────
// Event dispatcher
// ──────────────────────────────────────────────────

// CreateSubscription registers a webhook.
func (r *Relay) CreateSubscription(ctx context.Context, in subscription.Input) (*subscription.Subscription, error) {
	return r.subscriptions.Create(ctx, in)
}

// Dispatch delivers an event to the tenant's matching subscriptions.
func (r *Relay) Dispatch(ctx context.Context, tenantID, eventName string, payload any) ([]delivery.Outcome, error) {
	return r.dispatcher.Dispatch(ctx, tenantID, eventName, payload)
}

// TestDelivery sends a webhook.test event to one subscription.
func (r *Relay) TestDelivery(ctx context.Context, subID id.ID) (*delivery.Outcome, error) {
	return r.dispatcher.TestDelivery(ctx, subID)
}

// Deliveries lists a subscription's delivery records, newest first.
func (r *Relay) Deliveries(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Record, error) {
	return r.store.ListRecords(ctx, subID, opts)
}

// AuditLog lists a tenant's audit entries, newest first.
func (r *Relay) AuditLog(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Entry, error) {
	return r.store.ListAuditEntries(ctx, tenantID, opts)
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Credentials returns the credential service.
func (r *Relay) Credentials() *credential.Service { return r.credentials }

// Subscriptions returns the subscription service.
func (r *Relay) Subscriptions() *subscription.Service { return r.subscriptions }

// Dispatcher returns the event dispatcher.
func (r *Relay) Dispatcher() *delivery.Dispatcher { return r.dispatcher }

// Limiter returns the credential rate limiter.
func (r *Relay) Limiter() *ratelimit.Limiter { return r.limiter }

// Catalog returns the event catalog, which may be nil.
func (r *Relay) Catalog() *catalog.Registry { return r.catalog }

// Store returns the underlying store.
func (r *Relay) Store() store.Store { return r.store }

// Config returns the effective configuration.
func (r *Relay) Config() Config { return r.config }
