// Package memory provides an in-memory Store implementation for tests and
// single-node deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ipflow/relay/audit"
	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/delivery"
	"github.com/ipflow/relay/id"
	"github.com/ipflow/relay/ratelimit"
	relaystore "github.com/ipflow/relay/store"
	"github.com/ipflow/relay/subscription"
)

// compile-time interface checks.
var (
	_ relaystore.Store = (*Store)(nil)
	_ ratelimit.Store  = (*Store)(nil)
)

// Store is an in-memory implementation of store.Store. It also serves as a
// rate-limit window store through the embedded ratelimit.MemoryStore.
//
// Values are copied on the way in and out, so callers never share state
// with the store.
type Store struct {
	*ratelimit.MemoryStore

	mu sync.RWMutex

	credentials   map[string]*credential.Credential     // keyed by ID string
	credsByHash   map[string]string                     // key hash -> ID string
	subscriptions map[string]*subscription.Subscription // keyed by ID string
	records       map[string]*delivery.Record           // keyed by ID string
	auditEntries  []*audit.Entry

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		MemoryStore:   ratelimit.NewMemoryStore(),
		credentials:   make(map[string]*credential.Credential),
		credsByHash:   make(map[string]string),
		subscriptions: make(map[string]*subscription.Subscription),
		records:       make(map[string]*delivery.Record),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrClosed after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return relaystore.ErrClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// credential.Store
// ──────────────────────────────────────────────────

// CreateCredential persists a credential. Returns ErrDuplicateHash when the
// key hash is taken.
func (s *Store) CreateCredential(_ context.Context, c *credential.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.credsByHash[c.KeyHash]; ok {
		return credential.ErrDuplicateHash
	}
	s.credentials[c.ID.String()] = copyCredential(c)
	s.credsByHash[c.KeyHash] = c.ID.String()
	return nil
}

// GetCredential returns a credential by ID.
func (s *Store) GetCredential(_ context.Context, credID id.ID) (*credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[credID.String()]
	if !ok {
		return nil, credential.ErrNotFound
	}
	return copyCredential(c), nil
}

// GetCredentialByHash returns the credential whose key hashes to hash.
func (s *Store) GetCredentialByHash(_ context.Context, hash string) (*credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.credsByHash[hash]
	if !ok {
		return nil, credential.ErrNotFound
	}
	return copyCredential(s.credentials[key]), nil
}

// ListCredentials returns a tenant's credentials, oldest first.
func (s *Store) ListCredentials(_ context.Context, tenantID string, opts credential.ListOpts) ([]*credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*credential.Credential, 0)
	for _, c := range s.credentials {
		if c.TenantID != tenantID {
			continue
		}
		if opts.Active != nil && c.Active != *opts.Active {
			continue
		}
		result = append(result, copyCredential(c))
	}

	sort.Slice(result, func(i, j int) bool {
		return oldestFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// RevokeCredential sets active=false.
func (s *Store) RevokeCredential(_ context.Context, credID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[credID.String()]
	if !ok {
		return credential.ErrNotFound
	}
	c.Active = false
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteCredential removes a credential.
func (s *Store) DeleteCredential(_ context.Context, credID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[credID.String()]
	if !ok {
		return credential.ErrNotFound
	}
	delete(s.credsByHash, c.KeyHash)
	delete(s.credentials, credID.String())
	return nil
}

// TouchCredential increments usage and sets last-used.
func (s *Store) TouchCredential(_ context.Context, credID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[credID.String()]
	if !ok {
		return credential.ErrNotFound
	}
	at = at.UTC()
	c.UsageCount++
	c.LastUsedAt = &at
	return nil
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID.String()] = copySubscription(sub)
	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	return copySubscription(sub), nil
}

// UpdateSubscription writes the configurable fields only.
func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subscriptions[sub.ID.String()]
	if !ok {
		return subscription.ErrNotFound
	}
	existing.URL = sub.URL
	existing.Description = sub.Description
	existing.Events = append([]string(nil), sub.Events...)
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[subID.String()]; !ok {
		return subscription.ErrNotFound
	}
	delete(s.subscriptions, subID.String())
	return nil
}

// ListSubscriptions returns a tenant's subscriptions, oldest first.
func (s *Store) ListSubscriptions(_ context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.TenantID != tenantID {
			continue
		}
		if opts.Active != nil && sub.Active != *opts.Active {
			continue
		}
		result = append(result, copySubscription(sub))
	}

	sortSubscriptions(result)
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// Resolve returns the tenant's active subscriptions listing eventName,
// oldest first.
func (s *Store) Resolve(_ context.Context, tenantID, eventName string) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.TenantID != tenantID || !sub.Active {
			continue
		}
		if sub.Subscribes(eventName) {
			result = append(result, copySubscription(sub))
		}
	}
	sortSubscriptions(result)
	return result, nil
}

// SetActive flips the active flag. Activation clears the failure state.
func (s *Store) SetActive(_ context.Context, subID id.ID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return subscription.ErrNotFound
	}
	sub.Active = active
	if active {
		sub.FailureCount = 0
		sub.DisabledAt = nil
	}
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordSuccess zeroes the failure counter.
func (s *Store) RecordSuccess(_ context.Context, subID id.ID, at time.Time) (subscription.Health, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return subscription.Health{}, subscription.ErrNotFound
	}
	at = at.UTC()
	sub.FailureCount = 0
	sub.LastDeliveryAt = &at
	return subscription.Health{FailureCount: 0, Active: sub.Active}, nil
}

// RecordFailure increments the failure counter and deactivates the
// subscription once it reaches threshold.
func (s *Store) RecordFailure(_ context.Context, subID id.ID, at time.Time, threshold int) (subscription.Health, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return subscription.Health{}, subscription.ErrNotFound
	}
	at = at.UTC()
	sub.FailureCount++
	sub.LastDeliveryAt = &at
	disabled := sub.Active && sub.FailureCount >= threshold
	if disabled {
		sub.Active = false
		sub.DisabledAt = &at
	}
	return subscription.Health{FailureCount: sub.FailureCount, Active: sub.Active, Disabled: disabled}, nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// CreateRecord appends a delivery record.
func (s *Store) CreateRecord(_ context.Context, rec *delivery.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.records[rec.ID.String()] = &cp
	return nil
}

// GetRecord returns a record by ID.
func (s *Store) GetRecord(_ context.Context, recID id.ID) (*delivery.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recID.String()]
	if !ok {
		return nil, delivery.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListRecords returns a subscription's records, newest first.
func (s *Store) ListRecords(_ context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Record, 0)
	for _, rec := range s.records {
		if rec.SubscriptionID.String() != subID.String() {
			continue
		}
		if opts.Success != nil && rec.Success != *opts.Success {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return !oldestFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// audit.Store
// ──────────────────────────────────────────────────

// CreateAuditEntry appends an audit entry.
func (s *Store) CreateAuditEntry(_ context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.auditEntries = append(s.auditEntries, &cp)
	return nil
}

// ListAuditEntries returns a tenant's entries, newest first.
func (s *Store) ListAuditEntries(_ context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*audit.Entry, 0)
	for i := len(s.auditEntries) - 1; i >= 0; i-- {
		e := s.auditEntries[i]
		if e.TenantID != tenantID {
			continue
		}
		if opts.Action != "" && e.Action != opts.Action {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// helpers
// ──────────────────────────────────────────────────

func copyCredential(c *credential.Credential) *credential.Credential {
	cp := *c
	cp.Scopes = append([]string(nil), c.Scopes...)
	return &cp
}

func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	cp := *sub
	cp.Events = append([]string(nil), sub.Events...)
	return &cp
}

func sortSubscriptions(subs []*subscription.Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		return oldestFirst(subs[i].CreatedAt, subs[j].CreatedAt, subs[i].ID, subs[j].ID)
	})
}

// oldestFirst orders by time, breaking ties on the ID's string form.
func oldestFirst(a, b time.Time, aID, bID id.ID) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return aID.String() < bID.String()
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset > 0 {
		return []*T{}
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
