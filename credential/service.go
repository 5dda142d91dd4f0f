package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ipflow/relay/audit"
	"github.com/ipflow/relay/id"
	"github.com/ipflow/relay/internal/entity"
	"github.com/ipflow/relay/scope"
)

// DefaultRateLimit is the per-hour ceiling given to keys issued without one.
const DefaultRateLimit = 1000

const maxGenerateAttempts = 3

// Service issues, authenticates and revokes credentials.
type Service struct {
	store            Store
	audit            *audit.Recorder
	logger           *slog.Logger
	now              func() time.Time
	defaultRateLimit int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithAudit sets the audit recorder.
func WithAudit(r *audit.Recorder) ServiceOption {
	return func(s *Service) { s.audit = r }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultRateLimit sets the ceiling for keys issued without one.
func WithDefaultRateLimit(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.defaultRateLimit = n
		}
	}
}

// NewService creates a credential service.
func NewService(store Store, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{
		store:            store,
		logger:           logger,
		now:              time.Now,
		defaultRateLimit: DefaultRateLimit,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Issue validates in, stores a new credential, and returns it with the raw
// key. The raw key is not logged or persisted.
func (svc *Service) Issue(ctx context.Context, in Input) (*Issued, error) {
	now := svc.now().UTC()
	if err := svc.validate(in, now); err != nil {
		return nil, err
	}

	rateLimit := in.RateLimit
	if rateLimit <= 0 {
		rateLimit = svc.defaultRateLimit
	}

	for attempt := 1; ; attempt++ {
		gen, err := Generate()
		if err != nil {
			return nil, err
		}

		c := &Credential{
			Entity:    entity.At(now),
			ID:        id.NewCredentialID(),
			TenantID:  in.TenantID,
			Name:      strings.TrimSpace(in.Name),
			KeyHash:   gen.Hash,
			KeyPrefix: gen.Prefix,
			Scopes:    append([]string(nil), in.Scopes...),
			Active:    true,
			ExpiresAt: utcPtr(in.ExpiresAt),
			RateLimit: rateLimit,
		}

		err = svc.store.CreateCredential(ctx, c)
		if errors.Is(err, ErrDuplicateHash) && attempt < maxGenerateAttempts {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("credential: create: %w", err)
		}

		svc.logger.InfoContext(ctx, "credential issued",
			"credential_id", c.ID.String(),
			"tenant_id", c.TenantID,
			"key_prefix", c.KeyPrefix,
		)
		svc.audit.Record(ctx, c.TenantID, audit.ActionKeyCreated, in.ActorID, c.ID.String(), map[string]string{
			"name":   c.Name,
			"scopes": strings.Join(c.Scopes, ","),
		})

		return &Issued{Credential: c, Key: gen.Key}, nil
	}
}

func (svc *Service) validate(in Input, now time.Time) error {
	if in.TenantID == "" {
		return &ValidationError{Field: "tenant_id", Message: "required"}
	}
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Message: "required"}
	}
	if len(in.Scopes) == 0 {
		return &ValidationError{Field: "scopes", Message: "at least one scope required"}
	}
	if err := scope.Validate(in.Scopes); err != nil {
		return &ValidationError{Field: "scopes", Message: err.Error()}
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return &ValidationError{Field: "expires_at", Message: "must be in the future"}
	}
	return nil
}

// Authenticate resolves a raw key to a Principal. Unknown, malformed,
// revoked and expired keys all yield ErrInvalidCredential.
//
// A successful call records usage before returning, whether or not the
// caller goes on to authorize the request.
func (svc *Service) Authenticate(ctx context.Context, key string) (*Principal, error) {
	if !wellFormed(key) {
		return nil, ErrInvalidCredential
	}

	c, err := svc.store.GetCredentialByHash(ctx, Hash(key))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("credential: lookup: %w", err)
	}

	now := svc.now().UTC()
	if !c.Active {
		svc.logger.DebugContext(ctx, "credential rejected", "credential_id", c.ID.String(), "reason", "revoked")
		return nil, ErrInvalidCredential
	}
	if c.Expired(now) {
		svc.logger.DebugContext(ctx, "credential rejected", "credential_id", c.ID.String(), "reason", "expired")
		return nil, ErrInvalidCredential
	}

	if err := svc.store.TouchCredential(ctx, c.ID, now); err != nil {
		svc.logger.ErrorContext(ctx, "credential usage update failed",
			"credential_id", c.ID.String(),
			"error", err,
		)
	}

	return &Principal{
		CredentialID: c.ID,
		TenantID:     c.TenantID,
		Scopes:       append([]string(nil), c.Scopes...),
		RateLimit:    c.RateLimit,
	}, nil
}

// Get returns a credential by ID.
func (svc *Service) Get(ctx context.Context, credID id.ID) (*Credential, error) {
	return svc.store.GetCredential(ctx, credID)
}

// List returns a tenant's credentials.
func (svc *Service) List(ctx context.Context, tenantID string, opts ListOpts) ([]*Credential, error) {
	return svc.store.ListCredentials(ctx, tenantID, opts)
}

// Revoke deactivates a credential. Revoking twice is not an error.
func (svc *Service) Revoke(ctx context.Context, credID id.ID, actorID string) error {
	c, err := svc.store.GetCredential(ctx, credID)
	if err != nil {
		return err
	}
	if err := svc.store.RevokeCredential(ctx, credID); err != nil {
		return err
	}

	svc.logger.InfoContext(ctx, "credential revoked", "credential_id", credID.String(), "tenant_id", c.TenantID)
	svc.audit.Record(ctx, c.TenantID, audit.ActionKeyRevoked, actorID, credID.String(), nil)
	return nil
}

// Delete removes a credential permanently.
func (svc *Service) Delete(ctx context.Context, credID id.ID, actorID string) error {
	c, err := svc.store.GetCredential(ctx, credID)
	if err != nil {
		return err
	}
	if err := svc.store.DeleteCredential(ctx, credID); err != nil {
		return err
	}

	svc.logger.InfoContext(ctx, "credential deleted", "credential_id", credID.String(), "tenant_id", c.TenantID)
	svc.audit.Record(ctx, c.TenantID, audit.ActionKeyDeleted, actorID, credID.String(), map[string]string{
		"name": c.Name,
	})
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
