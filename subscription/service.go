package subscription

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/ipflow/relay/audit"
	"github.com/ipflow/relay/catalog"
	"github.com/ipflow/relay/id"
	"github.com/ipflow/relay/internal/entity"
	"github.com/ipflow/relay/signature"
)

// Service provides subscription management for tenants.
type Service struct {
	store   Store
	catalog *catalog.Registry
	audit   *audit.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCatalog makes the service expand event patterns against reg and
// reject unknown names. Without a catalog, Events must be concrete names.
func WithCatalog(reg *catalog.Registry) ServiceOption {
	return func(s *Service) { s.catalog = reg }
}

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

// NewService creates a subscription service.
func NewService(store Store, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create registers a webhook and generates its signing secret.
func (svc *Service) Create(ctx context.Context, in Input) (*Subscription, error) {
	if in.TenantID == "" {
		return nil, &ValidationError{Field: "tenant_id", Message: "required"}
	}
	if err := validateURL(in.URL); err != nil {
		return nil, err
	}
	events, err := svc.resolveEvents(in.Events)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		Entity:      entity.At(svc.now()),
		ID:          id.NewSubscriptionID(),
		TenantID:    in.TenantID,
		URL:         in.URL,
		Description: in.Description,
		Secret:      signature.GenerateSecret(),
		Events:      events,
		Active:      true,
	}

	if err := svc.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "subscription created",
		"subscription_id", sub.ID.String(),
		"tenant_id", sub.TenantID,
		"events", len(sub.Events),
	)
	svc.audit.Record(ctx, sub.TenantID, audit.ActionWebhookCreated, in.ActorID, sub.ID.String(), map[string]string{
		"url":    sub.URL,
		"events": strings.Join(sub.Events, ","),
	})
	return sub, nil
}

// Get returns a subscription by ID.
func (svc *Service) Get(ctx context.Context, subID id.ID) (*Subscription, error) {
	return svc.store.GetSubscription(ctx, subID)
}

// List returns a tenant's subscriptions.
func (svc *Service) List(ctx context.Context, tenantID string, opts ListOpts) ([]*Subscription, error) {
	return svc.store.ListSubscriptions(ctx, tenantID, opts)
}

// Update changes URL, description or events. The secret is immutable.
func (svc *Service) Update(ctx context.Context, subID id.ID, in UpdateInput) (*Subscription, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if in.URL != nil {
		if err := validateURL(*in.URL); err != nil {
			return nil, err
		}
		sub.URL = *in.URL
	}
	if in.Description != nil {
		sub.Description = *in.Description
	}
	if in.Events != nil {
		events, err := svc.resolveEvents(in.Events)
		if err != nil {
			return nil, err
		}
		sub.Events = events
	}
	sub.UpdatedAt = svc.now().UTC()

	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	svc.audit.Record(ctx, sub.TenantID, audit.ActionWebhookUpdated, in.ActorID, sub.ID.String(), nil)
	return sub, nil
}

// Delete removes a subscription. Its delivery records are kept.
func (svc *Service) Delete(ctx context.Context, subID id.ID, actorID string) error {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if err := svc.store.DeleteSubscription(ctx, subID); err != nil {
		return err
	}

	svc.logger.InfoContext(ctx, "subscription deleted", "subscription_id", subID.String(), "tenant_id", sub.TenantID)
	svc.audit.Record(ctx, sub.TenantID, audit.ActionWebhookDeleted, actorID, subID.String(), nil)
	return nil
}

// Reactivate returns a disabled subscription to service with a clean
// failure counter. This is the only way back to ACTIVE.
func (svc *Service) Reactivate(ctx context.Context, subID id.ID, actorID string) (*Subscription, error) {
	return svc.setActive(ctx, subID, true, audit.ActionWebhookReactivated, actorID)
}

// Deactivate pauses deliveries to a subscription.
func (svc *Service) Deactivate(ctx context.Context, subID id.ID, actorID string) (*Subscription, error) {
	return svc.setActive(ctx, subID, false, audit.ActionWebhookDeactivated, actorID)
}

func (svc *Service) setActive(ctx context.Context, subID id.ID, active bool, action audit.Action, actorID string) (*Subscription, error) {
	if err := svc.store.SetActive(ctx, subID, active); err != nil {
		return nil, err
	}
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "subscription state changed",
		"subscription_id", subID.String(),
		"tenant_id", sub.TenantID,
		"active", active,
	)
	svc.audit.Record(ctx, sub.TenantID, action, actorID, subID.String(), nil)
	return sub, nil
}

func (svc *Service) resolveEvents(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, &ValidationError{Field: "events", Message: "at least one event required"}
	}
	for _, p := range patterns {
		if p == catalog.TestEvent {
			return nil, &ValidationError{Field: "events", Message: catalog.TestEvent + " is reserved"}
		}
	}

	if svc.catalog != nil {
		events, err := svc.catalog.Expand(patterns)
		if errors.Is(err, catalog.ErrUnknownEvent) {
			return nil, &ValidationError{Field: "events", Message: err.Error()}
		}
		return events, err
	}

	events := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.Contains(p, "*") {
			return nil, &ValidationError{Field: "events", Message: "event names must be concrete: " + p}
		}
		events = append(events, p)
	}
	slices.Sort(events)
	return slices.Compact(events), nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &ValidationError{Field: "url", Message: "must be an absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "scheme must be http or https"}
	}
	return nil
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "subscription validation: " + e.Field + ": " + e.Message
}
