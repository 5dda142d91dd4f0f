package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/ipflow/relay/audit"
	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/delivery"
	"github.com/ipflow/relay/id"
	"github.com/ipflow/relay/internal/entity"
	"github.com/ipflow/relay/subscription"
)

// --- Credential models ---

type credentialModel struct {
	grove.BaseModel `grove:"table:relay_credentials"`

	ID         string     `grove:"id,pk"`
	TenantID   string     `grove:"tenant_id"`
	Name       string     `grove:"name"`
	KeyHash    string     `grove:"key_hash,unique"`
	KeyPrefix  string     `grove:"key_prefix"`
	Scopes     []string   `grove:"scopes,array"`
	Active     bool       `grove:"active"`
	ExpiresAt  *time.Time `grove:"expires_at"`
	LastUsedAt *time.Time `grove:"last_used_at"`
	UsageCount int64      `grove:"usage_count"`
	RateLimit  int        `grove:"rate_limit"`
	CreatedAt  time.Time  `grove:"created_at"`
	UpdatedAt  time.Time  `grove:"updated_at"`
}

func toCredentialModel(c *credential.Credential) *credentialModel {
	return &credentialModel{
		ID:         c.ID.String(),
		TenantID:   c.TenantID,
		Name:       c.Name,
		KeyHash:    c.KeyHash,
		KeyPrefix:  c.KeyPrefix,
		Scopes:     nonNil(c.Scopes),
		Active:     c.Active,
		ExpiresAt:  c.ExpiresAt,
		LastUsedAt: c.LastUsedAt,
		UsageCount: c.UsageCount,
		RateLimit:  c.RateLimit,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func fromCredentialModel(m *credentialModel) (*credential.Credential, error) {
	credID, err := id.ParseCredentialID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse credential ID %q: %w", m.ID, err)
	}
	return &credential.Credential{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         credID,
		TenantID:   m.TenantID,
		Name:       m.Name,
		KeyHash:    m.KeyHash,
		KeyPrefix:  m.KeyPrefix,
		Scopes:     m.Scopes,
		Active:     m.Active,
		ExpiresAt:  m.ExpiresAt,
		LastUsedAt: m.LastUsedAt,
		UsageCount: m.UsageCount,
		RateLimit:  m.RateLimit,
	}, nil
}

// --- Subscription models ---

type subscriptionModel struct {
	grove.BaseModel `grove:"table:relay_subscriptions"`

	ID             string     `grove:"id,pk"`
	TenantID       string     `grove:"tenant_id"`
	URL            string     `grove:"url"`
	Description    string     `grove:"description"`
	Secret         string     `grove:"secret"`
	Events         []string   `grove:"events,array"`
	Active         bool       `grove:"active"`
	FailureCount   int        `grove:"failure_count"`
	LastDeliveryAt *time.Time `grove:"last_delivery_at"`
	DisabledAt     *time.Time `grove:"disabled_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:             sub.ID.String(),
		TenantID:       sub.TenantID,
		URL:            sub.URL,
		Description:    sub.Description,
		Secret:         sub.Secret,
		Events:         nonNil(sub.Events),
		Active:         sub.Active,
		FailureCount:   sub.FailureCount,
		LastDeliveryAt: sub.LastDeliveryAt,
		DisabledAt:     sub.DisabledAt,
		CreatedAt:      sub.CreatedAt,
		UpdatedAt:      sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             subID,
		TenantID:       m.TenantID,
		URL:            m.URL,
		Description:    m.Description,
		Secret:         m.Secret,
		Events:         m.Events,
		Active:         m.Active,
		FailureCount:   m.FailureCount,
		LastDeliveryAt: m.LastDeliveryAt,
		DisabledAt:     m.DisabledAt,
	}, nil
}

// --- Delivery record models ---

// Payload is TEXT rather than JSONB so the stored body stays byte-identical
// to what was signed.
type recordModel struct {
	grove.BaseModel `grove:"table:relay_delivery_records"`

	ID             string    `grove:"id,pk"`
	SubscriptionID string    `grove:"subscription_id"`
	TenantID       string    `grove:"tenant_id"`
	Event          string    `grove:"event"`
	Payload        string    `grove:"payload"`
	StatusCode     *int      `grove:"status_code"`
	ResponseBody   string    `grove:"response_body"`
	DurationMs     int64     `grove:"duration_ms"`
	Success        bool      `grove:"success"`
	Error          string    `grove:"error"`
	CreatedAt      time.Time `grove:"created_at"`
}

func toRecordModel(rec *delivery.Record) *recordModel {
	return &recordModel{
		ID:             rec.ID.String(),
		SubscriptionID: rec.SubscriptionID.String(),
		TenantID:       rec.TenantID,
		Event:          rec.Event,
		Payload:        string(rec.Payload),
		StatusCode:     rec.StatusCode,
		ResponseBody:   rec.ResponseBody,
		DurationMs:     rec.DurationMs,
		Success:        rec.Success,
		Error:          rec.Error,
		CreatedAt:      rec.CreatedAt,
	}
}

func fromRecordModel(m *recordModel) (*delivery.Record, error) {
	recID, err := id.ParseRecordID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse record ID %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	return &delivery.Record{
		ID:             recID,
		SubscriptionID: subID,
		TenantID:       m.TenantID,
		Event:          m.Event,
		Payload:        json.RawMessage(m.Payload),
		StatusCode:     m.StatusCode,
		ResponseBody:   m.ResponseBody,
		DurationMs:     m.DurationMs,
		Success:        m.Success,
		Error:          m.Error,
		CreatedAt:      m.CreatedAt,
	}, nil
}

// --- Audit models ---

type auditModel struct {
	grove.BaseModel `grove:"table:relay_audit_log"`

	ID         string            `grove:"id,pk"`
	TenantID   string            `grove:"tenant_id"`
	Action     string            `grove:"action"`
	ActorID    string            `grove:"actor_id"`
	ResourceID string            `grove:"resource_id"`
	Metadata   map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt  time.Time         `grove:"created_at"`
}

func toAuditModel(e *audit.Entry) *auditModel {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return &auditModel{
		ID:         e.ID.String(),
		TenantID:   e.TenantID,
		Action:     string(e.Action),
		ActorID:    e.ActorID,
		ResourceID: e.ResourceID,
		Metadata:   meta,
		CreatedAt:  e.CreatedAt,
	}
}

func fromAuditModel(m *auditModel) (*audit.Entry, error) {
	entryID, err := id.ParseAuditID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse audit ID %q: %w", m.ID, err)
	}
	meta := m.Metadata
	if len(meta) == 0 {
		meta = nil
	}
	return &audit.Entry{
		ID:         entryID,
		TenantID:   m.TenantID,
		Action:     audit.Action(m.Action),
		ActorID:    m.ActorID,
		ResourceID: m.ResourceID,
		Metadata:   meta,
		CreatedAt:  m.CreatedAt,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
