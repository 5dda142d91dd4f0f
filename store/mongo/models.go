package mongo

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

	ID         string     `grove:"id,pk"        bson:"_id"`
	TenantID   string     `grove:"tenant_id"    bson:"tenant_id"`
	Name       string     `grove:"name"         bson:"name"`
	KeyHash    string     `grove:"key_hash"     bson:"key_hash"`
	KeyPrefix  string     `grove:"key_prefix"   bson:"key_prefix"`
	Scopes     []string   `grove:"scopes"       bson:"scopes"`
	Active     bool       `grove:"active"       bson:"active"`
	ExpiresAt  *time.Time `grove:"expires_at"   bson:"expires_at,omitempty"`
	LastUsedAt *time.Time `grove:"last_used_at" bson:"last_used_at,omitempty"`
	UsageCount int64      `grove:"usage_count"  bson:"usage_count"`
	RateLimit  int        `grove:"rate_limit"   bson:"rate_limit"`
	CreatedAt  time.Time  `grove:"created_at"   bson:"created_at"`
	UpdatedAt  time.Time  `grove:"updated_at"   bson:"updated_at"`
}

func toCredentialModel(c *credential.Credential) *credentialModel {
	return &credentialModel{
		ID:         c.ID.String(),
		TenantID:   c.TenantID,
		Name:       c.Name,
		KeyHash:    c.KeyHash,
		KeyPrefix:  c.KeyPrefix,
		Scopes:     c.Scopes,
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
		ExpiresAt:  utc(m.ExpiresAt),
		LastUsedAt: utc(m.LastUsedAt),
		UsageCount: m.UsageCount,
		RateLimit:  m.RateLimit,
	}, nil
}

// --- Subscription models ---

type subscriptionModel struct {
	grove.BaseModel `grove:"table:relay_subscriptions"`

	ID             string     `grove:"id,pk"            bson:"_id"`
	TenantID       string     `grove:"tenant_id"        bson:"tenant_id"`
	URL            string     `grove:"url"              bson:"url"`
	Description    string     `grove:"description"      bson:"description"`
	Secret         string     `grove:"secret"           bson:"secret"`
	Events         []string   `grove:"events"           bson:"events"`
	Active         bool       `grove:"active"           bson:"active"`
	FailureCount   int        `grove:"failure_count"    bson:"failure_count"`
	LastDeliveryAt *time.Time `grove:"last_delivery_at" bson:"last_delivery_at,omitempty"`
	DisabledAt     *time.Time `grove:"disabled_at"      bson:"disabled_at,omitempty"`
	CreatedAt      time.Time  `grove:"created_at"       bson:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"       bson:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:             sub.ID.String(),
		TenantID:       sub.TenantID,
		URL:            sub.URL,
		Description:    sub.Description,
		Secret:         sub.Secret,
		Events:         sub.Events,
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
		LastDeliveryAt: utc(m.LastDeliveryAt),
		DisabledAt:     utc(m.DisabledAt),
	}, nil
}

// --- Delivery record models ---

// Payload is kept as a string so the stored body is byte-identical to the
// signed one.
type recordModel struct {
	grove.BaseModel `grove:"table:relay_delivery_records"`

	ID             string    `grove:"id,pk"           bson:"_id"`
	SubscriptionID string    `grove:"subscription_id" bson:"subscription_id"`
	TenantID       string    `grove:"tenant_id"       bson:"tenant_id"`
	Event          string    `grove:"event"           bson:"event"`
	Payload        string    `grove:"payload"         bson:"payload"`
	StatusCode     *int      `grove:"status_code"     bson:"status_code,omitempty"`
	ResponseBody   string    `grove:"response_body"   bson:"response_body"`
	DurationMs     int64     `grove:"duration_ms"     bson:"duration_ms"`
	Success        bool      `grove:"success"         bson:"success"`
	Error          string    `grove:"error"           bson:"error"`
	CreatedAt      time.Time `grove:"created_at"      bson:"created_at"`
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
		CreatedAt:      m.CreatedAt.UTC(),
	}, nil
}

// --- Audit models ---

type auditModel struct {
	grove.BaseModel `grove:"table:relay_audit_log"`

	ID         string            `grove:"id,pk"       bson:"_id"`
	TenantID   string            `grove:"tenant_id"   bson:"tenant_id"`
	Action     string            `grove:"action"      bson:"action"`
	ActorID    string            `grove:"actor_id"    bson:"actor_id"`
	ResourceID string            `grove:"resource_id" bson:"resource_id"`
	Metadata   map[string]string `grove:"metadata"    bson:"metadata,omitempty"`
	CreatedAt  time.Time         `grove:"created_at"  bson:"created_at"`
}

func toAuditModel(e *audit.Entry) *auditModel {
	return &auditModel{
		ID:         e.ID.String(),
		TenantID:   e.TenantID,
		Action:     string(e.Action),
		ActorID:    e.ActorID,
		ResourceID: e.ResourceID,
		Metadata:   e.Metadata,
		CreatedAt:  e.CreatedAt,
	}
}

func fromAuditModel(m *auditModel) (*audit.Entry, error) {
	entryID, err := id.ParseAuditID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse audit ID %q: %w", m.ID, err)
	}

	return &audit.Entry{
		ID:         entryID,
		TenantID:   m.TenantID,
		Action:     audit.Action(m.Action),
		ActorID:    m.ActorID,
		ResourceID: m.ResourceID,
		Metadata:   m.Metadata,
		CreatedAt:  m.CreatedAt.UTC(),
	}, nil
}

// utc normalizes BSON datetimes, which decode in local time.
func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
