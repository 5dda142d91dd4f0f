// Package audit records tenant-visible security and configuration events
// such as key issuance and webhook auto-disable.
//
// Audit is informational. Callers go through a Recorder, which never lets a
// sink failure reach the operation being audited.
package audit

import (
	"context"
	"time"

	"github.com/ipflow/relay/id"
)

// Action names an audited operation.
type Action string

const (
	ActionKeyCreated         Action = "api_key.created"
	ActionKeyRevoked         Action = "api_key.revoked"
	ActionKeyDeleted         Action = "api_key.deleted"
	ActionWebhookCreated     Action = "webhook.created"
	ActionWebhookUpdated     Action = "webhook.updated"
	ActionWebhookDeleted     Action = "webhook.deleted"
	ActionWebhookDisabled    Action = "webhook.disabled"
	ActionWebhookReactivated Action = "webhook.reactivated"
	ActionWebhookDeactivated Action = "webhook.deactivated"
)

// ActorSystem marks entries produced by the relay itself rather than a
// credential holder, e.g. auto-disable after repeated failures.
const ActorSystem = "system"

// Entry is one audit record.
type Entry struct {
	ID         id.ID             `json:"id"`
	TenantID   string            `json:"tenant_id"`
	Action     Action            `json:"action"`
	ActorID    string            `json:"actor_id,omitempty"`
	ResourceID string            `json:"resource_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Sink receives audit entries.
type Sink interface {
	Record(ctx context.Context, e *Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e *Entry) error

// Record implements Sink.
func (f SinkFunc) Record(ctx context.Context, e *Entry) error { return f(ctx, e) }

// ListOpts configures audit listing.
type ListOpts struct {
	Offset int
	Limit  int
	Action Action
}

// Store persists audit entries.
type Store interface {
	// CreateAuditEntry appends an entry.
	CreateAuditEntry(ctx context.Context, e *Entry) error

	// ListAuditEntries returns a tenant's entries, newest first.
	ListAuditEntries(ctx context.Context, tenantID string, opts ListOpts) ([]*Entry, error)
}
