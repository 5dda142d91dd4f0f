package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ipflow/relay/audit"
	"github.com/ipflow/relay/id"
)

type auditModel struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	Action     string            `json:"action"`
	ActorID    string            `json:"actor_id"`
	ResourceID string            `json:"resource_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// CreateAuditEntry appends an audit entry.
func (s *Store) CreateAuditEntry(ctx context.Context, e *audit.Entry) error {
	m := &auditModel{
		ID:         e.ID.String(),
		TenantID:   e.TenantID,
		Action:     string(e.Action),
		ActorID:    e.ActorID,
		ResourceID: e.ResourceID,
		Metadata:   e.Metadata,
		CreatedAt:  e.CreatedAt,
	}

	if err := s.setEntity(ctx, entityKey(prefixAudit, m.ID), m); err != nil {
		return fmt.Errorf("relay/redis: create audit entry: %w", err)
	}

	z := goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID}
	if err := s.rdb.ZAdd(ctx, zAuditTenant+m.TenantID, z).Err(); err != nil {
		return fmt.Errorf("relay/redis: create audit index: %w", err)
	}
	return nil
}

// ListAuditEntries returns a tenant's entries, newest first.
func (s *Store) ListAuditEntries(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Entry, error) {
	ids, err := s.rdb.ZRevRange(ctx, zAuditTenant+tenantID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("relay/redis: list audit entries: %w", err)
	}

	result := make([]*audit.Entry, 0, len(ids))
	for _, entryID := range ids {
		var m auditModel
		if err := s.getEntity(ctx, entityKey(prefixAudit, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("relay/redis: get audit entry: %w", err)
		}
		if opts.Action != "" && m.Action != string(opts.Action) {
			continue
		}
		parsed, err := id.ParseAuditID(m.ID)
		if err != nil {
			return nil, fmt.Errorf("parse audit ID %q: %w", m.ID, err)
		}
		result = append(result, &audit.Entry{
			ID:         parsed,
			TenantID:   m.TenantID,
			Action:     audit.Action(m.Action),
			ActorID:    m.ActorID,
			ResourceID: m.ResourceID,
			Metadata:   m.Metadata,
			CreatedAt:  m.CreatedAt,
		})
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}
