package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/ipflow/relay/audit"
)

// CreateAuditEntry appends an audit entry.
func (s *Store) CreateAuditEntry(ctx context.Context, e *audit.Entry) error {
	m := toAuditModel(e)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("relay/mongo: create audit entry: %w", err)
	}

	return nil
}

// ListAuditEntries returns a tenant's entries, newest first.
func (s *Store) ListAuditEntries(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Entry, error) {
	var models []auditModel

	filter := bson.M{"tenant_id": tenantID}
	if opts.Action != "" {
		filter["action"] = string(opts.Action)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("relay/mongo: list audit entries: %w", err)
	}

	result := make([]*audit.Entry, 0, len(models))

	for i := range models {
		e, err := fromAuditModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, e)
	}

	return result, nil
}
