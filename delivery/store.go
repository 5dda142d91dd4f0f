package delivery

import (
	"context"

	"github.com/ipflow/relay/id"
)

// Store defines the persistence contract for delivery records.
// Records are append-only.
type Store interface {
	// CreateRecord persists a record.
	CreateRecord(ctx context.Context, rec *Record) error

	// GetRecord returns a record by ID.
	GetRecord(ctx context.Context, recID id.ID) (*Record, error)

	// ListRecords returns a subscription's records, newest first.
	ListRecords(ctx context.Context, subID id.ID, opts ListOpts) ([]*Record, error)
}
