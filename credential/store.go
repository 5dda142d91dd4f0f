package credential

import (
	"context"
	"time"

	"github.com/ipflow/relay/id"
)

// Store defines the persistence contract for credentials.
type Store interface {
	// CreateCredential persists a new credential. Returns ErrDuplicateHash
	// if the key hash is taken.
	CreateCredential(ctx context.Context, c *Credential) error

	// GetCredential returns a credential by ID.
	GetCredential(ctx context.Context, credID id.ID) (*Credential, error)

	// GetCredentialByHash is the authentication hot path.
	GetCredentialByHash(ctx context.Context, hash string) (*Credential, error)

	// ListCredentials returns a tenant's credentials, oldest first.
	ListCredentials(ctx context.Context, tenantID string, opts ListOpts) ([]*Credential, error)

	// RevokeCredential sets active=false.
	RevokeCredential(ctx context.Context, credID id.ID) error

	// DeleteCredential removes the record.
	DeleteCredential(ctx context.Context, credID id.ID) error

	// TouchCredential atomically increments the usage counter and sets
	// last-used to at.
	TouchCredential(ctx context.Context, credID id.ID, at time.Time) error
}
