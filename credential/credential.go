// Package credential issues and authenticates tenant API keys.
//
// Only a SHA-256 hash of each key is stored. The raw key exists in the
// return value of Service.Issue and nowhere else.
package credential

import (
	"time"

	"github.com/ipflow/relay/id"
	"github.com/ipflow/relay/internal/entity"
)

// Credential is a stored API key record.
type Credential struct {
	entity.Entity

	ID       id.ID  `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`

	// KeyHash is the hex SHA-256 of the raw key. Unique across all tenants.
	KeyHash string `json:"-"`

	// KeyPrefix is the first characters of the raw key, safe to display.
	KeyPrefix string `json:"key_prefix"`

	Scopes     []string   `json:"scopes"`
	Active     bool       `json:"active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	UsageCount int64      `json:"usage_count"`

	// RateLimit is the ceiling on requests per rolling hour.
	RateLimit int `json:"rate_limit"`
}

// Expired reports whether the credential's expiry is at or before now.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Principal is the authenticated identity resolved from a key. It is passed
// explicitly to downstream operations.
type Principal struct {
	CredentialID id.ID    `json:"credential_id"`
	TenantID     string   `json:"tenant_id"`
	Scopes       []string `json:"scopes"`
	RateLimit    int      `json:"rate_limit"`
}

// Input is the issuance request.
type Input struct {
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// RateLimit overrides the service default when positive.
	RateLimit int `json:"rate_limit,omitempty"`

	// ActorID identifies who issued the key, for the audit trail.
	ActorID string `json:"-"`
}

// Issued pairs a freshly stored credential with its raw key.
type Issued struct {
	*Credential
	Key string `json:"key"`
}

// ListOpts configures credential listing.
type ListOpts struct {
	Offset int
	Limit  int
	Active *bool
}
