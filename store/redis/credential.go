package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/id"
	"github.com/ipflow/relay/internal/entity"
)

// credentialModel is the JSON representation stored in Redis. Usage
// counters live in the companion hash.
type credentialModel struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"key_hash"`
	KeyPrefix string     `json:"key_prefix"`
	Scopes    []string   `json:"scopes"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RateLimit int        `json:"rate_limit"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func toCredentialModel(c *credential.Credential) *credentialModel {
	return &credentialModel{
		ID:        c.ID.String(),
		TenantID:  c.TenantID,
		Name:      c.Name,
		KeyHash:   c.KeyHash,
		KeyPrefix: c.KeyPrefix,
		Scopes:    c.Scopes,
		Active:    c.Active,
		ExpiresAt: c.ExpiresAt,
		RateLimit: c.RateLimit,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func fromCredentialModel(m *credentialModel, usage map[string]string) (*credential.Credential, error) {
	credID, err := id.ParseCredentialID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse credential ID %q: %w", m.ID, err)
	}
	count, _ := strconv.ParseInt(usage["count"], 10, 64) //nolint:errcheck // missing field means zero
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
		LastUsedAt: timeFromNanos(usage["last_used"]),
		UsageCount: count,
		RateLimit:  m.RateLimit,
	}, nil
}

// touchScript bumps usage only while the credential exists.
// KEYS[1] = entity key, KEYS[2] = usage hash
// ARGV[1] = last-used unix nanos
var touchScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return false end
redis.call('HINCRBY', KEYS[2], 'count', 1)
redis.call('HSET', KEYS[2], 'last_used', ARGV[1])
return 1
`)

func (s *Store) CreateCredential(ctx context.Context, c *credential.Credential) error {
	m := toCredentialModel(c)

	ok, err := s.rdb.SetNX(ctx, uniqueCredentialHash+m.KeyHash, m.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("relay/redis: create credential hash check: %w", err)
	}
	if !ok {
		return credential.ErrDuplicateHash
	}

	if err := s.setEntity(ctx, entityKey(prefixCredential, m.ID), m); err != nil {
		return fmt.Errorf("relay/redis: create credential: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zCredentialTenant+m.TenantID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if c.UsageCount > 0 || c.LastUsedAt != nil {
		fields := map[string]any{"count": c.UsageCount}
		if c.LastUsedAt != nil {
			fields["last_used"] = nanos(*c.LastUsedAt)
		}
		pipe.HSet(ctx, entityKey(prefixCredentialUsage, m.ID), fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("relay/redis: create credential indexes: %w", err)
	}
	return nil
}

func (s *Store) GetCredential(ctx context.Context, credID id.ID) (*credential.Credential, error) {
	return s.loadCredential(ctx, credID.String())
}

func (s *Store) GetCredentialByHash(ctx context.Context, hash string) (*credential.Credential, error) {
	credID, err := s.rdb.Get(ctx, uniqueCredentialHash+hash).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, credential.ErrNotFound
		}
		return nil, fmt.Errorf("relay/redis: lookup credential hash: %w", err)
	}
	return s.loadCredential(ctx, credID)
}

func (s *Store) loadCredential(ctx context.Context, credID string) (*credential.Credential, error) {
	var m credentialModel
	if err := s.getEntity(ctx, entityKey(prefixCredential, credID), &m); err != nil {
		if isNotFound(err) {
			return nil, credential.ErrNotFound
		}
		return nil, fmt.Errorf("relay/redis: get credential: %w", err)
	}

	usage, err := s.rdb.HGetAll(ctx, entityKey(prefixCredentialUsage, credID)).Result()
	if err != nil {
		return nil, fmt.Errorf("relay/redis: get credential usage: %w", err)
	}
	return fromCredentialModel(&m, usage)
}

func (s *Store) ListCredentials(ctx context.Context, tenantID string, opts credential.ListOpts) ([]*credential.Credential, error) {
	ids, err := s.rdb.ZRange(ctx, zCredentialTenant+tenantID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("relay/redis: list credentials: %w", err)
	}

	result := make([]*credential.Credential, 0, len(ids))
	for _, credID := range ids {
		c, err := s.loadCredential(ctx, credID)
		if err != nil {
			if errors.Is(err, credential.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if opts.Active != nil && c.Active != *opts.Active {
			continue
		}
		result = append(result, c)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) RevokeCredential(ctx context.Context, credID id.ID) error {
	key := entityKey(prefixCredential, credID.String())

	var m credentialModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return credential.ErrNotFound
		}
		return fmt.Errorf("relay/redis: revoke credential get: %w", err)
	}

	m.Active = false
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("relay/redis: revoke credential: %w", err)
	}
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context, credID id.ID) error {
	key := entityKey(prefixCredential, credID.String())

	var m credentialModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return credential.ErrNotFound
		}
		return fmt.Errorf("relay/redis: delete credential get: %w", err)
	}

	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("relay/redis: delete credential: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, entityKey(prefixCredentialUsage, m.ID))
	pipe.Del(ctx, uniqueCredentialHash+m.KeyHash)
	pipe.ZRem(ctx, zCredentialTenant+m.TenantID, m.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("relay/redis: delete credential indexes: %w", err)
	}
	return nil
}

func (s *Store) TouchCredential(ctx context.Context, credID id.ID, at time.Time) error {
	keys := []string{
		entityKey(prefixCredential, credID.String()),
		entityKey(prefixCredentialUsage, credID.String()),
	}
	if err := touchScript.Run(ctx, s.rdb, keys, nanos(at.UTC())).Err(); err != nil {
		if isRedisNil(err) {
			return credential.ErrNotFound
		}
		return fmt.Errorf("relay/redis: touch credential: %w", err)
	}
	return nil
}
