package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ipflow/relay/id"
	"github.com/ipflow/relay/internal/entity"
	"github.com/ipflow/relay/subscription"
)

// subscriptionModel is the JSON representation stored in Redis. Active and
// the failure bookkeeping live in the companion health hash.
type subscriptionModel struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	Secret      string    `json:"secret"`
	Events      []string  `json:"events"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:          sub.ID.String(),
		TenantID:    sub.TenantID,
		URL:         sub.URL,
		Description: sub.Description,
		Secret:      sub.Secret,
		Events:      sub.Events,
		CreatedAt:   sub.CreatedAt,
		UpdatedAt:   sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel, health map[string]string) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	failures, _ := strconv.Atoi(health["failures"]) //nolint:errcheck // missing field means zero
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
		Active:         health["active"] == "1",
		FailureCount:   failures,
		LastDeliveryAt: timeFromNanos(health["last_delivery"]),
		DisabledAt:     timeFromNanos(health["disabled_at"]),
	}, nil
}

// Health scripts. Each returns nil when the subscription does not exist,
// otherwise {failures, active, disabled}.
// KEYS[1] = entity key, KEYS[2] = health hash

// ARGV[1] = delivery unix nanos
var successScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return false end
redis.call('HSET', KEYS[2], 'failures', 0, 'last_delivery', ARGV[1])
return {0, redis.call('HGET', KEYS[2], 'active') or '0', 0}
`)

// ARGV[1] = delivery unix nanos, ARGV[2] = threshold
var failureScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return false end
local f = redis.call('HINCRBY', KEYS[2], 'failures', 1)
redis.call('HSET', KEYS[2], 'last_delivery', ARGV[1])
local active = redis.call('HGET', KEYS[2], 'active') or '0'
local disabled = 0
if active == '1' and f >= tonumber(ARGV[2]) then
    redis.call('HSET', KEYS[2], 'active', '0', 'disabled_at', ARGV[1])
    active = '0'
    disabled = 1
end
return {f, active, disabled}
`)

// ARGV[1] = "1" to activate, "0" to deactivate
var setActiveScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return false end
if ARGV[1] == '1' then
    redis.call('HSET', KEYS[2], 'active', '1', 'failures', 0)
    redis.call('HDEL', KEYS[2], 'disabled_at')
else
    redis.call('HSET', KEYS[2], 'active', '0')
end
return 1
`)

func healthKeys(subID string) []string {
	return []string{
		entityKey(prefixSubscription, subID),
		entityKey(prefixSubscriptionHealth, subID),
	}
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)

	if err := s.setEntity(ctx, entityKey(prefixSubscription, m.ID), m); err != nil {
		return fmt.Errorf("relay/redis: create subscription: %w", err)
	}

	health := map[string]any{
		"active":   boolFlag(sub.Active),
		"failures": sub.FailureCount,
	}
	if sub.LastDeliveryAt != nil {
		health["last_delivery"] = nanos(*sub.LastDeliveryAt)
	}
	if sub.DisabledAt != nil {
		health["disabled_at"] = nanos(*sub.DisabledAt)
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, entityKey(prefixSubscriptionHealth, m.ID), health)
	pipe.ZAdd(ctx, zSubscriptionTenant+m.TenantID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	for _, evt := range m.Events {
		pipe.SAdd(ctx, eventSetKey(m.TenantID, evt), m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("relay/redis: create subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	return s.loadSubscription(ctx, subID.String())
}

func (s *Store) loadSubscription(ctx context.Context, subID string) (*subscription.Subscription, error) {
	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSubscription, subID), &m); err != nil {
		if isNotFound(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, fmt.Errorf("relay/redis: get subscription: %w", err)
	}

	health, err := s.rdb.HGetAll(ctx, entityKey(prefixSubscriptionHealth, subID)).Result()
	if err != nil {
		return nil, fmt.Errorf("relay/redis: get subscription health: %w", err)
	}
	return fromSubscriptionModel(&m, health)
}

// UpdateSubscription rewrites the JSON document and moves the event index
// entries. The health hash is left alone.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	key := entityKey(prefixSubscription, sub.ID.String())

	var existing subscriptionModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return subscription.ErrNotFound
		}
		return fmt.Errorf("relay/redis: update subscription get: %w", err)
	}

	m := existing
	m.URL = sub.URL
	m.Description = sub.Description
	m.Events = sub.Events
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("relay/redis: update subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	for _, evt := range existing.Events {
		pipe.SRem(ctx, eventSetKey(m.TenantID, evt), m.ID)
	}
	for _, evt := range m.Events {
		pipe.SAdd(ctx, eventSetKey(m.TenantID, evt), m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("relay/redis: update subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	key := entityKey(prefixSubscription, subID.String())

	var m subscriptionModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return subscription.ErrNotFound
		}
		return fmt.Errorf("relay/redis: delete subscription get: %w", err)
	}

	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("relay/redis: delete subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, entityKey(prefixSubscriptionHealth, m.ID))
	pipe.ZRem(ctx, zSubscriptionTenant+m.TenantID, m.ID)
	for _, evt := range m.Events {
		pipe.SRem(ctx, eventSetKey(m.TenantID, evt), m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("relay/redis: delete subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubscriptionTenant+tenantID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("relay/redis: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(ids))
	for _, subID := range ids {
		sub, err := s.loadSubscription(ctx, subID)
		if err != nil {
			if errors.Is(err, subscription.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if opts.Active != nil && sub.Active != *opts.Active {
			continue
		}
		result = append(result, sub)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// Resolve reads the tenant/event index and keeps the active members.
func (s *Store) Resolve(ctx context.Context, tenantID, eventName string) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.SMembers(ctx, eventSetKey(tenantID, eventName)).Result()
	if err != nil {
		return nil, fmt.Errorf("relay/redis: resolve: %w", err)
	}

	var result []*subscription.Subscription
	for _, subID := range ids {
		sub, err := s.loadSubscription(ctx, subID)
		if err != nil {
			if errors.Is(err, subscription.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !sub.Active || sub.TenantID != tenantID || !sub.Subscribes(eventName) {
			continue
		}
		result = append(result, sub)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	err := setActiveScript.Run(ctx, s.rdb, healthKeys(subID.String()), boolFlag(active)).Err()
	if err != nil {
		if isRedisNil(err) {
			return subscription.ErrNotFound
		}
		return fmt.Errorf("relay/redis: set active: %w", err)
	}
	return nil
}

func (s *Store) RecordSuccess(ctx context.Context, subID id.ID, at time.Time) (subscription.Health, error) {
	res, err := successScript.Run(ctx, s.rdb, healthKeys(subID.String()), nanos(at.UTC())).Slice()
	return parseHealth(res, err, "record success")
}

func (s *Store) RecordFailure(ctx context.Context, subID id.ID, at time.Time, threshold int) (subscription.Health, error) {
	res, err := failureScript.Run(ctx, s.rdb, healthKeys(subID.String()), nanos(at.UTC()), threshold).Slice()
	return parseHealth(res, err, "record failure")
}

func parseHealth(res []any, err error, op string) (subscription.Health, error) {
	if err != nil {
		if isRedisNil(err) {
			return subscription.Health{}, subscription.ErrNotFound
		}
		return subscription.Health{}, fmt.Errorf("relay/redis: %s: %w", op, err)
	}
	if len(res) != 3 {
		return subscription.Health{}, fmt.Errorf("relay/redis: %s: unexpected reply %v", op, res)
	}
	failures, _ := res[0].(int64)
	active, _ := res[1].(string)
	disabled, _ := res[2].(int64)
	return subscription.Health{
		FailureCount: int(failures),
		Active:       active == "1",
		Disabled:     disabled == 1,
	}, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
