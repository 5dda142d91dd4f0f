package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ipflow/relay/delivery"
	"github.com/ipflow/relay/id"
)

// recordModel is the JSON representation of a delivery record. Payload is
// kept as a string so the signed bytes survive storage unchanged.
type recordModel struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	TenantID       string    `json:"tenant_id"`
	Event          string    `json:"event"`
	Payload        string    `json:"payload"`
	StatusCode     *int      `json:"status_code,omitempty"`
	ResponseBody   string    `json:"response_body"`
	DurationMs     int64     `json:"duration_ms"`
	Success        bool      `json:"success"`
	Error          string    `json:"error"`
	CreatedAt      time.Time `json:"created_at"`
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

func (s *Store) CreateRecord(ctx context.Context, rec *delivery.Record) error {
	m := toRecordModel(rec)

	if err := s.setEntity(ctx, entityKey(prefixRecord, m.ID), m); err != nil {
		return fmt.Errorf("relay/redis: create record: %w", err)
	}

	z := goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID}
	if err := s.rdb.ZAdd(ctx, zRecordSubscription+m.SubscriptionID, z).Err(); err != nil {
		return fmt.Errorf("relay/redis: create record index: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*delivery.Record, error) {
	return s.loadRecord(ctx, recID.String())
}

func (s *Store) loadRecord(ctx context.Context, recID string) (*delivery.Record, error) {
	var m recordModel
	if err := s.getEntity(ctx, entityKey(prefixRecord, recID), &m); err != nil {
		if isNotFound(err) {
			return nil, delivery.ErrRecordNotFound
		}
		return nil, fmt.Errorf("relay/redis: get record: %w", err)
	}
	return fromRecordModel(&m)
}

// ListRecords walks the subscription index newest first.
func (s *Store) ListRecords(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Record, error) {
	ids, err := s.rdb.ZRevRange(ctx, zRecordSubscription+subID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("relay/redis: list records: %w", err)
	}

	result := make([]*delivery.Record, 0, len(ids))
	for _, recID := range ids {
		rec, err := s.loadRecord(ctx, recID)
		if err != nil {
			if errors.Is(err, delivery.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		if opts.Success != nil && rec.Success != *opts.Success {
			continue
		}
		result = append(result, rec)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}
