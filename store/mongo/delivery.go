package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/ipflow/relay/delivery"
	"github.com/ipflow/relay/id"
)

// CreateRecord appends a delivery record.
func (s *Store) CreateRecord(ctx context.Context, rec *delivery.Record) error {
	m := toRecordModel(rec)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("relay/mongo: create record: %w", err)
	}

	return nil
}

// GetRecord returns a record by ID.
func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*delivery.Record, error) {
	var m recordModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": recID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, delivery.ErrRecordNotFound
		}

		return nil, fmt.Errorf("relay/mongo: get record: %w", err)
	}

	return fromRecordModel(&m)
}

// ListRecords returns a subscription's records, newest first.
func (s *Store) ListRecords(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Record, error) {
	var models []recordModel

	filter := bson.M{"subscription_id": subID.String()}
	if opts.Success != nil {
		filter["success"] = *opts.Success
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
		return nil, fmt.Errorf("relay/mongo: list records: %w", err)
	}

	result := make([]*delivery.Record, 0, len(models))

	for i := range models {
		rec, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, rec)
	}

	return result, nil
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
