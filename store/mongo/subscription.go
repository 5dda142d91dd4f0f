package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ipflow/relay/id"
	"github.com/ipflow/relay/subscription"
)

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("relay/mongo: create subscription: %w", err)
	}

	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var m subscriptionModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subscription.ErrNotFound
		}

		return nil, fmt.Errorf("relay/mongo: get subscription: %w", err)
	}

	return fromSubscriptionModel(&m)
}

// UpdateSubscription writes the configurable fields only.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": sub.ID.String()}).
		Set("url", sub.URL).
		Set("description", sub.Description).
		Set("events", sub.Events).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("relay/mongo: update subscription: %w", err)
	}

	if res.MatchedCount() == 0 {
		return subscription.ErrNotFound
	}

	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.mdb.NewDelete((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("relay/mongo: delete subscription: %w", err)
	}

	if res.DeletedCount() == 0 {
		return subscription.ErrNotFound
	}

	return nil
}

// ListSubscriptions returns a tenant's subscriptions, oldest first.
func (s *Store) ListSubscriptions(ctx context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{"tenant_id": tenantID}
	if opts.Active != nil {
		filter["active"] = *opts.Active
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("relay/mongo: list subscriptions: %w", err)
	}

	return fromSubscriptionModels(models)
}

// Resolve finds the tenant's active subscriptions listing eventName. An
// equality filter on an array field matches any element.
func (s *Store) Resolve(ctx context.Context, tenantID, eventName string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"tenant_id": tenantID,
			"active":    true,
			"events":    eventName,
		}).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("relay/mongo: resolve: %w", err)
	}

	return fromSubscriptionModels(models)
}

// SetActive flips the active flag. Activation clears the failure state.
func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	update := bson.M{"$set": bson.M{"active": active, "updated_at": now()}}
	if active {
		update = bson.M{
			"$set":   bson.M{"active": true, "failure_count": 0, "updated_at": now()},
			"$unset": bson.M{"disabled_at": ""},
		}
	}

	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		SetUpdate(update).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("relay/mongo: set active: %w", err)
	}

	if res.MatchedCount() == 0 {
		return subscription.ErrNotFound
	}

	return nil
}

// RecordSuccess zeroes the failure counter.
func (s *Store) RecordSuccess(ctx context.Context, subID id.ID, at time.Time) (subscription.Health, error) {
	update := bson.M{"$set": bson.M{
		"failure_count":    0,
		"last_delivery_at": at.UTC(),
	}}

	return s.updateHealth(ctx, subID, update, "record success")
}

// RecordFailure increments and evaluates the threshold in a single
// pipeline update. Within one $set stage every expression reads the
// document as it was before the stage, so disabled_at only moves on the
// transition.
func (s *Store) RecordFailure(ctx context.Context, subID id.ID, at time.Time, threshold int) (subscription.Health, error) {
	at = at.UTC()
	crossing := bson.M{"$and": bson.A{
		"$active",
		bson.M{"$gte": bson.A{"$failure_count", threshold}},
	}}

	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"failure_count":    bson.M{"$add": bson.A{"$failure_count", 1}},
			"last_delivery_at": at,
		}}},
		{{Key: "$set", Value: bson.M{
			"active":      bson.M{"$cond": bson.A{crossing, false, "$active"}},
			"disabled_at": bson.M{"$cond": bson.A{crossing, at, "$disabled_at"}},
		}}},
	}

	return s.updateHealth(ctx, subID, pipeline, "record failure")
}

func (s *Store) updateHealth(ctx context.Context, subID id.ID, update any, op string) (subscription.Health, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m subscriptionModel

	err := s.mdb.Collection(colSubscriptions).
		FindOneAndUpdate(ctx, bson.M{"_id": subID.String()}, update, opts).
		Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return subscription.Health{}, subscription.ErrNotFound
		}

		return subscription.Health{}, fmt.Errorf("relay/mongo: %s: %w", op, err)
	}

	// The disabling update stamps disabled_at and last_delivery_at with the
	// same time. A pause leaves disabled_at unset.
	disabled := !m.Active && m.DisabledAt != nil && m.LastDeliveryAt != nil &&
		m.DisabledAt.Equal(*m.LastDeliveryAt)

	return subscription.Health{FailureCount: m.FailureCount, Active: m.Active, Disabled: disabled}, nil
}

func fromSubscriptionModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, 0, len(models))

	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, sub)
	}

	return result, nil
}
