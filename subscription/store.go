package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/ipflow/relay/id"
)

// ErrNotFound is returned by stores when no subscription matches.
var ErrNotFound = errors.New("relay: subscription not found")

// Store defines the persistence contract for subscriptions.
//
// RecordSuccess and RecordFailure must be atomic per subscription: two
// concurrent deliveries to the same subscription may not lose an update.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription by ID.
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// UpdateSubscription writes URL, Description and Events. It must not
	// touch Secret, Active or the failure bookkeeping.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// DeleteSubscription removes a subscription.
	DeleteSubscription(ctx context.Context, subID id.ID) error

	// ListSubscriptions returns a tenant's subscriptions, oldest first.
	ListSubscriptions(ctx context.Context, tenantID string, opts ListOpts) ([]*Subscription, error)

	// Resolve returns the tenant's active subscriptions listing event.
	// This is the dispatch hot path.
	Resolve(ctx context.Context, tenantID, event string) ([]*Subscription, error)

	// SetActive flips the active flag. Activating also clears the failure
	// counter and DisabledAt.
	SetActive(ctx context.Context, subID id.ID, active bool) error

	// RecordSuccess zeroes the failure counter and sets LastDeliveryAt.
	RecordSuccess(ctx context.Context, subID id.ID, at time.Time) (Health, error)

	// RecordFailure increments the failure counter, sets LastDeliveryAt,
	// and deactivates the subscription (setting DisabledAt) when the new
	// count reaches threshold.
	RecordFailure(ctx context.Context, subID id.ID, at time.Time, threshold int) (Health, error)
}
