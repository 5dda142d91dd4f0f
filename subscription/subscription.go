// Package subscription manages tenant webhook registrations and the
// failure accounting that disables chronically failing endpoints.
//
// A subscription moves between two states:
//
//	ACTIVE   --success-->                        ACTIVE (counter = 0)
//	ACTIVE   --failure, counter+1 <  threshold--> ACTIVE
//	ACTIVE   --failure, counter+1 >= threshold--> INACTIVE
//	INACTIVE --Reactivate (tenant action)-->      ACTIVE (counter = 0)
//
// Inactive subscriptions are never resolved for dispatch. Nothing
// reactivates a subscription automatically.
package subscription

import (
	"slices"
	"time"

	"github.com/ipflow/relay/id"
	"github.com/ipflow/relay/internal/entity"
)

// DefaultFailureThreshold is the consecutive-failure count that disables a
// subscription.
const DefaultFailureThreshold = 10

// Subscription is a webhook registration.
type Subscription struct {
	entity.Entity

	ID          id.ID  `json:"id"`
	TenantID    string `json:"tenant_id"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`

	// Secret signs every delivery. Generated at creation and never changed.
	Secret string `json:"-"`

	// Events holds concrete event names. Matching is exact containment.
	Events []string `json:"events"`

	Active         bool       `json:"active"`
	FailureCount   int        `json:"failure_count"`
	LastDeliveryAt *time.Time `json:"last_delivery_at,omitempty"`
	DisabledAt     *time.Time `json:"disabled_at,omitempty"`
}

// Subscribes reports whether the subscription lists name.
func (s *Subscription) Subscribes(name string) bool {
	return slices.Contains(s.Events, name)
}

// Health is a subscription's failure state after an update.
type Health struct {
	FailureCount int
	Active       bool

	// Disabled is set only by the update that switched the subscription
	// off. Failures landing on a subscription that is already inactive,
	// whether auto-disabled or paused, leave it false.
	Disabled bool
}

// Input is the creation payload.
type Input struct {
	TenantID    string   `json:"tenant_id"`
	URL         string   `json:"url"`
	Description string   `json:"description"`
	Events      []string `json:"events"`
	ActorID     string   `json:"-"`
}

// UpdateInput carries optional changes. Nil fields are left alone.
type UpdateInput struct {
	URL         *string  `json:"url,omitempty"`
	Description *string  `json:"description,omitempty"`
	Events      []string `json:"events,omitempty"`
	ActorID     string   `json:"-"`
}

// ListOpts configures subscription listing.
type ListOpts struct {
	Offset int
	Limit  int
	Active *bool
}
