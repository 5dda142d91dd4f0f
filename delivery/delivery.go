// Package delivery posts signed event envelopes to subscriptions and keeps
// an append-only record of every attempt.
package delivery

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/ipflow/relay/id"
)

// ErrRecordNotFound is returned by stores when no record matches.
var ErrRecordNotFound = errors.New("relay: delivery record not found")

// Record is one delivery attempt to one subscription.
type Record struct {
	// ID is the unique TypeID for this record.
	ID id.ID `json:"id"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// TenantID owns the subscription at the time of the attempt.
	TenantID string `json:"tenant_id"`

	// Event is the dispatched event name.
	Event string `json:"event"`

	// Payload is the exact envelope body that was posted.
	Payload json.RawMessage `json:"payload"`

	// StatusCode is nil when no HTTP response was received.
	StatusCode *int `json:"status_code,omitempty"`

	// ResponseBody is truncated to the sender's response cap.
	ResponseBody string `json:"response_body,omitempty"`

	DurationMs int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Outcome summarizes one subscription's delivery in a dispatch.
type Outcome struct {
	SubscriptionID id.ID  `json:"subscription_id"`
	Success        bool   `json:"success"`
	StatusCode     int    `json:"status_code,omitempty"`
	Error          string `json:"error,omitempty"`

	// Disabled is set when this attempt pushed the subscription over the
	// failure threshold.
	Disabled bool `json:"disabled,omitempty"`
}

// ListOpts configures record listing.
type ListOpts struct {
	Offset int
	Limit  int

	// Success filters by result when non-nil.
	Success *bool
}
