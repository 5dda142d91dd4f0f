// Package catalog lists the domain events tenants can subscribe to and
// validates dispatched payloads against each event's JSON Schema.
package catalog

import "encoding/json"

// TestEvent is reserved for test deliveries. It is never subscribable or
// dispatchable.
const TestEvent = "webhook.test"

// Definition describes one subscribable event.
type Definition struct {
	// Name is "<resource>.<action>", e.g. "case.created".
	Name string `json:"name"`

	Description string `json:"description"`
	Group       string `json:"group,omitempty"`

	// Schema is an optional JSON Schema for the event's data.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Example is an example data payload for documentation.
	Example json.RawMessage `json:"example,omitempty"`
}
