// Package event builds the canonical webhook envelope.
//
// An envelope is serialized exactly once per dispatch. Every subscriber
// receives the same bytes, and each signature is computed over them, so a
// receiver can verify by re-signing the raw body it got.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Envelope is the JSON body posted to subscribers.
type Envelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	TenantID  string          `json:"tenantId"`
}

// Sealed is an envelope with its serialized form.
type Sealed struct {
	Envelope
	Body []byte
}

// Seal builds and serializes an envelope captured at at. data may be a
// json.RawMessage, []byte holding JSON, or any JSON-marshalable value.
func Seal(name, tenantID string, data any, at time.Time) (*Sealed, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, fmt.Errorf("event: marshal data: %w", err)
	}

	env := Envelope{
		Event:     name,
		Timestamp: FormatTimestamp(at),
		Data:      raw,
		TenantID:  tenantID,
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("event: marshal envelope: %w", err)
	}
	return &Sealed{Envelope: env, Body: body}, nil
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("invalid JSON")
		}
		return v, nil
	case []byte:
		return marshalData(json.RawMessage(v))
	default:
		return json.Marshal(v)
	}
}
