// Package entity holds the timestamp pair shared by persisted records.
package entity

import "time"

// Entity carries creation and last-modification times.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New stamps both times with now in UTC.
func New() Entity {
	return At(time.Now())
}

// At stamps both times with t in UTC, for callers running on an injected clock.
func At(t time.Time) Entity {
	t = t.UTC()
	return Entity{CreatedAt: t, UpdatedAt: t}
}
