// Package store defines the composite Store interface for all Relay persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them all. Backends live in the sub-packages.
package store

import (
	"context"
	"errors"

	"github.com/ipflow/relay/audit"
	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/delivery"
	"github.com/ipflow/relay/subscription"
)

// ErrClosed is returned by Ping after Close.
var ErrClosed = errors.New("relay: store closed")

// Store is the aggregate persistence interface.
type Store interface {
	credential.Store
	subscription.Store
	delivery.Store
	audit.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
