package relay

import (
	"errors"

	"github.com/ipflow/relay/catalog"
	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/delivery"
	"github.com/ipflow/relay/store"
	"github.com/ipflow/relay/subscription"
)

// Sentinel errors returned by Relay operations.
var (
	// ErrNoStore is returned when a Relay is created without a store.
	ErrNoStore = errors.New("relay: store is required")

	// ErrForbidden is returned when a principal lacks the required scope.
	ErrForbidden = errors.New("relay: insufficient scope")

	// ErrInvalidCredential covers unknown, malformed, revoked and expired keys.
	ErrInvalidCredential = credential.ErrInvalidCredential

	// ErrCredentialNotFound is returned when a credential cannot be found.
	ErrCredentialNotFound = credential.ErrNotFound

	// ErrDuplicateCredentialHash is returned when a generated key collides.
	ErrDuplicateCredentialHash = credential.ErrDuplicateHash

	// ErrSubscriptionNotFound is returned when a subscription cannot be found.
	ErrSubscriptionNotFound = subscription.ErrNotFound

	// ErrRecordNotFound is returned when a delivery record cannot be found.
	ErrRecordNotFound = delivery.ErrRecordNotFound

	// ErrUnknownEvent is returned when a configured catalog does not list an
	// event that has subscribers.
	ErrUnknownEvent = catalog.ErrUnknownEvent

	// ErrStoreClosed is returned when a store is used after Close.
	ErrStoreClosed = store.ErrClosed
)
