package credential

import "errors"

var (
	// ErrInvalidCredential covers unknown, malformed, revoked and expired
	// keys alike so callers cannot probe which case applied.
	ErrInvalidCredential = errors.New("relay: invalid credential")

	// ErrNotFound is returned by stores when no credential matches.
	ErrNotFound = errors.New("relay: credential not found")

	// ErrDuplicateHash is returned by stores when a key hash already exists.
	ErrDuplicateHash = errors.New("relay: duplicate credential hash")
)

// ValidationError reports an invalid issuance request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "credential validation: " + e.Field + ": " + e.Message
}
