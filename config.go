package relay

import "time"

// Config holds the configuration for a Relay instance.
type Config struct {
	// RequestTimeout is the hard deadline for one dispatch delivery.
	RequestTimeout time.Duration

	// TestTimeout is the deadline for a test delivery.
	TestTimeout time.Duration

	// FailureThreshold is the consecutive-failure count that disables a
	// subscription.
	FailureThreshold int

	// RateLimitWindow is the sliding window for per-credential limits.
	RateLimitWindow time.Duration

	// DefaultRateLimit is the per-window ceiling given to credentials issued
	// without one.
	DefaultRateLimit int

	// MaxResponseBody caps the response bytes kept on a delivery record.
	MaxResponseBody int

	// DispatchConcurrency bounds simultaneous deliveries per dispatch.
	// Zero means one goroutine per subscription.
	DispatchConcurrency int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:      30 * time.Second,
		TestTimeout:         10 * time.Second,
		FailureThreshold:    10,
		RateLimitWindow:     time.Hour,
		DefaultRateLimit:    1000,
		MaxResponseBody:     1024,
		DispatchConcurrency: 0,
	}
}
