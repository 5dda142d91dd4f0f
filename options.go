package relay

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ipflow/relay/audit"
	"github.com/ipflow/relay/catalog"
	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/delivery"
	"github.com/ipflow/relay/observability"
	"github.com/ipflow/relay/ratelimit"
	"github.com/ipflow/relay/store"
	"github.com/ipflow/relay/subscription"
)

// Relay is the credential gateway and event dispatcher.
type Relay struct {
	config     Config
	store      store.Store
	window     ratelimit.Store
	catalog    *catalog.Registry
	auditSink  audit.Sink
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger

	audit         *audit.Recorder
	credentials   *credential.Service
	subscriptions *subscription.Service
	limiter       *ratelimit.Limiter
	dispatcher    *delivery.Dispatcher
}

// Option configures a Relay instance.
type Option func(*Relay) error

// New creates a new Relay with the given options.
func New(opts ...Option) (*Relay, error) {
	r := &Relay{
		config: DefaultConfig(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.store == nil {
		return nil, ErrNoStore
	}
	r.wireServices()
	return r, nil
}

// WithStore sets the persistence backend. A store that also implements
// ratelimit.Store doubles as the rate-limit window unless
// WithRateLimitStore says otherwise.
func WithStore(s store.Store) Option {
	return func(r *Relay) error {
		r.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Relay instance.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) error {
		r.logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(r *Relay) error {
		r.config = cfg
		return nil
	}
}

// WithHTTPClient sets the client used for webhook deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Relay) error {
		r.httpClient = c
		return nil
	}
}

// WithFailureThreshold sets the consecutive-failure count that disables a
// subscription.
func WithFailureThreshold(n int) Option {
	return func(r *Relay) error {
		r.config.FailureThreshold = n
		return nil
	}
}

// WithRequestTimeout sets the deadline per dispatch delivery.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.RequestTimeout = d
		return nil
	}
}

// WithTestTimeout sets the deadline for test deliveries.
func WithTestTimeout(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.TestTimeout = d
		return nil
	}
}

// WithDispatchConcurrency bounds simultaneous deliveries per dispatch.
func WithDispatchConcurrency(n int) Option {
	return func(r *Relay) error {
		r.config.DispatchConcurrency = n
		return nil
	}
}

// WithRateLimitWindow sets the sliding window for credential rate limits.
func WithRateLimitWindow(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.RateLimitWindow = d
		return nil
	}
}

// WithDefaultRateLimit sets the ceiling for credentials issued without one.
func WithDefaultRateLimit(n int) Option {
	return func(r *Relay) error {
		r.config.DefaultRateLimit = n
		return nil
	}
}

// WithAuditSink sends audit entries to sink instead of the store.
func WithAuditSink(sink audit.Sink) Option {
	return func(r *Relay) error {
		r.auditSink = sink
		return nil
	}
}

// WithRateLimitStore sets the window store used by CheckRateLimit.
func WithRateLimitStore(s ratelimit.Store) Option {
	return func(r *Relay) error {
		r.window = s
		return nil
	}
}

// WithCatalog enables an event catalog. Subscriptions may then use
// wildcard patterns and must name registered events, and Dispatch checks
// payloads of subscribed events against their schemas. Without a catalog
// event names are free-form and payloads are opaque.
func WithCatalog(reg *catalog.Registry) Option {
	return func(r *Relay) error {
		r.catalog = reg
		return nil
	}
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Relay) error {
		r.metrics = m
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(r *Relay) error {
		r.tracer = t
		return nil
	}
}

// WithClock overrides the time source everywhere. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) error {
		r.now = now
		return nil
	}
}
