package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ipflow/relay/audit"
	"github.com/ipflow/relay/catalog"
	"github.com/ipflow/relay/event"
	"github.com/ipflow/relay/id"
	"github.com/ipflow/relay/observability"
	"github.com/ipflow/relay/subscription"
)

// Default timeouts.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultTestTimeout    = 10 * time.Second
)

// Dispatcher fans an event out to every matching subscription of a tenant.
type Dispatcher struct {
	subs    subscription.Store
	records Store
	logger  *slog.Logger

	client      *http.Client
	maxBody     int
	sender      *Sender
	catalog     *catalog.Registry
	audit       *audit.Recorder
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	now         func() time.Time
	threshold   int
	timeout     time.Duration
	testTimeout time.Duration
	concurrency int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient sets the client used for outbound requests.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithMaxResponseBody caps how many response bytes each record keeps.
func WithMaxResponseBody(n int) Option {
	return func(d *Dispatcher) { d.maxBody = n }
}

// WithCatalog makes Dispatch reject unknown events and payloads that fail
// the event's schema.
func WithCatalog(reg *catalog.Registry) Option {
	return func(d *Dispatcher) { d.catalog = reg }
}

// WithAudit sets the recorder that receives webhook.disabled entries.
func WithAudit(r *audit.Recorder) Option {
	return func(d *Dispatcher) { d.audit = r }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithFailureThreshold sets the consecutive-failure count that disables a
// subscription.
func WithFailureThreshold(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.threshold = n
		}
	}
}

// WithRequestTimeout sets the per-delivery deadline used by Dispatch.
func WithRequestTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithTestTimeout sets the deadline used by TestDelivery.
func WithTestTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.testTimeout = t
		}
	}
}

// WithConcurrency bounds simultaneous deliveries per dispatch. Zero or
// less means one goroutine per subscription.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) { d.concurrency = n }
}

// NewDispatcher creates a dispatcher over the given stores.
func NewDispatcher(subs subscription.Store, records Store, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		subs:        subs,
		records:     records,
		logger:      logger,
		now:         time.Now,
		threshold:   subscription.DefaultFailureThreshold,
		timeout:     DefaultRequestTimeout,
		testTimeout: DefaultTestTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.sender = NewSender(d.client, d.maxBody)
	return d
}

// Dispatch delivers one event to every active subscription of tenantID
// that lists eventName. payload is the event's data: a json.RawMessage,
// JSON bytes, or any marshalable value.
//
// Dispatch waits for every attempt. An event nobody subscribes to yields an
// empty result. Delivery failures are reported in the outcomes only; the
// returned error is non-nil when subscriptions cannot be resolved, the
// catalog rejects an event that has subscribers, or recording an attempt's
// result failed.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, eventName string, payload any) ([]Outcome, error) {
	if tenantID == "" || eventName == "" {
		return nil, errors.New("relay: dispatch requires a tenant and an event name")
	}

	sealed, err := event.Seal(eventName, tenantID, payload, d.now())
	if err != nil {
		return nil, err
	}

	ctx, span := d.tracer.StartDispatchSpan(ctx, tenantID, eventName)
	defer span.End()

	subs, err := d.subs.Resolve(ctx, tenantID, eventName)
	if err != nil {
		return nil, fmt.Errorf("relay: resolve subscriptions: %w", err)
	}
	outcomes := make([]Outcome, len(subs))
	if len(subs) == 0 {
		d.logger.DebugContext(ctx, "no subscribers", "tenant_id", tenantID, "event", eventName)
		return outcomes, nil
	}
	if d.catalog != nil {
		if err := d.catalog.Validate(eventName, sealed.Data); err != nil {
			return nil, err
		}
	}

	errs := make([]error, len(subs))
	var g errgroup.Group
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}
	for i, sub := range subs {
		g.Go(func() error {
			outcomes[i], errs[i] = d.deliver(ctx, sub, sealed)
			return nil
		})
	}
	_ = g.Wait()

	d.logger.InfoContext(ctx, "event dispatched",
		"tenant_id", tenantID, "event", eventName, "subscribers", len(subs))

	return outcomes, errors.Join(errs...)
}

// deliver makes one attempt and records it. The error covers persistence
// only.
func (d *Dispatcher) deliver(ctx context.Context, sub *subscription.Subscription, sealed *event.Sealed) (Outcome, error) {
	ctx, span := d.tracer.StartDeliverySpan(ctx, sub.ID.String(), sealed.Event)

	res := d.sender.Send(ctx, sub.URL, sealed, sub.Secret, d.timeout)
	at := d.now().UTC()
	ok := res.Success()

	out := Outcome{
		SubscriptionID: sub.ID,
		Success:        ok,
		StatusCode:     res.StatusCode,
		Error:          res.Error,
	}

	rec := &Record{
		ID:             id.NewRecordID(),
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		Event:          sealed.Event,
		Payload:        sealed.Body,
		ResponseBody:   res.Response,
		DurationMs:     res.Duration.Milliseconds(),
		Success:        ok,
		Error:          res.Error,
		CreatedAt:      at,
	}
	if res.StatusCode != 0 {
		code := res.StatusCode
		rec.StatusCode = &code
	}

	var errs []error
	if err := d.records.CreateRecord(ctx, rec); err != nil {
		errs = append(errs, fmt.Errorf("relay: record delivery to %s: %w", sub.ID, err))
	}

	if ok {
		if _, err := d.subs.RecordSuccess(ctx, sub.ID, at); err != nil {
			errs = append(errs, fmt.Errorf("relay: record success for %s: %w", sub.ID, err))
		}
	} else {
		health, err := d.subs.RecordFailure(ctx, sub.ID, at, d.threshold)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("relay: record failure for %s: %w", sub.ID, err))
		case health.Disabled:
			out.Disabled = true
			d.disabled(ctx, sub, health)
		}
		d.logger.DebugContext(ctx, "delivery failed",
			"subscription_id", sub.ID.String(), "status", res.StatusCode, "error", res.Error)
	}

	d.metrics.RecordDelivery(ok, res.Duration)
	d.tracer.EndDeliverySpan(span, res.StatusCode, rec.DurationMs, res.Error)

	return out, errors.Join(errs...)
}

func (d *Dispatcher) disabled(ctx context.Context, sub *subscription.Subscription, health subscription.Health) {
	d.logger.WarnContext(ctx, "subscription disabled after consecutive failures",
		"subscription_id", sub.ID.String(),
		"tenant_id", sub.TenantID,
		"failure_count", health.FailureCount,
	)
	d.metrics.RecordDisabled()
	d.audit.Record(ctx, sub.TenantID, audit.ActionWebhookDisabled, audit.ActorSystem, sub.ID.String(),
		map[string]string{
			"url":           sub.URL,
			"failure_count": strconv.Itoa(health.FailureCount),
		})
}

// TestDelivery sends a webhook.test event to one subscription, active or
// not, under the test timeout. Nothing is recorded and the subscription's
// failure bookkeeping is left as it was.
func (d *Dispatcher) TestDelivery(ctx context.Context, subID id.ID) (*Outcome, error) {
	sub, err := d.subs.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	now := d.now()
	sealed, err := event.Seal(catalog.TestEvent, sub.TenantID, map[string]string{
		"message":        "This is a test webhook delivery.",
		"subscriptionId": sub.ID.String(),
	}, now)
	if err != nil {
		return nil, err
	}

	res := d.sender.Send(ctx, sub.URL, sealed, sub.Secret, d.testTimeout)

	d.logger.InfoContext(ctx, "test delivery sent",
		"subscription_id", sub.ID.String(), "status", res.StatusCode, "success", res.Success())

	return &Outcome{
		SubscriptionID: sub.ID,
		Success:        res.Success(),
		StatusCode:     res.StatusCode,
		Error:          res.Error,
	}, nil
}
