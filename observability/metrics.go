package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Auth results recorded on relay_auth_total.
const (
	AuthOK        = "ok"
	AuthInvalid   = "invalid"
	AuthForbidden = "forbidden"
	AuthLimited   = "rate_limited"
)

// Metrics holds the Prometheus instruments for Relay. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	AuthTotal             *prometheus.CounterVec
	RateLimitDenied       prometheus.Counter
	DeliveriesTotal       *prometheus.CounterVec
	SubscriptionsDisabled prometheus.Counter
	DeliveryDuration      prometheus.Histogram
}

// NewMetrics creates Relay metric instruments and registers them on reg.
// Pass prometheus.DefaultRegisterer for the process-wide registry or a
// fresh prometheus.NewRegistry() in tests. A nil reg skips registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_auth_total",
			Help: "Credential authentication attempts by result.",
		}, []string{"result"}),
		RateLimitDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_ratelimit_denied_total",
			Help: "Requests denied by the per-credential rate limit.",
		}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Webhook delivery attempts by result.",
		}, []string{"result"}),
		SubscriptionsDisabled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_subscriptions_disabled_total",
			Help: "Subscriptions disabled after reaching the failure threshold.",
		}),
		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_delivery_duration_seconds",
			Help:    "Webhook delivery latency.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.AuthTotal,
			m.RateLimitDenied,
			m.DeliveriesTotal,
			m.SubscriptionsDisabled,
			m.DeliveryDuration,
		)
	}
	return m
}

// RecordAuth counts an authentication attempt.
func (m *Metrics) RecordAuth(result string) {
	if m == nil {
		return
	}
	m.AuthTotal.WithLabelValues(result).Inc()
}

// RecordRateLimited counts a rate-limit denial.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitDenied.Inc()
}

// RecordDelivery records a delivery attempt with its latency.
func (m *Metrics) RecordDelivery(success bool, latency time.Duration) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.DeliveriesTotal.WithLabelValues(result).Inc()
	m.DeliveryDuration.Observe(latency.Seconds())
}

// RecordDisabled counts a subscription crossing the failure threshold.
func (m *Metrics) RecordDisabled() {
	if m == nil {
		return
	}
	m.SubscriptionsDisabled.Inc()
}
