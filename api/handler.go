// Package api provides the tenant-facing HTTP API: key management,
// webhook subscriptions, event dispatch and the audit log.
//
// Every /v1 route authenticates an API key, enforces its hourly request
// ceiling, and requires one scope. Tenancy always comes from the key.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/ipflow/relay"
	"github.com/ipflow/relay/catalog"
	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/scope"
	"github.com/ipflow/relay/subscription"
)

// Handler is the root HTTP handler for the relay API.
type Handler struct {
	relay   *relay.Relay
	logger  *slog.Logger
	mux     *http.ServeMux
	metrics http.Handler
	admin   *ipThrottle
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) HandlerOption {
	return func(hd *Handler) { hd.metrics = h }
}

// WithAdminThrottle limits key-management routes per client IP to
// requestsPerMinute. Zero disables the throttle.
func WithAdminThrottle(requestsPerMinute int) HandlerOption {
	return func(hd *Handler) { hd.admin = newIPThrottle(requestsPerMinute) }
}

// NewHandler creates the API handler.
func NewHandler(r *relay.Relay, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		relay:  r,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /healthz", h.healthz)
	if h.metrics != nil {
		h.mux.Handle("GET /metrics", h.metrics)
	}

	// Keys
	h.mux.Handle("GET /v1/keys", h.admin.wrap(h.guard(scope.KeysRead, h.listKeys)))
	h.mux.Handle("POST /v1/keys", h.admin.wrap(h.guard(scope.KeysWrite, h.createKey)))
	h.mux.Handle("DELETE /v1/keys/{id}", h.admin.wrap(h.guard(scope.KeysWrite, h.deleteKey)))
	h.mux.Handle("POST /v1/keys/{id}/revoke", h.admin.wrap(h.guard(scope.KeysWrite, h.revokeKey)))

	// Webhooks
	h.mux.Handle("GET /v1/webhooks", h.guard(scope.WebhooksRead, h.listWebhooks))
	h.mux.Handle("POST /v1/webhooks", h.guard(scope.WebhooksWrite, h.createWebhook))
	h.mux.Handle("GET /v1/webhooks/{id}", h.guard(scope.WebhooksRead, h.getWebhook))
	h.mux.Handle("PATCH /v1/webhooks/{id}", h.guard(scope.WebhooksWrite, h.updateWebhook))
	h.mux.Handle("DELETE /v1/webhooks/{id}", h.guard(scope.WebhooksWrite, h.deleteWebhook))
	h.mux.Handle("POST /v1/webhooks/{id}/reactivate", h.guard(scope.WebhooksWrite, h.reactivateWebhook))
	h.mux.Handle("POST /v1/webhooks/{id}/test", h.guard(scope.WebhooksWrite, h.testWebhook))
	h.mux.Handle("GET /v1/webhooks/{id}/deliveries", h.guard(scope.WebhooksRead, h.listDeliveries))

	// Events
	h.mux.Handle("POST /v1/events", h.guard(scope.EventsWrite, h.dispatchEvent))
	h.mux.Handle("GET /v1/events/types", h.guard(scope.EventsRead, h.listEventTypes))

	// Audit
	h.mux.Handle("GET /v1/audit", h.guard(scope.AuditRead, h.listAudit))
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.InfoContext(r.Context(), "api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.relay.Store().Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// writeServiceError maps domain errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		credVal *credential.ValidationError
		subVal  *subscription.ValidationError
		schema  *catalog.SchemaError
	)
	switch {
	case errors.As(err, &credVal), errors.As(err, &subVal), errors.As(err, &schema):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, relay.ErrUnknownEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, relay.ErrCredentialNotFound):
		writeError(w, http.StatusNotFound, "api key not found")
	case errors.Is(err, relay.ErrSubscriptionNotFound):
		writeError(w, http.StatusNotFound, "webhook not found")
	case errors.Is(err, relay.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "delivery not found")
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a non-negative query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

// queryBool returns nil when key is absent or not a boolean.
func queryBool(r *http.Request, key string) *bool {
	b, err := strconv.ParseBool(r.URL.Query().Get(key))
	if err != nil {
		return nil
	}
	return &b
}

// pageLimit caps list sizes.
func pageLimit(r *http.Request) int {
	switch n := queryInt(r, "limit", 50); {
	case n == 0:
		return 50
	case n > 200:
		return 200
	default:
		return n
	}
}
