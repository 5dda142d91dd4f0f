package api

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ipflow/relay"
	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/ratelimit"
)

// Rate-limit response headers.
const (
	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
	HeaderAPIKey        = "X-API-Key"
)

type principalKey struct{}

// PrincipalFrom returns the authenticated principal stored by the gateway.
func PrincipalFrom(ctx context.Context) (*credential.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*credential.Principal)
	return p, ok && p != nil
}

// guard authenticates the request, charges it to the key's hourly window,
// checks scope required, then calls next with the principal attached.
func (h *Handler) guard(required string, next func(http.ResponseWriter, *http.Request, *credential.Principal)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		raw := bearerKey(r)
		if raw == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ipflow"`)
			writeError(w, http.StatusUnauthorized, "missing api key")
			return
		}

		p, err := h.relay.Authenticate(ctx, raw)
		if err != nil {
			if errors.Is(err, relay.ErrInvalidCredential) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="ipflow", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			h.writeServiceError(w, r, err)
			return
		}

		res, err := h.relay.CheckRateLimit(ctx, p.CredentialID.String(), p.RateLimit)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		setRateHeaders(w, res)
		if !res.Allowed {
			secs := int(math.Ceil(res.RetryAfter(time.Now()).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		if err := h.relay.Require(p, required); err != nil {
			writeError(w, http.StatusForbidden, "missing scope "+required)
			return
		}

		next(w, r.WithContext(context.WithValue(ctx, principalKey{}, p)), p)
	})
}

// bearerKey reads the key from "Authorization: Bearer ..." or X-API-Key.
func bearerKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get(HeaderAPIKey))
}

func setRateHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set(HeaderRateLimit, strconv.Itoa(res.Limit))
	w.Header().Set(HeaderRateRemaining, strconv.Itoa(res.Remaining))
	w.Header().Set(HeaderRateReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// ipThrottle is a coarse per-client token bucket in front of key
// management, independent of per-key accounting. A nil throttle passes
// everything.
type ipThrottle struct {
	limit   rate.Limit
	burst   int
	idle    time.Duration
	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPThrottle(requestsPerMinute int) *ipThrottle {
	if requestsPerMinute <= 0 {
		return nil
	}
	return &ipThrottle{
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   max(requestsPerMinute/10, 1),
		idle:    5 * time.Minute,
		clients: make(map[string]*clientLimiter),
	}
}

func (t *ipThrottle) wrap(next http.Handler) http.Handler {
	if t == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.get(clientIP(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *ipThrottle) get(key string) *rate.Limiter {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.clients[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	limiter := rate.NewLimiter(t.limit, t.burst)
	t.clients[key] = &clientLimiter{limiter: limiter, lastSeen: now}
	for k, entry := range t.clients {
		if now.Sub(entry.lastSeen) > t.idle {
			delete(t.clients, k)
		}
	}
	return limiter
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
