// Package ratelimit enforces per-credential request ceilings over a sliding
// window.
//
// Each allowed request is recorded as an event with its timestamp. A request
// is allowed while fewer than limit events fall inside the trailing window.
// Denied requests are not recorded, so a client hammering a closed window
// does not extend its own lockout.
package ratelimit

import (
	"context"
	"time"
)

// DefaultWindow is the accounting window for credential rate limits.
const DefaultWindow = time.Hour

// Result is the outcome of a rate-limit check. A denied request is a normal
// result, not an error.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// RetryAfter returns how long a denied caller should wait, rounded up to
// whole seconds.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return d.Truncate(time.Second) + time.Second
}

// Window describes the events currently inside a key's window.
// Oldest is zero when Count is zero.
type Window struct {
	Count  int
	Oldest time.Time
}

// Store holds per-key event timestamps. Implementations must make Hit atomic
// with respect to concurrent Hits on the same key.
type Store interface {
	// Hit discards events at or before now-window, then records an event at
	// now if fewer than limit remain. It reports the resulting window and
	// whether the event was recorded.
	Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Window, bool, error)

	// Count reports the window without recording an event.
	Count(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error)
}

// Limiter evaluates sliding-window limits against a Store.
type Limiter struct {
	store  Store
	window time.Duration
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Limiter over store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Window returns the accounting window.
func (l *Limiter) Window() time.Duration { return l.window }

// Take checks key against limit and, when allowed, records the request.
// A non-positive limit denies every request; callers wanting no effective
// ceiling must pass a large number.
func (l *Limiter) Take(ctx context.Context, key string, limit int) (Result, error) {
	now := l.now().UTC()
	if limit <= 0 {
		return l.peekAt(ctx, key, limit, now)
	}

	w, recorded, err := l.store.Hit(ctx, key, now, l.window, limit)
	if err != nil {
		return Result{}, err
	}
	return l.result(w, recorded, limit, now), nil
}

// Peek reports the state for key without recording a request.
func (l *Limiter) Peek(ctx context.Context, key string, limit int) (Result, error) {
	return l.peekAt(ctx, key, limit, l.now().UTC())
}

func (l *Limiter) peekAt(ctx context.Context, key string, limit int, now time.Time) (Result, error) {
	w, err := l.store.Count(ctx, key, now, l.window)
	if err != nil {
		return Result{}, err
	}
	return l.result(w, limit > 0 && w.Count < limit, limit, now), nil
}

func (l *Limiter) result(w Window, allowed bool, limit int, now time.Time) Result {
	remaining := limit - w.Count
	if remaining < 0 || limit <= 0 {
		remaining = 0
	}

	reset := now.Add(l.window)
	if w.Count > 0 && !w.Oldest.IsZero() {
		reset = w.Oldest.Add(l.window)
	}

	return Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   reset.UTC(),
	}
}
