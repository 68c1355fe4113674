// Package ratelimit is the "rate-limiter store" collaborator named in
// spec.md §5 ("Rate-limiter store ... a mutex-guarded map of fixed-window
// counters"): a small, host-side fixed-window limiter exposed to VM
// programs as the rate_limit_allow host function, never reaching into VM
// internals (it only ever sees the args HostFunction.Call hands it).
package ratelimit

import (
	"sync"
	"time"
)

// window is one fixed-window counter for a single key.
type window struct {
	start time.Time
	count int64
}

// Limiter is a mutex-guarded map of fixed-window counters, one per
// rate-limit key (e.g. an `x-client-id` header value). A zero Limiter is
// not usable; construct one with New.
type Limiter struct {
	mu      sync.Mutex
	limit   int64
	period  time.Duration
	windows map[string]*window
	now     func() time.Time
}

// New returns a Limiter allowing at most limit calls per period for any
// one key, resetting the window the first time a call lands after period
// has elapsed since the window opened.
func New(limit int64, period time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		period:  period,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow reports whether key may proceed, incrementing its counter as a
// side effect whether or not the call is allowed (a rejected call still
// counts against the window, matching a standard fixed-window limiter).
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.period {
		w = &window{start: now}
		l.windows[key] = w
	}
	w.count++
	return w.count <= l.limit
}

// Reset clears every tracked key, mainly useful for tests that want a
// clean limiter without constructing a new one.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*window)
}
