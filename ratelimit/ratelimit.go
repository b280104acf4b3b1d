// Package ratelimit implements the sliding-window request limiter used by the
// content routes. State is per process: running N instances multiplies the
// effective limit by N.
package ratelimit

import (
	"sync"
	"time"
)

// Store holds the request timestamps recorded for each key.
type Store interface {
	Get(key string) []time.Time
	Set(key string, timestamps []time.Time)
	// Prune drops keys whose newest timestamp is older than cutoff.
	Prune(cutoff time.Time) int
}

// Decision is the outcome of a single check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long a rejected caller should wait before the oldest
// recorded request leaves the window.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.Before(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

type Limiter struct {
	mu        sync.Mutex
	store     Store
	now       func() time.Time
	maxWindow time.Duration
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func WithStore(store Store) Option {
	return func(l *Limiter) {
		l.store = store
	}
}

func New(opts ...Option) *Limiter {
	l := &Limiter{store: NewMemoryStore(), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CanMakeRequest reports whether key may make another request, recording it
// when allowed.
func (l *Limiter) CanMakeRequest(key string, maxRequests int, window time.Duration) bool {
	return l.Allow(key, maxRequests, window).Allowed
}

// Allow drops timestamps older than window, rejects without recording when
// maxRequests are already in the window, and otherwise records now.
func (l *Limiter) Allow(key string, maxRequests int, window time.Duration) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	if window > l.maxWindow {
		l.maxWindow = window
	}

	now := l.now()
	existing := l.store.Get(key)
	recent := make([]time.Time, 0, len(existing)+1)
	for _, ts := range existing {
		if now.Sub(ts) < window {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= maxRequests {
		l.store.Set(key, recent)
		return Decision{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   resetAt(recent, now, window),
		}
	}

	recent = append(recent, now)
	l.store.Set(key, recent)
	return Decision{
		Allowed:   true,
		Remaining: maxRequests - len(recent),
		ResetAt:   resetAt(recent, now, window),
	}
}

// Prune forgets keys with no timestamps inside the longest window seen so far.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.maxWindow == 0 {
		return 0
	}
	return l.store.Prune(l.now().Add(-l.maxWindow))
}

func resetAt(timestamps []time.Time, now time.Time, window time.Duration) time.Time {
	if len(timestamps) == 0 {
		return now.Add(window)
	}
	return timestamps[0].Add(window)
}
