package application

import (
	"math"
	"sync"
	"time"
)

// Default abuse-protection policy.
const (
	DefaultRateLimitAttempts = 5
	DefaultRateLimitWindow   = 60 * time.Second
)

// sweepThreshold bounds how many windows accumulate before expired ones are
// pruned during Check.
const sweepThreshold = 10_000

// RateDecision is the outcome of a rate-limit check.
type RateDecision struct {
	Allowed           bool
	RetryAfterSeconds int
}

// AttemptLimiter is the limiter contract the vault depends on. RateLimiter
// is process-local; a shared-store implementation would be needed to honor
// limits across several instances.
type AttemptLimiter interface {
	Check(key string) RateDecision
	Reset(key string)
}

// RateKey builds the limiter key for a user and operation class.
func RateKey(userID, operation string) string {
	return userID + ":" + operation
}

// Compile-time interface satisfaction check.
var _ AttemptLimiter = (*RateLimiter)(nil)

type rateWindow struct {
	count   int
	resetAt time.Time
}

// RateLimiter is an in-memory fixed-window attempt counter. Windows reset
// lazily on the first check after expiry; there is no background sweeper.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow

	limit  int
	window time.Duration

	now func() time.Time
}

// NewRateLimiter returns a limiter allowing limit attempts per window per key.
// Non-positive arguments fall back to the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimitAttempts
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &RateLimiter{
		windows: make(map[string]*rateWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Check records an attempt for key and reports whether it is allowed. A
// denied attempt does not extend the window.
func (l *RateLimiter) Check(key string) RateDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.windows) > sweepThreshold {
		l.sweep(now)
	}

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &rateWindow{resetAt: now.Add(l.window)}
		l.windows[key] = w
	}

	if w.count >= l.limit {
		retry := int(math.Ceil(w.resetAt.Sub(now).Seconds()))
		if retry < 1 {
			retry = 1
		}
		return RateDecision{RetryAfterSeconds: retry}
	}

	w.count++
	return RateDecision{Allowed: true}
}

// Reset clears the counter for key.
func (l *RateLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// sweep drops expired windows. Caller must hold l.mu.
func (l *RateLimiter) sweep(now time.Time) {
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}
