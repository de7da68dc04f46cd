// Package ratelimit implements the sliding-window permit counter used to
// throttle event submissions per connection.
//
// The window is exact, not approximated: each key's bucket keeps the ordered
// admission timestamps and prunes everything older than the window on every
// call, so admitting k requests always spans at least floor((k-1)/N) * W.
// Token-bucket/GCRA limiters produce a different admission schedule, which
// is why the algorithm is implemented directly rather than via a library.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/collabgateway/gateway/internal/v1/logging"
	"github.com/collabgateway/gateway/internal/v1/metrics"
	"go.uber.org/zap"
)

// Config describes a sliding window: at most Limit admissions in any Window.
type Config struct {
	Limit  int
	Window time.Duration
}

// bucket holds the ordered admission timestamps for one key. Timestamps are
// always appended in non-decreasing order, so pruning is a simple prefix
// trim.
type bucket struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// allow evaluates and, if admitted, records one admission at now.
func (b *bucket) allow(now time.Time, cfg Config) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune(now, cfg.Window)
	if len(b.timestamps) < cfg.Limit {
		b.timestamps = append(b.timestamps, now)
		return true
	}
	return false
}

func (b *bucket) remaining(now time.Time, cfg Config) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune(now, cfg.Window)
	remaining := cfg.Limit - len(b.timestamps)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (b *bucket) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timestamps = nil
}

// prune drops every timestamp at or before the cutoff. Must be called with
// b.mu held.
func (b *bucket) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(b.timestamps) && !b.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.timestamps = b.timestamps[i:]
	}
}

// Limiter is a sliding-window permit counter sharded by key. Each key's
// bucket is serialized by its own mutex so the decide-and-append step is
// atomic per key; the top-level map lock only guards bucket creation.
type Limiter struct {
	cfg     Config
	label   string // metrics label, e.g. "ws_connection"
	mu      sync.Mutex
	buckets map[string]*bucket

	now func() time.Time
}

// NewLimiter builds a sliding-window limiter for the given configuration.
// label is used purely for metrics attribution.
func NewLimiter(cfg Config, label string) *Limiter {
	return &Limiter{
		cfg:     cfg,
		label:   label,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{}
		l.buckets[key] = b
	}
	return b
}

// Allow reports whether an admission for key is permitted right now. On
// admission, it appends the current timestamp to key's window; on denial,
// the window is left unchanged.
func (l *Limiter) Allow(key string) bool {
	allowed := l.bucketFor(key).allow(l.now(), l.cfg)

	metrics.RateLimitRequests.WithLabelValues(l.label).Inc()
	if !allowed {
		metrics.RateLimitExceeded.WithLabelValues(l.label, "window_exceeded").Inc()
	}
	return allowed
}

// GetRemaining returns the number of admissions still available for key in
// the current window.
func (l *Limiter) GetRemaining(key string) int {
	return l.bucketFor(key).remaining(l.now(), l.cfg)
}

// Reset clears key's window entirely.
func (l *Limiter) Reset(key string) {
	l.bucketFor(key).reset()
}

// CheckWebSocketEvent is the entry point the gateway calls on every inbound
// frame: ctx carries correlation fields for logging, key is typically the
// connection's socketId. A false return means the frame must be dropped and
// answered with RATE_LIMIT_EXCEEDED.
func (l *Limiter) CheckWebSocketEvent(ctx context.Context, key string) bool {
	allowed := l.Allow(key)
	if !allowed {
		logging.Warn(ctx, "rate limit exceeded", zap.String("key", key), zap.String("limiter", l.label))
	}
	return allowed
}
