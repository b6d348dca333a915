// Package ratelimit tracks per-source hourly request quotas.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultLimit is the hourly quota applied when a source has no explicit limit.
const DefaultLimit = 100

// bucketLayout renders wall-clock hour buckets, e.g. "2025083114".
const bucketLayout = "2006010215"

type counterKey struct {
	source string
	bucket string
}

// HourlyLimiter counts permitted attempts per (source, wall-clock hour).
// A new hour implicitly starts a fresh count, no reset job required.
// Safe for concurrent use.
type HourlyLimiter struct {
	mu     sync.Mutex
	counts map[counterKey]int
	now    func() time.Time
}

// Option configures a HourlyLimiter during construction.
type Option func(*HourlyLimiter)

// WithClock supplies a deterministic clock, primarily for testing.
func WithClock(now func() time.Time) Option {
	return func(l *HourlyLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a HourlyLimiter.
func New(opts ...Option) *HourlyLimiter {
	l := &HourlyLimiter{
		counts: make(map[counterKey]int),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Allow reports whether source may make another request this hour and, when
// permitted, consumes one unit of its quota. At or over the limit it refuses
// without incrementing.
func (l *HourlyLimiter) Allow(source string, limit int) bool {
	if limit <= 0 {
		limit = DefaultLimit
	}

	bucket := l.now().Format(bucketLayout)

	l.mu.Lock()
	defer l.mu.Unlock()

	// drop counters from rolled-over hours so the map stays bounded
	for k := range l.counts {
		if k.bucket != bucket {
			delete(l.counts, k)
		}
	}

	key := counterKey{source: source, bucket: bucket}
	if l.counts[key] >= limit {
		return false
	}

	l.counts[key]++
	return true
}
