package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// LocalLimiter is an in-process token bucket for single-replica deployments
// that run without Redis.
type LocalLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]*localBucket
}

type localBucket struct {
	tokens float64
	ts     time.Time
}

func NewLocalLimiter(now func() time.Time) *LocalLimiter {
	if now == nil {
		now = time.Now
	}
	return &LocalLimiter{now: now, buckets: make(map[string]*localBucket)}
}

func (l *LocalLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	scope, subject = normalize(scope, subject)
	key := scope + ":" + sha256Hex(subject)

	ratePerSec := float64(bucket.RequestsPerMinute) / 60.0
	capacity := float64(bucket.BurstSize)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{tokens: capacity, ts: now}
		l.buckets[key] = b
	}
	if now.Before(b.ts) {
		b.ts = now
	}
	b.tokens = math.Min(capacity, b.tokens+now.Sub(b.ts).Seconds()*ratePerSec)
	b.ts = now

	if b.tokens >= 1 {
		b.tokens--
		return Decision{Allowed: true}, nil
	}
	retry := math.Ceil((1 - b.tokens) / ratePerSec)
	if retry < 1 {
		retry = 1
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(retry) * time.Second}, nil
}
