package providers

import (
	"sync"
	"time"
)

// RateLimiter interface for rate limiting calls to external services.
type RateLimiter interface {
	Allow(key string) bool
	Reset(key string)
}

// TokenBucketLimiter implements token bucket rate limiting. The batch sweep
// uses it to keep bulk summarization under the completion service's quota;
// the real-time path is bounded by the per-session lock and never limited
// here.
type TokenBucketLimiter struct {
	buckets  map[string]*tokenBucket
	rate     int           // tokens per interval
	capacity int           // max tokens
	interval time.Duration // refill interval
	mu       sync.RWMutex
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucketLimiter creates a limiter refilling rate tokens per minute up
// to capacity.
func NewTokenBucketLimiter(rate, capacity int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		buckets:  make(map[string]*tokenBucket),
		rate:     rate,
		capacity: capacity,
		interval: time.Minute,
	}
}

// Allow checks if a call is allowed and consumes a token if so.
func (l *TokenBucketLimiter) Allow(key string) bool {
	bucket := l.getOrCreateBucket(key)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(bucket.lastRefill)
	tokensToAdd := int(elapsed/l.interval) * l.rate

	if tokensToAdd > 0 {
		bucket.tokens = min(bucket.tokens+tokensToAdd, l.capacity)
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}

	return false
}

// Reset resets the rate limit for a key.
func (l *TokenBucketLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.buckets, key)
}

func (l *TokenBucketLimiter) getOrCreateBucket(key string) *tokenBucket {
	l.mu.RLock()
	bucket, exists := l.buckets[key]
	l.mu.RUnlock()

	if exists {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if bucket, exists := l.buckets[key]; exists {
		return bucket
	}

	bucket = &tokenBucket{
		tokens:     l.capacity,
		lastRefill: time.Now(),
	}
	l.buckets[key] = bucket
	return bucket
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
