package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/uchakatopro-hue/friday-jarvis/internal/clock"
)

const (
	DefaultCapacity   = 100
	DefaultRefillRate = 10.0
	DefaultRetention  = time.Hour
)

type Config struct {
	Capacity   float64
	RefillRate float64 // tokens per second

	// Buckets idle for longer than Retention are dropped by Cleanup.
	Retention time.Duration

	Clock clock.Clock
}

// Limiter owns one TokenBucket per caller-supplied key. Keys are opaque.
type Limiter struct {
	cfg   Config
	clock clock.Clock

	mu sync.Mutex
	m  map[string]*TokenBucket
}

func New(cfg Config) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = DefaultRefillRate
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Limiter{
		cfg:   cfg,
		clock: clock.Or(cfg.Clock),
		m:     make(map[string]*TokenBucket),
	}
}

// KeyFromCredential derives a limiter key from a bearer credential so raw
// secrets never sit in the bucket table.
func KeyFromCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return "k_" + hex.EncodeToString(sum[:16])
}

type Decision struct {
	Allowed    bool
	RetryAfter int // seconds, only set when denied
}

// IsAllowed consumes n tokens from key's bucket.
func (l *Limiter) IsAllowed(key string, n float64) bool {
	return l.Allow(key, n).Allowed
}

func (l *Limiter) Allow(key string, n float64) Decision {
	if key == "" {
		key = "anonymous"
	}
	now := l.clock.Now()
	b := l.bucket(key, now)
	if b.Consume(now, n) {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, RetryAfter: b.retryAfter(n)}
}

// Peek reports whether key's bucket holds n tokens without consuming them.
// Keys with no bucket yet are allowed and no bucket is created.
func (l *Limiter) Peek(key string, n float64) Decision {
	l.mu.Lock()
	b, ok := l.m[key]
	l.mu.Unlock()
	if !ok {
		return Decision{Allowed: true}
	}
	if b.Available(l.clock.Now()) >= n {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, RetryAfter: b.retryAfter(n)}
}

func (l *Limiter) bucket(key string, now time.Time) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.m[key]; ok {
		return b
	}
	b := NewTokenBucket(l.cfg.Capacity, l.cfg.RefillRate, now)
	l.m[key] = b
	return b
}

// Cleanup drops buckets whose last refill is older than the retention
// window and reports how many were removed.
func (l *Limiter) Cleanup() int {
	cutoff := l.clock.Now().Add(-l.cfg.Retention)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, b := range l.m {
		if b.LastRefill().Before(cutoff) {
			delete(l.m, k)
			removed++
		}
	}
	return removed
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// Run calls Cleanup every interval until ctx is done. onSweep, if set, is
// called after each sweep with the number of removed and remaining buckets.
func (l *Limiter) Run(ctx context.Context, interval time.Duration, onSweep func(removed, remaining int)) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	tk := l.clock.NewTicker(interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			removed := l.Cleanup()
			if onSweep != nil {
				onSweep(removed, l.Len())
			}
		}
	}
}

// TokenBucket is a continuously refilling admission check. Token counts
// are fractional and always stay within [0, capacity].
type TokenBucket struct {
	mu sync.Mutex

	capacity float64
	rate     float64
	tokens   float64
	last     time.Time
}

// NewTokenBucket returns a full bucket.
func NewTokenBucket(capacity, refillRate float64, now time.Time) *TokenBucket {
	return &TokenBucket{
		capacity: capacity,
		rate:     refillRate,
		tokens:   capacity,
		last:     now,
	}
}

// Consume refills the bucket for the time elapsed since the last refill and
// then takes n tokens if enough are available. A denied call keeps the
// refilled count.
func (b *TokenBucket) Consume(now time.Time, n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)
	if n < 0 {
		n = 0
	}
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// Available refills the bucket up to now and returns the token count.
func (b *TokenBucket) Available(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	return b.tokens
}

func (b *TokenBucket) LastRefill() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		// Clock went backwards or no time passed; never rewind last.
		return
	}
	b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate)
	b.last = now
}

func (b *TokenBucket) retryAfter(n float64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rate <= 0 || n > b.capacity {
		return 1
	}
	seconds := (n - b.tokens) / b.rate
	retryAfter := int(math.Ceil(seconds))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return retryAfter
}
