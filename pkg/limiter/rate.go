package limiter

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

/*
TokenLimiter

Specialized component to pace requests per domain during crawling.
Responsibilities:
- Keep one token bucket per domain, created full on first sight
- Answer TryConsume without blocking and without a central lock
- Expire buckets for domains that have gone quiet

Buckets live in a sync.Map so token decisions for unrelated domains never
serialize behind each other. The bucket itself is x/time/rate's limiter:
tokens refill lazily on access as min(capacity, tokens + elapsed*rate).
*/

// Policy describes a bucket: refill rate in tokens per second and capacity.
type Policy struct {
	Rate     float64
	Capacity int
}

// DefaultPolicy applies to domains first seen without a caller-supplied
// policy or override.
var DefaultPolicy = Policy{Rate: 1.0, Capacity: 10}

func (p Policy) valid() bool {
	return p.Rate > 0 && p.Capacity >= 1
}

type bucket struct {
	lim *rate.Limiter
	// unix nanos of the last TryConsume; housekeeping evicts stale buckets
	lastAccess atomic.Int64
}

type TokenLimiter struct {
	buckets sync.Map // domain -> *bucket

	mu        sync.RWMutex
	overrides map[string]Policy
}

func NewTokenLimiter() *TokenLimiter {
	return &TokenLimiter{
		overrides: make(map[string]Policy),
	}
}

// TryConsume attempts to deduct one token from the domain's bucket,
// refilling lazily first. On first sight of a domain a full bucket is
// created from the override for that domain, the caller's policy, or
// DefaultPolicy, in that order. Never blocks.
func (l *TokenLimiter) TryConsume(domain string, p Policy) bool {
	b := l.bucketFor(domain, p)
	b.lastAccess.Store(time.Now().UnixNano())
	return b.lim.Allow()
}

func (l *TokenLimiter) bucketFor(domain string, p Policy) *bucket {
	if existing, ok := l.buckets.Load(domain); ok {
		return existing.(*bucket)
	}

	l.mu.RLock()
	override, hasOverride := l.overrides[domain]
	l.mu.RUnlock()
	switch {
	case hasOverride:
		p = override
	case !p.valid():
		p = DefaultPolicy
	}

	fresh := &bucket{lim: rate.NewLimiter(rate.Limit(p.Rate), p.Capacity)}
	actual, _ := l.buckets.LoadOrStore(domain, fresh)
	return actual.(*bucket)
}

// SetOverride pins a policy for one domain. An existing bucket is replaced
// so the next consume sees the new rate with a full bucket.
func (l *TokenLimiter) SetOverride(domain string, p Policy) {
	if !p.valid() {
		return
	}
	l.mu.Lock()
	l.overrides[domain] = p
	l.mu.Unlock()
	l.buckets.Delete(domain)
}

// Sweep removes buckets that have not been consulted for at least maxIdle
// and returns how many were dropped.
func (l *TokenLimiter) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle).UnixNano()
	removed := 0
	l.buckets.Range(func(key, value any) bool {
		if value.(*bucket).lastAccess.Load() <= cutoff {
			l.buckets.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// StartJanitor sweeps on the given interval until the returned stop
// function is called. Buckets idle longer than maxIdle are evicted.
func (l *TokenLimiter) StartJanitor(interval, maxIdle time.Duration) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep(maxIdle)
			case <-done:
				return
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// Len reports the number of live buckets.
func (l *TokenLimiter) Len() int {
	n := 0
	l.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
