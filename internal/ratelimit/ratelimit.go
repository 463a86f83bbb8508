// Package ratelimit provides in-process token-bucket rate limiting for
// the read API's per-IP request ceiling (RATE_LIMIT_PER_MINUTE/PER_HOUR).
// Generalized into a two-window (minute and hour) limiter with a
// whitelist. The NVD source client does not use it; it limits itself
// with golang.org/x/time/rate.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a single fixed-capacity, steadily-refilling bucket.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewTokenBucket creates a bucket holding maxTokens, refilled by one
// token every refillInterval.
func NewTokenBucket(maxTokens int, refillInterval time.Duration) *TokenBucket {
	if maxTokens <= 0 || refillInterval <= 0 {
		return &TokenBucket{tokens: 1, maxTokens: 1, refillRate: time.Second, lastRefill: time.Now()}
	}
	return &TokenBucket{tokens: maxTokens, maxTokens: maxTokens, refillRate: refillInterval, lastRefill: time.Now()}
}

// AllowWithRemaining reports whether a request may proceed and, either
// way, how many tokens remain in the bucket after the decision.
func (tb *TokenBucket) AllowWithRemaining() (allowed bool, remaining int, retryAfter time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(tb.lastRefill); elapsed >= tb.refillRate {
		tokensToAdd := int(elapsed / tb.refillRate)
		tb.tokens += tokensToAdd
		if tb.tokens > tb.maxTokens {
			tb.tokens = tb.maxTokens
		}
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true, tb.tokens, 0
	}

	retryAfter = tb.refillRate - now.Sub(tb.lastRefill)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, 0, retryAfter
}

// Decision is the outcome of checking a client against both windows.
type Decision struct {
	Allowed           bool
	RemainingMinute   int
	RemainingHour     int
	RetryAfterSeconds int
}

// ClientLimiter enforces a per-minute and a per-hour ceiling per client
// key (typically a remote IP), with an exempt whitelist.
type ClientLimiter struct {
	mu         sync.RWMutex
	minute     map[string]*TokenBucket
	hour       map[string]*TokenBucket
	lastAccess map[string]time.Time
	perMinute  int
	perHour    int
	whitelist  map[string]struct{}
}

// NewClientLimiter builds a limiter from the configured per-minute and
// per-hour ceilings and an optional whitelist of exempt client keys.
func NewClientLimiter(perMinute, perHour int, whitelist []string) *ClientLimiter {
	wl := make(map[string]struct{}, len(whitelist))
	for _, w := range whitelist {
		wl[w] = struct{}{}
	}
	return &ClientLimiter{
		minute:     make(map[string]*TokenBucket),
		hour:       make(map[string]*TokenBucket),
		lastAccess: make(map[string]time.Time),
		perMinute:  perMinute,
		perHour:    perHour,
		whitelist:  wl,
	}
}

// Allow checks clientKey against both windows, returning the combined
// decision. Each window is a token bucket, not a fixed-window counter:
// the minute bucket holds perMinute tokens and regains one every
// minute/perMinute. With RATE_LIMIT_PER_MINUTE=60, a burst of 61
// requests has its 61st rejected, and RetryAfterSeconds is the time
// until the next token (1-2 seconds), not the rest of the minute; a
// request succeeds again as soon as one token has refilled.
func (cl *ClientLimiter) Allow(clientKey string) Decision {
	if _, exempt := cl.whitelist[clientKey]; exempt {
		return Decision{Allowed: true, RemainingMinute: cl.perMinute, RemainingHour: cl.perHour}
	}

	minuteBucket := cl.bucketFor(cl.minute, clientKey, cl.perMinute, time.Minute)
	hourBucket := cl.bucketFor(cl.hour, clientKey, cl.perHour, time.Hour)

	cl.mu.Lock()
	cl.lastAccess[clientKey] = time.Now()
	cl.mu.Unlock()

	minuteOK, minuteRemaining, minuteRetry := minuteBucket.AllowWithRemaining()
	hourOK, hourRemaining, hourRetry := hourBucket.AllowWithRemaining()

	retry := minuteRetry
	if !hourOK && hourRetry > retry {
		retry = hourRetry
	}

	return Decision{
		Allowed:           minuteOK && hourOK,
		RemainingMinute:   minuteRemaining,
		RemainingHour:     hourRemaining,
		RetryAfterSeconds: int(retry.Seconds()) + 1,
	}
}

func (cl *ClientLimiter) bucketFor(set map[string]*TokenBucket, key string, capacity int, window time.Duration) *TokenBucket {
	cl.mu.RLock()
	b, ok := set[key]
	cl.mu.RUnlock()
	if ok {
		return b
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	if b, ok = set[key]; ok {
		return b
	}
	b = NewTokenBucket(capacity, window/time.Duration(capacity))
	set[key] = b
	return b
}

// Cleanup evicts buckets for clients idle longer than maxAge.
func (cl *ClientLimiter) Cleanup(maxAge time.Duration) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	for key, last := range cl.lastAccess {
		if now.Sub(last) > maxAge {
			delete(cl.minute, key)
			delete(cl.hour, key)
			delete(cl.lastAccess, key)
		}
	}
}
