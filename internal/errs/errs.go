// Package errs implements the seven-level error taxonomy and the
// backoff/jitter arithmetic source clients and the scheduler use when
// deciding whether and how long to wait before retrying a failed page
// or job.
//
// The exponential-backoff-with-jitter formula is generalized
// from a single hard-coded CVE-fetch retry loop into a reusable
// classifier any source client or the scheduler can call.
package errs

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Class is one of the seven propagation categories
type Class int

const (
	TransientUpstream Class = iota
	PermanentUpstream
	Validation
	NotFound
	StorageTransient
	StoragePermanent
	InternalInvariant
)

func (c Class) String() string {
	switch c {
	case TransientUpstream:
		return "transient_upstream"
	case PermanentUpstream:
		return "permanent_upstream"
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case StorageTransient:
		return "storage_transient"
	case StoragePermanent:
		return "storage_permanent"
	case InternalInvariant:
		return "internal_invariant"
	default:
		return "unknown"
	}
}

// Retryable reports whether the propagation policy permits a retry loop
// to keep trying after an error of this class.
func (c Class) Retryable() bool {
	return c == TransientUpstream || c == StorageTransient
}

// UpstreamError wraps a classified failure from an external source,
// carrying the HTTP status (if any) and an optional Retry-After hint.
type UpstreamError struct {
	Class      Class
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return e.Class.String() + ": " + e.Err.Error()
	}
	return e.Class.String()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ClassifyHTTP maps an HTTP response status (and transport error, if the
// request never completed) onto the taxonomy
func ClassifyHTTP(status int, transportErr error, retryAfter time.Duration) *UpstreamError {
	if transportErr != nil {
		return &UpstreamError{Class: TransientUpstream, Err: transportErr}
	}
	switch {
	case status == http.StatusTooManyRequests:
		return &UpstreamError{Class: TransientUpstream, StatusCode: status, RetryAfter: retryAfter,
			Err: errors.New("rate limited")}
	case status >= 500:
		return &UpstreamError{Class: TransientUpstream, StatusCode: status, Err: errors.New("upstream server error")}
	case status >= 400:
		return &UpstreamError{Class: PermanentUpstream, StatusCode: status, Err: errors.New("upstream rejected request")}
	default:
		return nil
	}
}

// Backoff computes the exponential-backoff-with-jitter delay for
// the given retry attempt (0-indexed), honoring an upstream Retry-After
// hint when present. The exponential curve is the
// baseDelay*factor^attempt formula (capped at maxDelay); the result is
// half that delay plus a random jitter of up to the other half, so it
// lies between delay/2 and delay and many workers backing off on the
// same source don't retry in lockstep.
func Backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	const (
		baseDelay     = 500 * time.Millisecond
		maxDelay      = 60 * time.Second
		backoffFactor = 2.0
	)
	delay := time.Duration(float64(baseDelay) * math.Pow(backoffFactor, float64(attempt)))
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay/2 + jitter
}

// MaxAttempts is the retry cap for a single page fetch.
const MaxAttempts = 5

// Wait sleeps for the computed backoff or returns ctx.Err() if the
// context is cancelled first — the one suspension point retry loops
// yield at
func Wait(ctx context.Context, attempt int, retryAfter time.Duration) error {
	d := Backoff(attempt, retryAfter)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
