// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retry wraps a single idempotent HTTP call with bounded
// exponential backoff and jitter.
package retry

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"slices"
	"time"
)

// =============================================================================
// POLICY
// =============================================================================

// Default policy values.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 3 * time.Second
	DefaultJitter      = 200 * time.Millisecond
)

// DefaultRetryableStatuses are the statuses worth another attempt.
var DefaultRetryableStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Policy configures how many times and how long to wait between attempts.
type Policy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Jitter            time.Duration
	RetryableStatuses []int

	// Observer, if set, is told about every retry before the wait.
	Observer Observer
}

// Observer receives a notification before each backoff wait.
// status is 0 when the attempt failed with a transport error.
type Observer interface {
	OnRetry(attempt, status int, err error, delay time.Duration)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(attempt, status int, err error, delay time.Duration)

// OnRetry calls f.
func (f ObserverFunc) OnRetry(attempt, status int, err error, delay time.Duration) {
	f(attempt, status, err, delay)
}

// DefaultPolicy returns the standard policy: 3 attempts, 1s base delay
// capped at 3s, and up to 200ms of jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       DefaultMaxAttempts,
		BaseDelay:         DefaultBaseDelay,
		MaxDelay:          DefaultMaxDelay,
		Jitter:            DefaultJitter,
		RetryableStatuses: slices.Clone(DefaultRetryableStatuses),
	}
}

// normalized fills zero values from the defaults.
func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.RetryableStatuses == nil {
		p.RetryableStatuses = DefaultRetryableStatuses
	}
	return p
}

// Retryable reports whether a response with this status should be retried.
func (p Policy) Retryable(status int) bool {
	statuses := p.RetryableStatuses
	if statuses == nil {
		statuses = DefaultRetryableStatuses
	}
	return slices.Contains(statuses, status)
}

// Backoff returns the wait before the next attempt after n failed attempts:
// min(BaseDelay*2^n, MaxDelay) plus a random jitter in [0, Jitter).
func (p Policy) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	delay := p.MaxDelay
	// Past 2^30 the shift overflows any realistic base delay.
	if n < 30 {
		if d := p.BaseDelay * time.Duration(1<<uint(n)); d < p.MaxDelay && d >= 0 {
			delay = d
		}
	}
	if p.Jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(p.Jitter)))
	}
	return delay
}

// =============================================================================
// EXECUTION
// =============================================================================

// Call performs one attempt of the wrapped request.
type Call func(ctx context.Context) (*http.Response, error)

// Do runs call up to MaxAttempts times.
//
// A response whose status is not retryable is returned immediately, whether
// it is a success or not; the caller decides what to do with it. Transport
// errors are always retried. When attempts run out, the last response (body
// intact) or the last error is returned unchanged. Responses that are
// retried are drained and closed.
func Do(ctx context.Context, p Policy, call Call) (*http.Response, error) {
	p = p.normalized()

	for attempt := 1; ; attempt++ {
		resp, err := call(ctx)
		if err == nil && resp != nil && !p.Retryable(resp.StatusCode) {
			return resp, nil
		}
		if attempt >= p.MaxAttempts {
			return resp, err
		}
		if ctx.Err() != nil {
			discard(resp)
			return nil, ctx.Err()
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		delay := p.Backoff(attempt)
		if p.Observer != nil {
			p.Observer.OnRetry(attempt, status, err, delay)
		}

		discard(resp)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// maxDrain bounds how much of a discarded body is read to allow connection reuse.
const maxDrain = 64 * 1024

// discard drains and closes a response that will not be returned.
func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, resp.Body, maxDrain)
	resp.Body.Close()
}
