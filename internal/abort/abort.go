// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package abort merges a caller's cancellation with an internal request
// timeout and remembers which of the two fired.
package abort

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultTimeout is the internal budget for one request.
const DefaultTimeout = 120 * time.Second

var (
	// ErrTimeout is the cancellation cause when the internal budget elapses.
	ErrTimeout = errors.New("request timed out")

	errReleased = errors.New("scope released")
)

// Cause describes why a scope's context ended.
type Cause int

const (
	// CauseNone means the context has not been cancelled, or was only
	// released by Cleanup.
	CauseNone Cause = iota
	// CauseExternal means the caller's context was cancelled.
	CauseExternal
	// CauseTimeout means only the internal timeout elapsed.
	CauseTimeout
)

// String returns the cause name.
func (c Cause) String() string {
	switch c {
	case CauseExternal:
		return "external"
	case CauseTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// Scope owns the effective context of one request.
type Scope struct {
	parent context.Context
	ctx    context.Context
	cancel context.CancelCauseFunc
	timer  *time.Timer
	once   sync.Once
}

// Compose derives a scope from parent that is also cancelled after timeout.
// A non-positive timeout uses DefaultTimeout. Cleanup must be called on
// every exit path.
func Compose(parent context.Context, timeout time.Duration) *Scope {
	if parent == nil {
		parent = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithCancelCause(parent)
	s := &Scope{parent: parent, ctx: ctx, cancel: cancel}
	s.timer = time.AfterFunc(timeout, func() { cancel(ErrTimeout) })
	return s
}

// Context returns the effective context.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Cleanup stops the timer and releases the context. It is safe to call
// more than once.
func (s *Scope) Cleanup() {
	s.once.Do(func() {
		s.timer.Stop()
		s.cancel(errReleased)
	})
}

// Cause reports why the context ended. If the caller's context was
// cancelled it wins, even when the timeout also fired.
func (s *Scope) Cause() Cause {
	if s.parent.Err() != nil {
		return CauseExternal
	}
	if errors.Is(context.Cause(s.ctx), ErrTimeout) {
		return CauseTimeout
	}
	return CauseNone
}
