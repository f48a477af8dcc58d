// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth recovers from expired sessions: an unauthorized response
// triggers one session refresh and one replay of the original request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrUnauthorized is the terminal authorization failure. It is never retried.
var ErrUnauthorized = errors.New("unauthorized")

// logoutTimeout bounds the best-effort logout after a failed refresh.
const logoutTimeout = 5 * time.Second

// Session is the credential holder the interceptor drives.
type Session interface {
	Refresh(ctx context.Context) error
	Logout(ctx context.Context) error
}

// =============================================================================
// INTERCEPTOR
// =============================================================================

// Interceptor turns 401 responses into a refresh and a single replay.
type Interceptor struct {
	session Session
	logger  *zap.Logger
}

// NewInterceptor creates an interceptor for the given session.
// A nil logger disables logging.
func NewInterceptor(session Session, logger *zap.Logger) *Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interceptor{session: session, logger: logger}
}

// Guard returns a fresh per-call guard. One guard must be used for exactly
// one original request and all of its replays.
func (i *Interceptor) Guard() *Guard {
	return &Guard{interceptor: i}
}

// Do sends the request, replaying it at most once after a successful
// refresh. send must build a new request on each invocation.
func (i *Interceptor) Do(ctx context.Context, send func(context.Context) (*http.Response, error)) (*http.Response, error) {
	guard := i.Guard()
	for {
		resp, err := send(ctx)
		if err != nil {
			return nil, err
		}

		replay, err := guard.Handle(ctx, resp.StatusCode)
		if err != nil {
			drain(resp)
			return nil, err
		}
		if !replay {
			return resp, nil
		}
		drain(resp)
	}
}

// =============================================================================
// GUARD
// =============================================================================

// Guard tracks whether the current call has already spent its refresh.
type Guard struct {
	interceptor *Interceptor
	refreshed   bool
}

// Handle inspects a response status. It returns replay=true when the
// session was refreshed and the request should be sent again. Statuses
// other than 401 pass through untouched.
func (g *Guard) Handle(ctx context.Context, status int) (bool, error) {
	if status != http.StatusUnauthorized {
		return false, nil
	}

	log := g.interceptor.logger
	if g.refreshed {
		log.Warn("request unauthorized after session refresh")
		return false, fmt.Errorf("%w: still rejected after refresh", ErrUnauthorized)
	}
	g.refreshed = true

	log.Debug("refreshing session after 401")
	if err := g.interceptor.session.Refresh(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		log.Warn("session refresh failed, logging out", zap.Error(err))
		g.logout(ctx)
		return false, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	log.Debug("session refreshed, replaying request")
	return true, nil
}

// logout is best effort: failures are logged and otherwise ignored.
func (g *Guard) logout(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
	defer cancel()

	if err := g.interceptor.session.Logout(ctx); err != nil {
		g.interceptor.logger.Debug("logout failed", zap.Error(err))
	}
}

// drain discards a response body so the connection can be reused.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
}
