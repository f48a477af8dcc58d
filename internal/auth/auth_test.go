// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSession records refresh and logout calls.
type fakeSession struct {
	refreshErr error
	logoutErr  error
	refreshes  int
	logouts    int
}

func (s *fakeSession) Refresh(ctx context.Context) error {
	s.refreshes++
	return s.refreshErr
}

func (s *fakeSession) Logout(ctx context.Context) error {
	s.logouts++
	return s.logoutErr
}

func respond(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

// sequence returns a send func that yields the given statuses in order.
func sequence(statuses ...int) (func(context.Context) (*http.Response, error), *int) {
	calls := 0
	return func(ctx context.Context) (*http.Response, error) {
		status := statuses[calls]
		calls++
		return respond(status, "attempt"), nil
	}, &calls
}

// =============================================================================
// GUARD
// =============================================================================

func TestGuard_PassesThroughNon401(t *testing.T) {
	sess := &fakeSession{}
	g := NewInterceptor(sess, nil).Guard()

	for _, status := range []int{200, 403, 429, 500} {
		replay, err := g.Handle(context.Background(), status)
		assert.False(t, replay)
		assert.NoError(t, err)
	}
	assert.Zero(t, sess.refreshes)
}

func TestGuard_OneRefreshPerCall(t *testing.T) {
	sess := &fakeSession{}
	g := NewInterceptor(sess, zap.NewNop()).Guard()

	replay, err := g.Handle(context.Background(), http.StatusUnauthorized)
	require.NoError(t, err)
	assert.True(t, replay)
	assert.True(t, g.refreshed)

	replay, err = g.Handle(context.Background(), http.StatusUnauthorized)
	assert.False(t, replay)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, sess.refreshes)
	assert.Zero(t, sess.logouts)
}

func TestGuard_RefreshFailureLogsOutOnce(t *testing.T) {
	sess := &fakeSession{refreshErr: errors.New("refresh rejected"), logoutErr: errors.New("offline")}
	g := NewInterceptor(sess, nil).Guard()

	replay, err := g.Handle(context.Background(), http.StatusUnauthorized)
	assert.False(t, replay)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, sess.refreshErr)
	assert.Equal(t, 1, sess.logouts)
}

func TestGuard_CancelledRefreshIsNotAuthFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sess := &fakeSession{refreshErr: context.Canceled}

	_, err := NewInterceptor(sess, nil).Guard().Handle(ctx, http.StatusUnauthorized)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, sess.logouts)
}

// =============================================================================
// DO
// =============================================================================

func TestDo_ReplayAfterRefreshReturnsReplayBody(t *testing.T) {
	sess := &fakeSession{}
	send, calls := sequence(401, 200)

	resp, err := NewInterceptor(sess, nil).Do(context.Background(), send)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, *calls)
	assert.Equal(t, 1, sess.refreshes)
}

func TestDo_Persistent401IsBounded(t *testing.T) {
	sess := &fakeSession{}
	send, calls := sequence(401, 401, 401, 401)

	resp, err := NewInterceptor(sess, nil).Do(context.Background(), send)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 2, *calls)
	assert.Equal(t, 1, sess.refreshes)
}

func TestDo_FailedRefreshSurfacesUnauthorized(t *testing.T) {
	sess := &fakeSession{refreshErr: errors.New("expired")}
	send, calls := sequence(401, 200)

	_, err := NewInterceptor(sess, nil).Do(context.Background(), send)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, 1, sess.logouts)
}

func TestDo_TransportErrorPropagates(t *testing.T) {
	boom := errors.New("network down")
	_, err := NewInterceptor(&fakeSession{}, nil).Do(context.Background(), func(context.Context) (*http.Response, error) {
		return nil, boom
	})
	assert.Same(t, boom, err)
}
