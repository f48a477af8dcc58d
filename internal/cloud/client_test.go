// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/retry"
)

// backend is a scriptable fake of the regis edge API.
type backend struct {
	t *testing.T

	mu        sync.Mutex
	statuses  []int // per-call statuses for the prompt endpoint, last one repeats
	calls     int
	refreshOK bool
	refreshes int32
	logouts   int32
	bodies    []map[string]any
	cookies   []string
	sse       string
	handler   http.HandlerFunc // overrides the prompt endpoint when set
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/health":
		w.WriteHeader(http.StatusOK)
		return
	case "/api/auth/refresh":
		atomic.AddInt32(&b.refreshes, 1)
		if b.refreshOK {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "fresh", Path: "/"})
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		return
	case "/api/auth/logout":
		atomic.AddInt32(&b.logouts, 1)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if b.handler != nil {
		b.handler(w, r)
		return
	}

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	b.calls++
	n := b.calls
	b.bodies = append(b.bodies, body)
	if c, err := r.Cookie("session"); err == nil {
		b.cookies = append(b.cookies, c.Value)
	}
	status := http.StatusOK
	if len(b.statuses) > 0 {
		status = b.statuses[len(b.statuses)-1]
		if n <= len(b.statuses) {
			status = b.statuses[n-1]
		}
	}
	b.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"error":"status %d on call %d"}`, status, n)
		return
	}

	if r.URL.Path == "/api/stream" {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, b.sse)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"success":true,"response":"answer %d","sources":[{"title":"T","url":"https://t"}],"model_used":"m1","grounding_performed":true}`, n)
}

func newBackend(t *testing.T) (*backend, *Client) {
	t.Helper()
	b := &backend{t: t, refreshOK: true}
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)

	policy := retry.DefaultPolicy()
	policy.BaseDelay = time.Millisecond
	policy.MaxDelay = 2 * time.Millisecond
	policy.Jitter = 0

	client, err := NewClient(Config{BaseURL: srv.URL + "/api/", Policy: policy, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return b, client
}

// =============================================================================
// EXECUTE
// =============================================================================

func TestExecute_Success(t *testing.T) {
	b, client := newBackend(t)

	res, err := client.Execute(context.Background(), "hello", "m1")
	require.NoError(t, err)

	assert.Equal(t, "answer 1", res.Text)
	assert.Equal(t, "m1", res.ModelUsed)
	assert.True(t, res.GroundingPerformed)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "https://t", res.Sources[0].URL)

	require.Len(t, b.bodies, 1)
	assert.Equal(t, "hello", b.bodies[0]["prompt"])
	assert.Equal(t, "m1", b.bodies[0]["model"])
	assert.Equal(t, true, b.bodies[0]["stream"])
}

func TestExecute_OmitsEmptyModel(t *testing.T) {
	b, client := newBackend(t)

	_, err := client.Execute(context.Background(), "hello", "")
	require.NoError(t, err)
	_, present := b.bodies[0]["model"]
	assert.False(t, present)
}

func TestExecute_RateLimitedThenSucceeds(t *testing.T) {
	b, client := newBackend(t)
	b.statuses = []int{429, 429, 200}

	res, err := client.Execute(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "answer 3", res.Text)
	assert.Equal(t, 3, b.calls)
}

func TestExecute_RateLimitExhausted(t *testing.T) {
	b, client := newBackend(t)
	b.statuses = []int{429}

	_, err := client.Execute(context.Background(), "hi", "")
	require.Error(t, err)
	assert.Equal(t, KindRateLimit, KindOf(err))
	assert.Equal(t, 3, b.calls)

	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusTooManyRequests, ce.Status)
	assert.Contains(t, ce.Message, "call 3")
}

func TestExecute_ExhaustedStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
	}{
		{http.StatusGatewayTimeout, KindTimeout},
		{http.StatusBadGateway, KindUnknown},
		{http.StatusServiceUnavailable, KindUnknown},
		{http.StatusInternalServerError, KindUnknown},
		{http.StatusForbidden, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			b, client := newBackend(t)
			b.statuses = []int{tt.status}

			_, err := client.Execute(context.Background(), "hi", "")
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestExecute_NonRetryableStatusNotRetried(t *testing.T) {
	b, client := newBackend(t)
	b.statuses = []int{500, 200}

	_, err := client.Execute(context.Background(), "hi", "")
	assert.Equal(t, KindUnknown, KindOf(err))
	assert.Equal(t, 1, b.calls)
}

func TestExecute_RefreshThenReplay(t *testing.T) {
	b, client := newBackend(t)
	b.statuses = []int{401, 200}

	res, err := client.Execute(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "answer 2", res.Text)
	assert.EqualValues(t, 1, atomic.LoadInt32(&b.refreshes))
	assert.Zero(t, atomic.LoadInt32(&b.logouts))

	// The replay carries the refreshed session cookie.
	assert.Equal(t, []string{"fresh"}, b.cookies)
}

func TestExecute_RefreshFailureLogsOutOnce(t *testing.T) {
	b, client := newBackend(t)
	b.statuses = []int{401}
	b.refreshOK = false

	_, err := client.Execute(context.Background(), "hi", "")
	assert.Equal(t, KindAuth, KindOf(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&b.refreshes))
	assert.EqualValues(t, 1, atomic.LoadInt32(&b.logouts))
	assert.Equal(t, 1, b.calls)
}

func TestExecute_Persistent401BoundedToOneRefresh(t *testing.T) {
	b, client := newBackend(t)
	b.statuses = []int{401}

	_, err := client.Execute(context.Background(), "hi", "")
	assert.Equal(t, KindAuth, KindOf(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&b.refreshes))
	assert.Equal(t, 2, b.calls)
}

func TestExecute_MalformedBody(t *testing.T) {
	b, client := newBackend(t)
	b.handler = func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>not json</html>")
	}

	_, err := client.Execute(context.Background(), "hi", "")
	assert.Equal(t, KindUnknown, KindOf(err))
}

// blockUntilGone holds a handler open until the client disconnects. The
// server only notices the disconnect once the request body is consumed.
func blockUntilGone(r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	<-r.Context().Done()
}

func TestExecute_ExternalCancelIsSilent(t *testing.T) {
	b, client := newBackend(t)
	started := make(chan struct{})
	b.handler = func(w http.ResponseWriter, r *http.Request) {
		close(started)
		blockUntilGone(r)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := client.Execute(ctx, "hi", "")
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.True(t, IsCancelled(err))
}

func TestExecute_InternalTimeout(t *testing.T) {
	b, client := newBackend(t)
	client.timeout = 30 * time.Millisecond
	b.handler = func(w http.ResponseWriter, r *http.Request) {
		blockUntilGone(r)
	}

	_, err := client.Execute(context.Background(), "hi", "")
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.False(t, IsCancelled(err))
}

func TestExecute_TransportFailureIsUnknown(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://127.0.0.1:1/api", Policy: retry.Policy{MaxAttempts: 1}})
	require.NoError(t, err)

	_, err = client.Execute(context.Background(), "hi", "")
	assert.Equal(t, KindUnknown, KindOf(err))
}

// =============================================================================
// HEALTH
// =============================================================================

func TestCheckHealth(t *testing.T) {
	_, client := newBackend(t)
	assert.True(t, client.CheckHealth(context.Background()))

	down, err := NewClient(Config{BaseURL: "http://127.0.0.1:1/api"})
	require.NoError(t, err)
	assert.False(t, down.CheckHealth(context.Background()))
}

// =============================================================================
// ERROR TYPE
// =============================================================================

func TestKind_Codes(t *testing.T) {
	assert.Equal(t, "AUTH_ERROR", KindAuth.String())
	assert.Equal(t, "TIMEOUT", KindTimeout.String())
	assert.Equal(t, "RATE_LIMIT", KindRateLimit.String())
	assert.Equal(t, "UNKNOWN", KindUnknown.String())
	assert.Equal(t, "CANCELLED", KindCancelled.String())
}

func TestError_WrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("send: %w", &Error{Kind: KindTimeout, Message: "slow", Cause: cause})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "TIMEOUT: slow")
}
