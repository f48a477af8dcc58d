// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// RECORDER TESTS
// =============================================================================

func TestRecorder_EmptySummary(t *testing.T) {
	s := NewRecorder(nil).Summary()
	assert.Zero(t, s.TotalRequests)
	assert.Zero(t, s.SuccessRate)
	assert.NotEmpty(t, s.SessionID)
	assert.NotNil(t, s.ErrorsByType)
}

func TestRecorder_Summary(t *testing.T) {
	r := NewRecorder(nil)
	r.ObserveRequest("stream", "m1", 100*time.Millisecond, "")
	r.ObserveRequest("stream", "m1", 300*time.Millisecond, "")
	r.ObserveRequest("execute", "m2", 200*time.Millisecond, "RATE_LIMIT")
	r.ObserveRequest("execute", "", 400*time.Millisecond, "TIMEOUT")
	r.ObserveRetry("execute", 429)
	r.ObserveQueue("enqueued")
	r.ObserveQueue("enqueued")

	s := r.Summary()
	assert.Equal(t, 4, s.TotalRequests)
	assert.InDelta(t, 0.5, s.SuccessRate, 1e-9)
	assert.Equal(t, 250*time.Millisecond, s.AvgLatency)
	assert.Equal(t, map[string]int{"RATE_LIMIT": 1, "TIMEOUT": 1}, s.ErrorsByType)
	assert.Equal(t, map[string]int{"m1": 2, "m2": 1}, s.RequestsByModel)
	assert.Equal(t, 1, s.Retries)
	assert.Equal(t, 2, s.QueueEvents["enqueued"])
	assert.Equal(t, 200*time.Millisecond, s.Latency.P50)
	assert.Equal(t, 400*time.Millisecond, s.Latency.P99)
}

func TestRecorder_BoundedWindow(t *testing.T) {
	r := NewRecorder(nil)
	r.capacity = 3
	for i := 1; i <= 5; i++ {
		r.ObserveRequest("stream", "", time.Duration(i)*time.Millisecond, "")
	}

	recent := r.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, 3*time.Millisecond, recent[0].Latency)
	assert.Equal(t, 5*time.Millisecond, recent[2].Latency)

	assert.Len(t, r.Recent(2), 2)
}

// =============================================================================
// PROMETHEUS TESTS
// =============================================================================

func counterValue(t *testing.T, c *Collectors, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := c.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestCollectors_RecordOutcomes(t *testing.T) {
	prom := NewCollectors()
	r := NewRecorder(prom)

	r.ObserveRequest("stream", "m", time.Second, "")
	r.ObserveRequest("stream", "m", time.Second, "UNKNOWN")
	r.ObserveRetry("stream", 0)
	r.ObserveQueue("dropped")

	assert.Equal(t, 1.0, counterValue(t, prom, "regis_requests_total", map[string]string{"operation": "stream", "outcome": "success"}))
	assert.Equal(t, 1.0, counterValue(t, prom, "regis_requests_total", map[string]string{"outcome": "UNKNOWN"}))
	assert.Equal(t, 1.0, counterValue(t, prom, "regis_request_retries_total", map[string]string{"status": "transport"}))
	assert.Equal(t, 1.0, counterValue(t, prom, "regis_offline_queue_events_total", map[string]string{"event": "dropped"}))
}

func TestCollectors_Handler(t *testing.T) {
	prom := NewCollectors()
	NewRecorder(prom).ObserveRequest("execute", "", time.Millisecond, "")
	prom.queueDepth.Set(2)

	rec := httptest.NewRecorder()
	prom.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "regis_requests_total")
	assert.Contains(t, string(body), "regis_offline_queue_depth 2")
}

// =============================================================================
// STORAGE TESTS
// =============================================================================

func TestStorage_SaveLoadList(t *testing.T) {
	st, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	r := NewRecorder(nil)
	r.ObserveRequest("stream", "m", time.Second, "")
	summary := r.Summary()
	require.NoError(t, st.Save(summary))

	loaded, err := st.Load(summary.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.TotalRequests)

	ids, err := st.List(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{summary.SessionID}, ids)

	removed, err := st.Prune(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestStorage_RejectsMissingID(t *testing.T) {
	st, err := NewStorage(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, st.Save(Summary{}))
}
