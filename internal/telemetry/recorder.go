// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry records request outcomes for the session summary and the
// Prometheus endpoint.
package telemetry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// RECORDER
// =============================================================================

// DefaultCapacity is how many recent requests the recorder keeps.
const DefaultCapacity = 1000

// OutcomeSuccess is the outcome label for successful requests.
const OutcomeSuccess = "success"

// sessionIDCounter keeps IDs unique when sessions start within one second.
var sessionIDCounter uint64

// RequestMetric is one finished request.
type RequestMetric struct {
	Timestamp time.Time     `json:"timestamp"`
	Operation string        `json:"operation"`
	Model     string        `json:"model,omitempty"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	ErrorType string        `json:"error_type,omitempty"`
}

// LatencyPercentiles summarises the latency distribution.
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// Summary aggregates the requests recorded in one session.
type Summary struct {
	SessionID       string             `json:"session_id"`
	StartTime       time.Time          `json:"start_time"`
	EndTime         time.Time          `json:"end_time,omitempty"`
	TotalRequests   int                `json:"total_requests"`
	SuccessRate     float64            `json:"success_rate"`
	AvgLatency      time.Duration      `json:"avg_latency"`
	Latency         LatencyPercentiles `json:"latency"`
	ErrorsByType    map[string]int     `json:"errors_by_type"`
	RequestsByModel map[string]int     `json:"requests_by_model"`
	Retries         int                `json:"retries"`
	QueueEvents     map[string]int     `json:"queue_events"`
}

// Recorder keeps a bounded window of request metrics and forwards every
// observation to Prometheus collectors when configured.
type Recorder struct {
	mu        sync.RWMutex
	sessionID string
	started   time.Time
	capacity  int
	metrics   []RequestMetric
	retries   int
	queue     map[string]int

	prom *Collectors
}

// NewRecorder creates a recorder. prom may be nil.
func NewRecorder(prom *Collectors) *Recorder {
	return &Recorder{
		sessionID: generateSessionID(),
		started:   time.Now(),
		capacity:  DefaultCapacity,
		metrics:   make([]RequestMetric, 0, 64),
		queue:     make(map[string]int),
		prom:      prom,
	}
}

// SessionID returns the identifier of the current recording session.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// =============================================================================
// RECORDING
// =============================================================================

// ObserveRequest records a finished request. errorType is empty on success.
func (r *Recorder) ObserveRequest(operation, model string, latency time.Duration, errorType string) {
	m := RequestMetric{
		Timestamp: time.Now(),
		Operation: operation,
		Model:     model,
		Latency:   latency,
		Success:   errorType == "",
		ErrorType: errorType,
	}

	r.mu.Lock()
	r.metrics = append(r.metrics, m)
	if len(r.metrics) > r.capacity {
		r.metrics = append(r.metrics[:0:0], r.metrics[len(r.metrics)-r.capacity:]...)
	}
	r.mu.Unlock()

	if r.prom != nil {
		outcome := OutcomeSuccess
		if errorType != "" {
			outcome = errorType
		}
		r.prom.requests.WithLabelValues(operation, outcome).Inc()
		r.prom.latency.WithLabelValues(operation).Observe(latency.Seconds())
	}
}

// ObserveRetry records one backoff retry. status is 0 for transport errors.
func (r *Recorder) ObserveRetry(operation string, status int) {
	r.mu.Lock()
	r.retries++
	r.mu.Unlock()

	if r.prom != nil {
		r.prom.retries.WithLabelValues(operation, statusLabel(status)).Inc()
	}
}

// ObserveQueue records an offline queue event such as "enqueued", "sent",
// "failed" or "dropped".
func (r *Recorder) ObserveQueue(event string) {
	r.mu.Lock()
	r.queue[event]++
	r.mu.Unlock()

	if r.prom != nil {
		r.prom.queue.WithLabelValues(event).Inc()
	}
}

// SetQueueDepth reports the current number of queued prompts.
func (r *Recorder) SetQueueDepth(n int) {
	if r.prom != nil {
		r.prom.queueDepth.Set(float64(n))
	}
}

// =============================================================================
// RETRIEVAL
// =============================================================================

// Summary aggregates everything recorded so far.
func (r *Recorder) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Summary{
		SessionID:       r.sessionID,
		StartTime:       r.started,
		TotalRequests:   len(r.metrics),
		ErrorsByType:    make(map[string]int),
		RequestsByModel: make(map[string]int),
		Retries:         r.retries,
		QueueEvents:     make(map[string]int, len(r.queue)),
	}
	for k, v := range r.queue {
		s.QueueEvents[k] = v
	}
	if len(r.metrics) == 0 {
		return s
	}

	var total time.Duration
	successes := 0
	latencies := make([]time.Duration, 0, len(r.metrics))
	for _, m := range r.metrics {
		total += m.Latency
		latencies = append(latencies, m.Latency)
		if m.Success {
			successes++
		} else {
			s.ErrorsByType[m.ErrorType]++
		}
		if m.Model != "" {
			s.RequestsByModel[m.Model]++
		}
	}

	s.AvgLatency = total / time.Duration(len(r.metrics))
	s.SuccessRate = float64(successes) / float64(len(r.metrics))
	s.Latency = percentiles(latencies)
	return s
}

// Recent returns up to n of the most recent metrics, newest last.
func (r *Recorder) Recent(n int) []RequestMetric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > len(r.metrics) {
		n = len(r.metrics)
	}
	out := make([]RequestMetric, n)
	copy(out, r.metrics[len(r.metrics)-n:])
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

// percentiles uses nearest-rank on a sorted copy.
func percentiles(latencies []time.Duration) LatencyPercentiles {
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	rank := func(p float64) time.Duration {
		idx := int(p*float64(len(latencies))+0.5) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return LatencyPercentiles{P50: rank(0.50), P95: rank(0.95), P99: rank(0.99)}
}

func statusLabel(status int) string {
	if status == 0 {
		return "transport"
	}
	return fmt.Sprintf("%d", status)
}

// generateSessionID returns a sortable, timestamp-based session identifier.
func generateSessionID() string {
	counter := atomic.AddUint64(&sessionIDCounter, 1)
	return time.Now().Format(sessionTimeLayout) + "-" + fmt.Sprintf("%d", counter)
}
