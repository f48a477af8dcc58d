// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ==============================================================================
// Prometheus Metrics
// ==============================================================================

// Collectors holds the regis Prometheus metrics registered on one registry.
type Collectors struct {
	registry *prometheus.Registry

	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	queue      *prometheus.CounterVec
	queueDepth prometheus.Gauge
}

// NewCollectors registers the regis metrics on a fresh registry.
func NewCollectors() *Collectors {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collectors{
		registry: reg,

		// requests counts finished requests by operation and outcome
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "regis_requests_total",
			Help: "Total backend requests by operation and outcome",
		}, []string{"operation", "outcome"}),

		// latency tracks end-to-end request latency including retries
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regis_request_duration_seconds",
			Help:    "Backend request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"operation"}),

		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "regis_request_retries_total",
			Help: "Backoff retries by operation and triggering status",
		}, []string{"operation", "status"}),

		queue: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "regis_offline_queue_events_total",
			Help: "Offline queue events by type",
		}, []string{"event"}),

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "regis_offline_queue_depth",
			Help: "Prompts currently waiting in the offline queue",
		}),
	}
}

// Gatherer exposes the underlying registry.
func (c *Collectors) Gatherer() prometheus.Gatherer {
	return c.registry
}

// Handler returns the /metrics HTTP handler for these collectors.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collectors) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}
