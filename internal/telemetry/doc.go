// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry records request outcomes for the session summary and the
// Prometheus endpoint.
//
// # Key Types
//
//   - Recorder: in-process window of request metrics (success rate, errors by kind, latency)
//   - Collectors: Prometheus counters and histograms on a private registry
//   - Storage: per-session summary files for `regis stats`
//
// # Usage
//
//	prom := telemetry.NewCollectors()
//	rec := telemetry.NewRecorder(prom)
//	rec.ObserveRequest("stream", "llama3", 850*time.Millisecond, "")
//	fmt.Printf("%.0f%% ok\n", rec.Summary().SuccessRate*100)
//
// # Privacy
//
// Only operation names, models, latencies and error kinds are recorded.
// Prompt text is never stored.
package telemetry
