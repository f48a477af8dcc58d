// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud is the request orchestrator for the regis backend.
//
// # Operations
//
//   - Execute: buffered POST /execute
//   - ExecuteStream: POST /stream folded through the SSE parser, with a per-chunk callback
//   - StreamPrompt: the same stream delivered over a channel
//   - CheckHealth: GET /health
//   - Refresh / Logout: session endpoints, used by the auth interceptor
//
// # Failure taxonomy
//
// Every failure is a *cloud.Error whose Kind is one of AUTH_ERROR, TIMEOUT,
// RATE_LIMIT, UNKNOWN or the silent CANCELLED:
//
//	res, err := client.ExecuteStream(ctx, prompt, "", onChunk)
//	if cloud.IsCancelled(err) {
//	    return nil // user pressed cancel
//	}
package cloud
