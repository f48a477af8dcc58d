// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline holds prompts that could not be sent while the backend was
// unreachable and replays them once connectivity returns.
//
// Requests are kept in FIFO order in a Store (SQLite on disk, or memory for
// tests). A drain pass walks the queue sequentially and makes at most one
// attempt per request. A request that keeps failing is dropped once its retry
// count reaches the queue's limit.
//
// Connectivity tracks the online flag; Monitor drives it from health checks
// and Queue.Watch drains whenever the flag flips to online.
package offline
