// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the command handlers for regis.
//
// Parse turns os.Args into a Command plus Args. An App carries the wired
// dependencies (cloud client, offline queue, backup store, session
// controller) and Run dispatches to the handler for the command.
//
// # Commands Overview
//
//   - ask: single prompt, streamed by default
//   - chat: interactive REPL with undo/redo and offline queueing
//   - queue: inspect, drain or clear the offline queue
//   - backup: list, restore, export or clear encrypted conversation backups
//   - health: check the backend
//   - config: show, init, get or set configuration values
//   - stats: request telemetry for this and earlier runs
//
// Commands that print data accept --json.
package cli
