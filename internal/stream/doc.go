// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream parses the backend's server-sent event stream.
//
// Parsing is a pure fold: each network read is appended to the running
// State, complete event blocks (separated by a blank line) are classified
// line by line, and the unterminated tail is kept for the next read. The
// result does not depend on how the byte stream was split across reads.
//
// # Usage
//
//	st := stream.NewState()
//	st = stream.Process(st, "data: {\"chunk\":\"Hi\",\"done\":false}\n\n", onChunk)
//
// Or over an io.Reader:
//
//	st, err := stream.Fold(ctx, resp.Body, onChunk)
package stream
