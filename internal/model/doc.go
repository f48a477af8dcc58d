// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Message: Single message with role, content, sources and timestamp
//   - Source: Grounding result attached to an assistant answer
//   - Snapshot: Deep copy of a whole conversation, used by undo/redo
//   - History: Bounded stack of snapshots
//
// # Usage
//
//	msgs := []model.Message{model.NewUserMessage("Hello!")}
//	undo := model.NewHistory(50)
//	undo.Push(model.TakeSnapshot(msgs))
package model
