// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the state of one chat conversation.
//
// The Controller keeps at most one request in flight: a new send cancels the
// previous one, and a generation counter discards any result that arrives
// from a superseded call. Every send, clear and restore pushes a snapshot of
// the conversation onto a bounded undo stack; starting a new send clears the
// redo stack.
//
// # Usage
//
//	ctrl := session.NewController(client, session.Config{Catalog: locale.New("pl")})
//	ctrl.SendWith(ctx, "Hello", "", func(chunk string) { fmt.Print(chunk) })
//	ctrl.Undo()
//
// While the connectivity flag reports offline, sends go to the offline queue
// instead of the network. AutoSave writes periodic backups while the
// conversation has unsaved changes.
package session
