// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// Snapshot is a whole-conversation copy used by undo/redo history.
type Snapshot []Message

// TakeSnapshot deep-copies messages so later edits never leak into history.
func TakeSnapshot(messages []Message) Snapshot {
	if messages == nil {
		return Snapshot{}
	}
	snap := make(Snapshot, len(messages))
	for i, msg := range messages {
		snap[i] = msg.Clone()
	}
	return snap
}

// Messages returns a deep copy of the snapshot contents.
func (s Snapshot) Messages() []Message {
	return []Message(TakeSnapshot(s))
}

// Len returns the number of messages in the snapshot.
func (s Snapshot) Len() int {
	return len(s)
}

// LastUserMessage returns the most recent user message, if any.
func (s Snapshot) LastUserMessage() (Message, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Role == RoleUser {
			return s[i], true
		}
	}
	return Message{}, false
}

// =============================================================================
// HISTORY STACK
// =============================================================================

// History is a bounded LIFO of snapshots. When full, the oldest entry is evicted.
type History struct {
	items []Snapshot
	limit int
}

// NewHistory creates a history stack holding at most limit snapshots.
// A non-positive limit means unbounded.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Push adds a snapshot to the top of the stack.
func (h *History) Push(s Snapshot) {
	h.items = append(h.items, s)
	if h.limit > 0 && len(h.items) > h.limit {
		h.items = append([]Snapshot(nil), h.items[len(h.items)-h.limit:]...)
	}
}

// Pop removes and returns the top snapshot.
func (h *History) Pop() (Snapshot, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	top := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return top, true
}

// Clear removes every snapshot.
func (h *History) Clear() {
	h.items = nil
}

// Len returns the number of stored snapshots.
func (h *History) Len() int {
	return len(h.items)
}
