// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"strings"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/model"
)

// =============================================================================
// PROTOCOL CONSTANTS
// =============================================================================

const (
	// EventSeparator terminates one SSE event block.
	EventSeparator = "\n\n"

	// DataPrefix marks a data line. Lines without it are ignored.
	DataPrefix = "data: "

	// DoneSentinel is the provider-style end-of-stream marker.
	DoneSentinel = "[DONE]"

	commentPrefix = ":"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventKind identifies the variant of a parsed line.
type EventKind int

const (
	// EventEmpty is a line that carries nothing to apply.
	EventEmpty EventKind = iota
	// EventChunk carries a piece of response text.
	EventChunk
	// EventDone ends the stream, optionally with metadata.
	EventDone
	// EventError ends the stream with a server-side error.
	EventError
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "empty"
	}
}

// Event is one classified SSE line.
// Metadata pointers on a Done event are nil when the field was absent.
type Event struct {
	Kind EventKind

	// Text is set for EventChunk.
	Text string

	// Message is set for EventError.
	Message string

	// Done metadata.
	ModelUsed          *string
	Sources            []model.Source
	HasSources         bool
	GroundingPerformed *bool
}

// payload mirrors the JSON shapes the server sends. Pointer and raw fields
// keep "absent" distinct from zero values.
type payload struct {
	Chunk              *string         `json:"chunk"`
	Done               *bool           `json:"done"`
	Error              json.RawMessage `json:"error"`
	ModelUsed          *string         `json:"model_used"`
	Sources            json.RawMessage `json:"sources"`
	GroundingPerformed *bool           `json:"grounding_performed"`
}

// =============================================================================
// LINE PARSING
// =============================================================================

// ParseLine classifies a single line from a complete event block.
// Malformed input never fails; it yields EventEmpty.
func ParseLine(line string) Event {
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, commentPrefix) {
		return Event{Kind: EventEmpty}
	}
	if !strings.HasPrefix(line, DataPrefix) {
		return Event{Kind: EventEmpty}
	}

	data := strings.TrimSpace(line[len(DataPrefix):])
	if data == DoneSentinel {
		return Event{Kind: EventDone}
	}
	if data == "" {
		return Event{Kind: EventEmpty}
	}

	var p payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Event{Kind: EventEmpty}
	}

	if len(p.Error) > 0 && string(p.Error) != "null" {
		return Event{Kind: EventError, Message: errorMessage(p.Error)}
	}

	if p.Done != nil && *p.Done {
		ev := Event{
			Kind:               EventDone,
			ModelUsed:          p.ModelUsed,
			GroundingPerformed: p.GroundingPerformed,
		}
		if len(p.Sources) > 0 && string(p.Sources) != "null" {
			var sources []model.Source
			if err := json.Unmarshal(p.Sources, &sources); err == nil {
				ev.Sources = sources
				ev.HasSources = true
			}
		}
		return ev
	}

	if p.Done != nil && !*p.Done && p.Chunk != nil {
		return Event{Kind: EventChunk, Text: *p.Chunk}
	}

	return Event{Kind: EventEmpty}
}

// errorMessage extracts a readable message from the error field, which is
// usually a string but may be any JSON value.
func errorMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "stream error"
		}
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
