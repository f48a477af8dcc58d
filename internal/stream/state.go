// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/model"
)

// State is the running result of folding a stream.
// Once Done is set, Process leaves the state unchanged.
type State struct {
	Buffer             string
	FullResponse       string
	ModelUsed          string
	Sources            []model.Source
	GroundingPerformed bool
	Err                string
	Done               bool
}

// NewState returns an empty stream state.
func NewState() State {
	return State{Sources: []model.Source{}}
}

// Failed reports whether the stream ended with an error event.
func (s State) Failed() bool {
	return s.Err != ""
}

// Process folds one raw chunk of text into the state. onChunk, if non-nil,
// is called with each piece of response text in stream order.
func Process(st State, raw string, onChunk func(string)) State {
	if st.Done {
		return st
	}

	st.Buffer += raw
	blocks := strings.Split(st.Buffer, EventSeparator)
	st.Buffer = blocks[len(blocks)-1]

	for _, block := range blocks[:len(blocks)-1] {
		for _, line := range strings.Split(block, "\n") {
			if apply(&st, ParseLine(line), onChunk) {
				return st
			}
		}
	}
	return st
}

// Flush processes whatever remains in the buffer as a final event block.
// Used at end of input when the server omitted the trailing blank line.
func Flush(st State, onChunk func(string)) State {
	if st.Done || strings.TrimSpace(st.Buffer) == "" {
		st.Buffer = ""
		return st
	}
	return Process(st, EventSeparator, onChunk)
}

// apply merges one event into the state and reports whether the stream
// reached a terminal event.
func apply(st *State, ev Event, onChunk func(string)) bool {
	switch ev.Kind {
	case EventError:
		st.Err = ev.Message
		st.Done = true
		return true

	case EventChunk:
		if ev.Text == "" {
			return false
		}
		st.FullResponse += ev.Text
		if onChunk != nil {
			onChunk(ev.Text)
		}
		return false

	case EventDone:
		if ev.ModelUsed != nil && *ev.ModelUsed != "" {
			st.ModelUsed = *ev.ModelUsed
		}
		if ev.HasSources {
			st.Sources = ev.Sources
		}
		if ev.GroundingPerformed != nil {
			st.GroundingPerformed = *ev.GroundingPerformed
		}
		st.Done = true
		return true
	}
	return false
}
