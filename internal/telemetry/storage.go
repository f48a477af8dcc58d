// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/util"
)

// sessionTimeLayout prefixes session IDs so file names sort by start time.
const sessionTimeLayout = "20060102-150405"

// =============================================================================
// SUMMARY STORAGE
// =============================================================================

// Storage persists session summaries as JSON files, one per session.
type Storage struct {
	dir string
}

// NewStorage creates the storage directory if needed.
func NewStorage(dir string) (*Storage, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &Storage{dir: dir}, nil
}

// Save writes a summary, replacing an earlier save of the same session.
func (s *Storage) Save(summary Summary) error {
	if summary.SessionID == "" {
		return fmt.Errorf("summary has no session id")
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	return util.WriteFileAtomic(s.path(summary.SessionID), data, 0600)
}

// Load reads one session summary.
func (s *Storage) Load(sessionID string) (Summary, error) {
	var summary Summary
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		return summary, err
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return summary, fmt.Errorf("failed to parse summary %s: %w", sessionID, err)
	}
	return summary, nil
}

// List returns the session IDs started within [from, to], oldest first.
func (s *Storage) List(from, to time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")

		started, ok := sessionStart(id)
		if !ok || started.Before(from) || started.After(to) {
			continue
		}
		ids = append(ids, id)
	}

	sort.Strings(ids)
	return ids, nil
}

// Prune removes summaries of sessions started before the cutoff.
func (s *Storage) Prune(before time.Time) (int, error) {
	ids, err := s.List(time.Time{}, before)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := os.Remove(s.path(id)); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (s *Storage) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// sessionStart parses the timestamp prefix of a session ID.
func sessionStart(id string) (time.Time, bool) {
	if len(id) < len(sessionTimeLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(sessionTimeLayout, id[:len(sessionTimeLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
