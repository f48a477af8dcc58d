// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - JSON output for --json.
package cli

import (
	"encoding/json"
	"io"
	"time"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/model"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/offline"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/storage"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/telemetry"
)

// JSONResponse is the envelope for every --json output.
type JSONResponse struct {
	Success   bool    `json:"success"`
	Data      any     `json:"data"`
	Error     *string `json:"error"`
	Timestamp string  `json:"timestamp"`
	Command   string  `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Print writes the response as indented JSON.
func (r *JSONResponse) Print(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// =============================================================================
// COMMAND-SPECIFIC DATA STRUCTURES
// =============================================================================

// AskData is the result of the ask command.
type AskData struct {
	Response   string         `json:"response"`
	Model      string         `json:"model"`
	Sources    []model.Source `json:"sources"`
	DurationMs int64          `json:"duration_ms"`
	Queued     bool           `json:"queued,omitempty"`
	QueueID    string         `json:"queue_id,omitempty"`
}

// QueueData is the result of queue list and queue drain.
type QueueData struct {
	Items      []offline.Request    `json:"items"`
	MaxRetries int                  `json:"max_retries"`
	Draining   bool                 `json:"draining,omitempty"`
	Drain      *offline.DrainReport `json:"drain,omitempty"`
}

// BackupData is the result of backup list and backup restore.
type BackupData struct {
	Encrypted bool                 `json:"encrypted"`
	Dir       string               `json:"dir"`
	Backups   []storage.BackupInfo `json:"backups,omitempty"`
	Restored  *storage.BackupInfo  `json:"restored,omitempty"`
	Messages  int                  `json:"messages,omitempty"`
	Exported  string               `json:"exported,omitempty"`
}

// HealthData is the result of the health command.
type HealthData struct {
	BaseURL   string `json:"base_url"`
	Online    bool   `json:"online"`
	Forced    bool   `json:"forced_offline"`
	LatencyMs int64  `json:"latency_ms"`
	Queued    int    `json:"queued"`
}

// VersionData is the result of the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// StatsData is the result of the stats command.
type StatsData struct {
	Current telemetry.Summary   `json:"current"`
	History []telemetry.Summary `json:"history,omitempty"`
}
