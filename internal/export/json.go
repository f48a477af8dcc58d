// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/storage"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter writes the backup as indented JSON. Options are ignored so
// the file always holds the complete conversation.
type JSONExporter struct{}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(_ *Options) *JSONExporter {
	return &JSONExporter{}
}

// Export converts a backup to JSON.
func (e *JSONExporter) Export(b *storage.Backup) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("backup is nil")
	}
	return json.MarshalIndent(b, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}
