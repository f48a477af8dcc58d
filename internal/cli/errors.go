// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types and exit codes for regis commands.
//
// Handlers always return errors; main decides how to display them and
// which exit code to use.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/cloud"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/config"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/offline"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
	// ExitCancelled follows the shell convention for SIGINT.
	ExitCancelled = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError reports a malformed command line.
type UsageError struct {
	Command string
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Command, e.Reason)
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NewUsageError creates a usage error.
func NewUsageError(command, reason, example string) error {
	return &UsageError{Command: command, Reason: reason, Example: example}
}

// GetExitCode determines the appropriate exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitUsageError
	}

	var validateErrs config.ValidateErrors
	if errors.As(err, &validateErrs) {
		return ExitConfigError
	}

	if errors.Is(err, storage.ErrNoBackup) || errors.Is(err, offline.ErrNotFound) {
		return ExitNotFoundError
	}
	if errors.Is(err, offline.ErrOffline) {
		return ExitNetworkError
	}

	var cloudErr *cloud.Error
	if errors.As(err, &cloudErr) {
		switch cloudErr.Kind {
		case cloud.KindAuth:
			return ExitAuthError
		case cloud.KindTimeout:
			return ExitTimeoutError
		case cloud.KindCancelled:
			return ExitCancelled
		case cloud.KindRateLimit, cloud.KindUnknown:
			return ExitNetworkError
		}
	}

	return ExitGeneralError
}

// DisplayError writes err to w. In JSON mode it writes an error object with
// the failure kind.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}

	if jsonMode {
		output := map[string]any{
			"success": false,
			"error":   err.Error(),
		}
		var cloudErr *cloud.Error
		if errors.As(err, &cloudErr) {
			output["kind"] = cloudErr.Kind.String()
			if cloudErr.Status != 0 {
				output["status"] = cloudErr.Status
			}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(output)
		return
	}

	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}
