// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/abort"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/auth"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// Kind categorizes request failures for the caller.
type Kind int

const (
	// KindUnknown covers malformed bodies, unexpected statuses, stream error
	// events and unclassified transport failures.
	KindUnknown Kind = iota
	// KindAuth means the session could not be refreshed.
	KindAuth
	// KindTimeout means the internal request budget elapsed or the gateway
	// timed out.
	KindTimeout
	// KindRateLimit means rate-limit retries were exhausted.
	KindRateLimit
	// KindCancelled means the caller cancelled. It is never shown to users.
	KindCancelled
)

// String returns the wire code of the kind.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "AUTH_ERROR"
	case KindTimeout:
		return "TIMEOUT"
	case KindRateLimit:
		return "RATE_LIMIT"
	case KindCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Error is the failure returned by every Client operation.
type Error struct {
	Kind    Kind
	Status  int // HTTP status, 0 when no response was classified
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns the kind of a Client error. Errors that did not come from a
// Client are KindUnknown.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsCancelled reports whether err is a silent caller cancellation.
func IsCancelled(err error) bool {
	return err != nil && KindOf(err) == KindCancelled
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// statusError classifies a non-2xx response that made it past retries and
// the auth guard. Once retries are exhausted 429 is RATE_LIMIT, 504 is
// TIMEOUT and any other status (502 and 503 included) is UNKNOWN.
func statusError(status int, message string) *Error {
	e := &Error{Kind: KindUnknown, Status: status, Message: message}
	switch status {
	case http.StatusUnauthorized:
		e.Kind = KindAuth
		if e.Message == "" {
			e.Message = "authentication required"
		}
	case http.StatusTooManyRequests:
		e.Kind = KindRateLimit
		if e.Message == "" {
			e.Message = "too many requests"
		}
	case http.StatusGatewayTimeout:
		e.Kind = KindTimeout
		if e.Message == "" {
			e.Message = "gateway timed out"
		}
	default:
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
	}
	return e
}

// normalize converts any failure into an *Error. The scope decides between
// caller cancellation and timeout before the error itself is inspected.
func normalize(scope *abort.Scope, err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	switch scope.Cause() {
	case abort.CauseExternal:
		return &Error{Kind: KindCancelled, Message: "request cancelled", Cause: err}
	case abort.CauseTimeout:
		return &Error{Kind: KindTimeout, Message: "request timed out", Cause: err}
	}

	if errors.Is(err, auth.ErrUnauthorized) {
		return &Error{Kind: KindAuth, Status: http.StatusUnauthorized, Message: "session expired", Cause: err}
	}
	return &Error{Kind: KindUnknown, Message: "request failed", Cause: err}
}
