// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import "errors"

// =============================================================================
// ERROR TYPES
// =============================================================================

// LinkError represents an error from the connection core.
type LinkError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *LinkError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *LinkError) Unwrap() error {
	return e.Cause
}

// Is matches two LinkErrors by category, so errors.Is(err, ErrTimeout)
// works for any timeout regardless of the wrapped cause.
func (e *LinkError) Is(target error) bool {
	var le *LinkError
	if errors.As(target, &le) {
		return e.Type == le.Type
	}
	return false
}

// ErrorType categorizes connection-core errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotConnected
	ErrTypeTimeout
	ErrTypeConnectionLost
	ErrTypeRemote
	ErrTypeMalformed
)

// Sentinel errors for easy checking.
var (
	// ErrNotConnected: a send was attempted while the link is not open.
	// Not fatal, the caller retries the logical operation later.
	ErrNotConnected = &LinkError{Type: ErrTypeNotConnected, Message: "link is not open"}

	// ErrTimeout: no response arrived within the request window.
	// Safe to retry.
	ErrTimeout = &LinkError{Type: ErrTypeTimeout, Message: "request timed out"}

	// ErrConnectionLost: pending work was invalidated by a disconnect.
	// The caller decides whether to resubmit.
	ErrConnectionLost = &LinkError{Type: ErrTypeConnectionLost, Message: "connection lost"}
)

// NewRemoteError wraps a server-reported failure. The message is
// surfaced verbatim to the UI.
func NewRemoteError(message string) *LinkError {
	if message == "" {
		message = "remote error"
	}
	return &LinkError{Type: ErrTypeRemote, Message: message}
}

// IsNotConnected checks if an error means the link was not open.
func IsNotConnected(err error) bool {
	var le *LinkError
	return errors.As(err, &le) && le.Type == ErrTypeNotConnected
}

// IsTimeout checks if an error is a request timeout.
func IsTimeout(err error) bool {
	var le *LinkError
	return errors.As(err, &le) && le.Type == ErrTypeTimeout
}

// IsConnectionLost checks if an error means pending work was
// invalidated by a disconnect.
func IsConnectionLost(err error) bool {
	var le *LinkError
	return errors.As(err, &le) && le.Type == ErrTypeConnectionLost
}

// IsRemote checks if an error was explicitly reported by the server.
func IsRemote(err error) bool {
	var le *LinkError
	return errors.As(err, &le) && le.Type == ErrTypeRemote
}

// IsMalformed checks if an error came from an unparsable envelope.
func IsMalformed(err error) bool {
	var le *LinkError
	return errors.As(err, &le) && le.Type == ErrTypeMalformed
}
