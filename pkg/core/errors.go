// Package core defines the error model shared by every harpoon component.
package core

import (
	"errors"
	"fmt"
)

// Code classifies a fallible operation's outcome.
type Code int

const (
	CodeUnknown Code = iota
	CodeInvalidArgument
	CodeInitializationFailed
	CodeResourceUnavailable
	CodePermissionDenied
	CodeTimeout
	CodeNetworkError
	CodePluginLoadFailed
	CodePluginExecutionFailed
	CodeBackendError
	CodeInternalError
	CodeNotImplemented
	CodeCleanupFailed
)

var codeNames = map[Code]string{
	CodeUnknown:               "UNKNOWN",
	CodeInvalidArgument:       "INVALID_ARGUMENT",
	CodeInitializationFailed:  "INITIALIZATION_FAILED",
	CodeResourceUnavailable:   "RESOURCE_UNAVAILABLE",
	CodePermissionDenied:      "PERMISSION_DENIED",
	CodeTimeout:               "TIMEOUT",
	CodeNetworkError:          "NETWORK_ERROR",
	CodePluginLoadFailed:      "PLUGIN_LOAD_FAILED",
	CodePluginExecutionFailed: "PLUGIN_EXECUTION_FAILED",
	CodeBackendError:          "BACKEND_ERROR",
	CodeInternalError:         "INTERNAL_ERROR",
	CodeNotImplemented:        "NOT_IMPLEMENTED",
	CodeCleanupFailed:         "CLEANUP_FAILED",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// Error is the typed error returned across component boundaries.
// Expected failure modes (bad interface, missing privileges, device busy)
// always map to a specific Code; only programmer errors may panic.
type Error struct {
	Code    Code
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so callers can test
// errors.Is(err, &core.Error{Code: core.CodeTimeout}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Errorf builds a coded error from a format string.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and context message to an underlying cause.
// Returns nil when err is nil.
func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from any error in the chain, CodeUnknown otherwise.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Sentinel errors for programmatic matching.
var (
	ErrPacketTooShort   = errors.New("harpoon: packet too short")
	ErrUnsupportedProto = errors.New("harpoon: unsupported protocol")
	ErrNotRunning       = errors.New("harpoon: backend not running")
	ErrAlreadyRunning   = errors.New("harpoon: backend already running")
	ErrQueueClosed      = errors.New("harpoon: packet queue closed")
	ErrProtoNotFound    = errors.New("harpoon: protocol not found")
	ErrProtoExists      = errors.New("harpoon: protocol already registered")
)
