// Package errors defines the error taxonomy for the export pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the export pipeline.
const (
	CodeUnknown            = "UNKNOWN_ERROR"
	CodeNoData             = "NO_DATA"
	CodeOutOfMemory        = "OUT_OF_MEMORY"
	CodeIO                 = "IO_ERROR"
	CodeUnsupportedVersion = "UNSUPPORTED_VERSION"
	CodeCorruptData        = "CORRUPT_DATA"
	CodeConfig             = "CONFIG_ERROR"
	CodeCancelled          = "CANCELLED"
)

// ExportError represents a pipeline error with a code, the stage that
// produced it, and an optional suggestion for the caller.
type ExportError struct {
	Code       string
	Message    string
	Stage      string
	Suggestion string
	Err        error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	msg := fmt.Sprintf("[%s]", e.Code)
	if e.Stage != "" {
		msg += fmt.Sprintf(" %s:", e.Stage)
	}
	msg += " " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Suggestion != "" {
		msg += " (" + e.Suggestion + ")"
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ExportError) Unwrap() error {
	return e.Err
}

// Is matches errors by code so sentinel comparisons with errors.Is work.
func (e *ExportError) Is(target error) bool {
	t, ok := target.(*ExportError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithStage returns a copy of the error annotated with the stage name.
func (e *ExportError) WithStage(stage string) *ExportError {
	clone := *e
	clone.Stage = stage
	return &clone
}

// WithSuggestion returns a copy of the error carrying a caller-facing
// suggestion string.
func (e *ExportError) WithSuggestion(s string) *ExportError {
	clone := *e
	clone.Suggestion = s
	return &clone
}

// New creates a new ExportError.
func New(code, message string) *ExportError {
	return &ExportError{Code: code, Message: message}
}

// Newf creates a new ExportError with a formatted message.
func Newf(code, format string, args ...interface{}) *ExportError {
	return &ExportError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code, message string, err error) *ExportError {
	return &ExportError{Code: code, Message: message, Err: err}
}

// Sentinel instances for errors.Is comparisons.
var (
	ErrNoData             = New(CodeNoData, "no data to export")
	ErrOutOfMemory        = New(CodeOutOfMemory, "memory limit exceeded")
	ErrIO                 = New(CodeIO, "i/o error")
	ErrUnsupportedVersion = New(CodeUnsupportedVersion, "unsupported format version")
	ErrCorruptData        = New(CodeCorruptData, "corrupt data")
	ErrConfig             = New(CodeConfig, "configuration error")
	ErrCancelled          = New(CodeCancelled, "operation cancelled")
)

// OutOfMemory builds an OUT_OF_MEMORY error carrying the requested and
// available byte counts.
func OutOfMemory(requested, available int64) *ExportError {
	return Newf(CodeOutOfMemory, "requested %d bytes with %d available", requested, available).
		WithSuggestion("retry with config.MemoryEfficient()")
}

// UnsupportedVersion builds an UNSUPPORTED_VERSION error for an artifact
// written by a newer version of the format.
func UnsupportedVersion(found, maxSupported uint8) *ExportError {
	return Newf(CodeUnsupportedVersion, "artifact version %d, reader supports up to %d", found, maxSupported).
		WithSuggestion("upgrade the reader to open this artifact")
}

// CorruptData builds a CORRUPT_DATA error with a reason.
func CorruptData(reason string) *ExportError {
	return Newf(CodeCorruptData, "%s", reason)
}

// Config builds a CONFIG_ERROR with a reason.
func Config(reason string) *ExportError {
	return Newf(CodeConfig, "%s", reason)
}

// IsRetryable reports whether the error may be resolved by retrying with
// a degraded configuration. Structural and semantic errors never are.
func IsRetryable(err error) bool {
	switch Code(err) {
	case CodeOutOfMemory, CodeIO:
		return true
	default:
		return false
	}
}

// Code extracts the error code from an error chain.
func Code(err error) string {
	var ee *ExportError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return CodeUnknown
}

// Stage extracts the stage name from an error chain, if any.
func Stage(err error) string {
	var ee *ExportError
	if errors.As(err, &ee) {
		return ee.Stage
	}
	return ""
}

// Suggestion extracts the caller-facing suggestion from an error chain.
func Suggestion(err error) string {
	var ee *ExportError
	if errors.As(err, &ee) {
		return ee.Suggestion
	}
	return ""
}

// IsCorrupt reports whether the error is a CORRUPT_DATA error.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptData)
}

// IsCancelled reports whether the error is a CANCELLED error.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
