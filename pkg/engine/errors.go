// Package engine provides the batch execution core: classified errors,
// tile job and outcome types, and the bounded worker-pool scheduler.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// retry. Examples: network timeouts, blob service throttling.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: malformed URIs, missing credentials, tool failures.
	ErrorClassPermanent ErrorClass = "permanent"
)

// RunError represents a classified error with tile and operation context.
type RunError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Tile is the tile identifier that caused the error, if applicable.
	Tile string `json:"tile,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Tile != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (tile=%s, operation=%s): %s",
			e.Class, e.Message, e.Tile, e.Operation, e.unwrapMessage())
	}
	if e.Tile != "" {
		return fmt.Sprintf("[%s] %s (tile=%s): %s", e.Class, e.Message, e.Tile, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *RunError) Is(target error) bool {
	t, ok := target.(*RunError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *RunError {
	return &RunError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *RunError {
	return &RunError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithTile adds tile context to an error.
func (e *RunError) WithTile(tileID string) *RunError {
	e.Tile = tileID
	return e
}

// WithOperation adds operation context to an error.
func (e *RunError) WithOperation(operation string) *RunError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *RunError) WithCode(code string) *RunError {
	e.Code = code
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *RunError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *RunError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// CodeOf returns the error code of a classified error, or empty string.
func CodeOf(err error) string {
	var e *RunError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Error codes for the run taxonomy.
const (
	ErrCodeInvalidLocation    = "INVALID_LOCATION"
	ErrCodeFetchFailed        = "FETCH_FAILED"
	ErrCodePublishFailed      = "PUBLISH_FAILED"
	ErrCodeStagingFailed      = "STAGING_FAILED"
	ErrCodeNoSources          = "NO_SOURCES"
	ErrCodeInvalidGridSize    = "INVALID_GRID_SIZE"
	ErrCodeInvalidConcurrency = "INVALID_CONCURRENCY"
	ErrCodeReconstruction     = "RECONSTRUCTION_FAILED"
	ErrCodeTimeout            = "TIMEOUT"
)
