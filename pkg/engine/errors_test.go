package engine

import (
	"errors"
	"fmt"
	"testing"
)

// TestErrorClassification tests transient and permanent classification
func TestErrorClassification(t *testing.T) {
	transient := NewTransientError("remote hiccup", errors.New("503"))
	permanent := NewPermanentError("bad input", nil)

	if !IsTransient(transient) || IsPermanent(transient) {
		t.Error("Expected transient classification")
	}
	if !IsPermanent(permanent) || IsTransient(permanent) {
		t.Error("Expected permanent classification")
	}

	// Classification survives wrapping.
	wrapped := fmt.Errorf("tile 42_100: %w", transient)
	if !IsTransient(wrapped) {
		t.Error("Expected transient classification through wrapping")
	}
}

// TestErrorCode tests code extraction through wrapping
func TestErrorCode(t *testing.T) {
	err := NewPermanentError("no captures intersect tile", nil).
		WithCode(ErrCodeFetchFailed).
		WithTile("42_100")

	if CodeOf(err) != ErrCodeFetchFailed {
		t.Errorf("Expected code %s, got %s", ErrCodeFetchFailed, CodeOf(err))
	}

	wrapped := fmt.Errorf("run failed: %w", err)
	if CodeOf(wrapped) != ErrCodeFetchFailed {
		t.Errorf("Expected code %s through wrapping, got %s", ErrCodeFetchFailed, CodeOf(wrapped))
	}

	if CodeOf(errors.New("plain")) != "" {
		t.Error("Expected empty code for plain error")
	}
}

// TestErrorUnwrap tests that the cause is reachable via errors.Is
func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewTransientError("fetch failed", cause).WithOperation("fetch file://x")

	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the cause")
	}
}
