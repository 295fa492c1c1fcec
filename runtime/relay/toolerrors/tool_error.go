// Package toolerrors provides a structured, chainable error type for capability
// failures. A ToolError keeps the message of every link in the chain so the
// failure can be rendered back to a model as text while still supporting
// errors.Is/As for typed sentinels attached at the leaf.
package toolerrors

import (
	"errors"
	"fmt"
	"strings"
)

// ToolError represents a capability failure. Cause links to the next ToolError in
// the chain; Sentinel retains the original leaf error (if any) so errors.Is works
// against package-level sentinels after conversion.
type ToolError struct {
	// Message is the human-readable summary of the failure.
	Message string
	// Cause links to the underlying tool error.
	Cause *ToolError

	sentinel error
}

// New constructs a ToolError with the provided message.
func New(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// NewWithCause constructs a ToolError that wraps cause. An empty message takes
// the cause's text.
func NewWithCause(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{
		Message: message,
		Cause:   FromError(cause),
	}
}

// FromError converts an arbitrary error into a ToolError chain. Errors that
// already are ToolErrors are returned as is.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	next := errors.Unwrap(err)
	out := &ToolError{Message: err.Error(), Cause: FromError(next)}
	if next == nil {
		out.sentinel = err
	}
	return out
}

// Errorf formats according to a format specifier and returns the string as a
// ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the next link of the chain.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Cause != nil {
		return e.Cause
	}
	return e.sentinel
}

// Chain renders every distinct message of the chain joined by ": ".
func (e *ToolError) Chain() string {
	var parts []string
	for cur := e; cur != nil; cur = cur.Cause {
		if len(parts) > 0 && strings.Contains(parts[len(parts)-1], cur.Message) {
			continue
		}
		parts = append(parts, cur.Message)
	}
	return strings.Join(parts, ": ")
}
