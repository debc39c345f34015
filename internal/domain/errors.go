package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports malformed or missing required input. It collects
// every violated invariant, not just the first.
type ValidationError struct {
	Issues []string
}

// NewValidationError creates a validation error from one or more issues.
func NewValidationError(issues ...string) *ValidationError {
	return &ValidationError{Issues: issues}
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(e.Issues, "; ")
}

// Add appends an issue to the error.
func (e *ValidationError) Add(format string, args ...any) {
	e.Issues = append(e.Issues, fmt.Sprintf(format, args...))
}

// HasIssues reports whether any invariant was violated.
func (e *ValidationError) HasIssues() bool { return len(e.Issues) > 0 }

// NormalizationError wraps a validation or extraction failure with
// normalization context.
type NormalizationError struct {
	Op    string // "normalize" | "denormalize"
	Cause error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Cause)
}

func (e *NormalizationError) Unwrap() error { return e.Cause }

// ChannelConfigError reports an adapter construction or configuration
// problem. Fatal to that adapter's availability, not to the process.
type ChannelConfigError struct {
	ChannelType string
	Cause       error
}

func (e *ChannelConfigError) Error() string {
	return fmt.Sprintf("channel %q configuration error: %v", e.ChannelType, e.Cause)
}

func (e *ChannelConfigError) Unwrap() error { return e.Cause }

// ChannelNotFoundError reports a factory lookup miss.
type ChannelNotFoundError struct {
	ChannelType string
}

func (e *ChannelNotFoundError) Error() string {
	return fmt.Sprintf("channel type not found: %s", e.ChannelType)
}

// MessageProcessingError reports a send or format failure for a
// recognized-but-unhandleable message.
type MessageProcessingError struct {
	ChannelID string
	Cause     error
}

func (e *MessageProcessingError) Error() string {
	return fmt.Sprintf("message processing failed on channel %q: %v", e.ChannelID, e.Cause)
}

func (e *MessageProcessingError) Unwrap() error { return e.Cause }

// RoutingError reports a downstream-call failure after retries are exhausted.
type RoutingError struct {
	Destination string
	Cause       error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing to %q failed: %v", e.Destination, e.Cause)
}

func (e *RoutingError) Unwrap() error { return e.Cause }
