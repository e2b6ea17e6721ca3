package cloud

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// APIError reports that the control plane answered with a top-level errors
// array. An HTTP 200 with errors is still a failure; callers must never
// trust data without checking for this.
type APIError struct {
	// Operation is the GraphQL operation that failed.
	Operation string

	// Messages are the messages from the errors array, in order.
	Messages []string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("control plane rejected %s: %s", e.Operation, strings.Join(e.Messages, "; "))
}

// IsAlreadyExists reports whether the error is the control plane's
// "already exists" answer. Domain bindings treat this as success: requesting
// a hostname that is already bound is the idempotent happy path on retry.
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, m := range apiErr.Messages {
		lower := strings.ToLower(m)
		if strings.Contains(lower, "already exists") || strings.Contains(lower, "already in use") {
			return true
		}
	}
	return false
}

// IsNotFound reports whether the error is the control plane's "not found"
// answer for the queried id.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, m := range apiErr.Messages {
		if strings.Contains(strings.ToLower(m), "not found") {
			return true
		}
	}
	return false
}

// TimeoutError reports a polling loop that exceeded its bound without the
// watched resource reaching a terminal state. It is itself terminal: the
// caller records failed(timeout) rather than leaving state ambiguous.
type TimeoutError struct {
	// Operation names what was being polled.
	Operation string

	// Attempts is the number of polls performed.
	Attempts int

	// Elapsed is how long polling ran.
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not reach a terminal state after %d polls over %s", e.Operation, e.Attempts, e.Elapsed.Round(time.Second))
}
