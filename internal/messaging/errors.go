package messaging

import (
	"fmt"
	"strings"
)

// ValidationError reports an invalid message field combination. It is
// returned by constructors, before anything reaches the network.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: %s %s", e.Field, e.Reason)
}

// TransportError wraps a failed provider call: either the request never got a
// response (Cause set) or the provider answered with a non-2xx status.
type TransportError struct {
	StatusCode int
	Body       string
	Cause      error
}

func (e *TransportError) Error() string {
	parts := []string{"delivery failed"}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		parts = append(parts, body)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *TransportError) Unwrap() error { return e.Cause }
