package llm

import (
	"context"
	"errors"
	"fmt"
)

// CredentialError reports a missing API credential. It is a configuration
// fault: callers should refuse to start rather than swallow it per request.
type CredentialError struct {
	Hint string
}

func (e *CredentialError) Error() string {
	if e.Hint == "" {
		return "llm: missing API credential"
	}
	return "llm: missing API credential: " + e.Hint
}

// TransportError is a non-success HTTP status, a timeout or any other failure
// talking to the completion endpoint.
type TransportError struct {
	// Status is the HTTP status, 0 when no response was received.
	Status int
	// Body is the leading part of the response body, if any.
	Body string
	Err  error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("llm: HTTP %d: %s", e.Status, e.Body)
	case e.Err != nil:
		return "llm: transport: " + e.Err.Error()
	default:
		return "llm: transport failure"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline.
func (e *TransportError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// ParseError is an undecodable payload. Inside a stream it is skipped; for a
// blocking completion it fails the call.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "llm: malformed payload"
	}
	return "llm: malformed payload: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError rejects a request before any remote call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
