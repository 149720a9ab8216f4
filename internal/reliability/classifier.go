package reliability

import (
	"context"
	"errors"

	"github.com/ent0n29/solace/internal/llm"
)

// Failure labels used for metrics and structured logs.
const (
	CodeCredential = "credential"
	CodeTimeout    = "timeout"
	CodeCanceled   = "canceled"
	CodeHTTP4xx    = "http_4xx"
	CodeHTTP5xx    = "http_5xx"
	CodeTransport  = "transport"
	CodeParse      = "parse"
	CodeValidation = "validation"
	CodeUnknown    = "unknown"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Classify maps a gateway failure to a stable, low-cardinality label.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var credErr *llm.CredentialError
	var valErr *llm.ValidationError
	var parseErr *llm.ParseError
	var transportErr *llm.TransportError

	switch {
	case errors.As(err, &credErr):
		return CodeCredential
	case errors.As(err, &valErr):
		return CodeValidation
	case errors.As(err, &parseErr):
		return CodeParse
	case errors.As(err, &transportErr):
		switch {
		case transportErr.Timeout():
			return CodeTimeout
		case errors.Is(transportErr, context.Canceled):
			return CodeCanceled
		case transportErr.Status >= 500:
			return CodeHTTP5xx
		case transportErr.Status >= 400:
			return CodeHTTP4xx
		default:
			return CodeTransport
		}
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		return CodeUnknown
	}
}

// Retryable reports whether a client could reasonably try the same turn again.
func Retryable(err error) bool {
	var transportErr *llm.TransportError
	if errors.As(err, &transportErr) {
		if transportErr.Status == 0 {
			return transportErr.Timeout()
		}
		return IsRetryableHTTPStatus(transportErr.Status)
	}
	return errors.Is(err, context.DeadlineExceeded)
}
