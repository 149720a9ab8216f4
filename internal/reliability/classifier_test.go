package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ent0n29/solace/internal/llm"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"credential", &llm.CredentialError{}, CodeCredential},
		{"validation", &llm.ValidationError{Field: "text", Reason: "empty"}, CodeValidation},
		{"parse", &llm.ParseError{Line: "data: {"}, CodeParse},
		{"timeout", &llm.TransportError{Err: context.DeadlineExceeded}, CodeTimeout},
		{"canceled", &llm.TransportError{Err: context.Canceled}, CodeCanceled},
		{"5xx", &llm.TransportError{Status: 503}, CodeHTTP5xx},
		{"4xx", &llm.TransportError{Status: 401}, CodeHTTP4xx},
		{"transport", &llm.TransportError{Err: errors.New("connection refused")}, CodeTransport},
		{"wrapped", fmt.Errorf("refresh summary: %w", &llm.TransportError{Status: 502}), CodeHTTP5xx},
		{"bare deadline", context.DeadlineExceeded, CodeTimeout},
		{"bare cancel", context.Canceled, CodeCanceled},
		{"unknown", errors.New("boom"), CodeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(&llm.TransportError{Status: 429}) {
		t.Fatal("429 should be retryable")
	}
	if Retryable(&llm.TransportError{Status: 401}) {
		t.Fatal("401 should not be retryable")
	}
	if !Retryable(&llm.TransportError{Err: context.DeadlineExceeded}) {
		t.Fatal("timeout should be retryable")
	}
	if Retryable(&llm.CredentialError{}) {
		t.Fatal("credential error should not be retryable")
	}
}
