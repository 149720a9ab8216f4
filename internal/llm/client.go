package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ent0n29/solace/internal/turn"
)

// Request is one chat-completion call.
type Request struct {
	// Model overrides the client's default model when set.
	Model     string      `validate:"omitempty,max=128"`
	Messages  []turn.Turn `validate:"required,min=1,dive"`
	MaxTokens int         `validate:"gt=0"`
}

// DeltaHandler receives streamed text fragments in arrival order.
type DeltaHandler func(delta string) error

// Client talks to an OpenAI-compatible chat-completion endpoint.
//
// Complete returns sanitized text. Stream forwards fragments as they arrive
// and returns their raw concatenation; refusal phrasing is only recognizable
// on the whole answer, so sanitizing is left to the caller.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, onDelta DeltaHandler) (string, error)
}

// Config controls client construction.
type Config struct {
	Mode    string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
	// OnParseError observes malformed stream events that were skipped.
	OnParseError func(*ParseError)
}

var requestValidate = validator.New()

func validateRequest(req Request) error {
	err := requestValidate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &ValidationError{Field: verrs[0].Namespace(), Reason: verrs[0].Tag()}
	}
	return &ValidationError{Field: "request", Reason: err.Error()}
}

// NewClient builds a client for the configured mode. There is no silent
// fallback to the mock: a missing credential fails construction.
func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "http"
	}

	switch mode {
	case "http":
		c, err := NewHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}
