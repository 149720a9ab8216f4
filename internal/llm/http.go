package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/solace/internal/policy"
	"github.com/ent0n29/solace/internal/turn"
)

const (
	defaultTimeout = 120 * time.Second
	maxErrorBody   = 500
	donePayload    = "[DONE]"
)

// HTTPClient calls an OpenAI-compatible /chat/completions endpoint.
type HTTPClient struct {
	endpoint     string
	apiKey       string
	model        string
	timeout      time.Duration
	client       *http.Client
	logger       *slog.Logger
	onParseError func(*ParseError)
}

func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, &CredentialError{Hint: "set LM_API_KEY or DEEPSEEK_API_KEY"}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("llm base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		endpoint:     base + "/chat/completions",
		apiKey:       apiKey,
		model:        strings.TrimSpace(cfg.Model),
		timeout:      timeout,
		client:       &http.Client{},
		logger:       logger,
		onParseError: cfg.OnParseError,
	}, nil
}

type chatPayload struct {
	Model     string      `json:"model"`
	Messages  []turn.Turn `json:"messages"`
	MaxTokens int         `json:"max_tokens"`
	Stream    bool        `json:"stream"`
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", &TransportError{Status: 0, Err: fmt.Errorf("read response: %w", err)}
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content *string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &ParseError{Line: truncate(string(body), maxErrorBody), Err: err}
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == nil {
		return "", &ParseError{Line: truncate(string(body), maxErrorBody), Err: fmt.Errorf("response has no completion text")}
	}
	return policy.Sanitize(*out.Choices[0].Message.Content), nil
}

func (c *HTTPClient) Stream(ctx context.Context, req Request, onDelta DeltaHandler) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.post(ctx, req, true)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	return c.consumeSSE(res.Body, onDelta)
}

// post sends the request and returns the response only for 2xx statuses.
func (c *HTTPClient) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, &CredentialError{Hint: "set LM_API_KEY or DEEPSEEK_API_KEY"}
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}

	payload, err := json.Marshal(chatPayload{
		Model:     model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		return nil, &TransportError{Status: res.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}
	return res, nil
}

// consumeSSE reads "data:" events until the [DONE] sentinel or EOF. Comments,
// foreign lines and malformed payloads are skipped.
func (c *HTTPClient) consumeSSE(body io.Reader, onDelta DeltaHandler) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == donePayload {
			break
		}

		delta, err := parseStreamDelta(data)
		if err != nil {
			c.reportParseError(&ParseError{Line: truncate(data, maxErrorBody), Err: err})
			continue
		}
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return out.String(), err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return out.String(), &TransportError{Err: fmt.Errorf("stream read: %w", err)}
	}
	return out.String(), nil
}

func parseStreamDelta(data string) (string, error) {
	var obj struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return "", err
	}
	if len(obj.Choices) == 0 {
		return "", nil
	}
	return obj.Choices[0].Delta.Content, nil
}

func (c *HTTPClient) reportParseError(perr *ParseError) {
	c.logger.Debug("skipping malformed stream event", "error", perr.Err, "line", perr.Line)
	if c.onParseError != nil {
		c.onParseError(perr)
	}
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}
