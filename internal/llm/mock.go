package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/solace/internal/policy"
	"github.com/ent0n29/solace/internal/turn"
)

const mockChunkRunes = 4

// MockClient provides deterministic local replies when no endpoint is wired.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &TransportError{Err: err}
	}
	if err := validateRequest(req); err != nil {
		return "", err
	}
	return policy.Sanitize(buildMockReply(req)), nil
}

func (c *MockClient) Stream(ctx context.Context, req Request, onDelta DeltaHandler) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}
	text := []rune(buildMockReply(req))
	var out strings.Builder
	for start := 0; start < len(text); start += mockChunkRunes {
		if err := ctx.Err(); err != nil {
			return out.String(), &TransportError{Err: err}
		}
		end := min(start+mockChunkRunes, len(text))
		delta := string(text[start:end])
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return out.String(), err
			}
		}
	}
	return out.String(), nil
}

func buildMockReply(req Request) string {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == turn.RoleUser {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	if last == "" {
		return "我在听。"
	}
	return fmt.Sprintf("我听到了：%s", last)
}
