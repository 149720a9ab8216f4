package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/solace/internal/turn"
)

func TestMockClientComplete(t *testing.T) {
	text, err := NewMockClient().Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "我听到了：hello", text)
}

func TestMockClientStreamChunks(t *testing.T) {
	req := Request{Messages: []turn.Turn{turn.User("今天有点累")}, MaxTokens: 16}

	var deltas []string
	text, err := NewMockClient().Stream(context.Background(), req, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "我听到了：今天有点累", text)
	assert.Equal(t, text, strings.Join(deltas, ""))
	assert.Greater(t, len(deltas), 1)
}

func TestMockClientCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockClient().Complete(ctx, testRequest())
	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
}
