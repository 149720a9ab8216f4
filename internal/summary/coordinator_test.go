package summary

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/policy"
	"github.com/ent0n29/solace/internal/turn"
)

type recordingClient struct {
	reqs  []llm.Request
	reply string
	err   error
}

func (c *recordingClient) Complete(_ context.Context, req llm.Request) (string, error) {
	c.reqs = append(c.reqs, req)
	return c.reply, c.err
}

func (c *recordingClient) Stream(context.Context, llm.Request, llm.DeltaHandler) (string, error) {
	return "", errors.New("not used")
}

func TestBuildPromptWithoutExistingSummary(t *testing.T) {
	history := []turn.Turn{
		turn.System("base"),
		turn.User("最近睡不好"),
		turn.System("hint"),
		turn.Assistant("多久了？"),
	}

	msgs := BuildPrompt(history, "  ", 6)

	require.Len(t, msgs, 6)
	assert.Equal(t, turn.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "5-10条要点")
	assert.Equal(t, turn.User("已有摘要：\n（无）"), msgs[1])
	assert.Equal(t, turn.User("最近对话片段："), msgs[2])
	assert.Equal(t, turn.User("最近睡不好"), msgs[3])
	assert.Equal(t, turn.Assistant("多久了？"), msgs[4])
	assert.Equal(t, turn.User("请输出更新后的摘要要点。"), msgs[5])
}

func TestBuildPromptTakesTail(t *testing.T) {
	var history []turn.Turn
	for i := 0; i < 10; i++ {
		history = append(history, turn.User("u"), turn.Assistant("a"))
	}
	history = append(history, turn.User("latest"))

	msgs := BuildPrompt(history, "- 喜欢跑步", 2)

	assert.Equal(t, turn.User("已有摘要：\n- 喜欢跑步"), msgs[1])
	// 3 fixed leading turns, 4 tail turns, 1 closing turn.
	require.Len(t, msgs, 8)
	assert.Equal(t, turn.User("latest"), msgs[6])
}

func TestRefresh(t *testing.T) {
	client := &recordingClient{reply: "\n- 工作压力大\n- 睡眠差\n"}
	c := NewCoordinator(client, "deepseek-chat")

	got, err := c.Refresh(context.Background(), []turn.Turn{turn.User("hi")}, "", 6, 220)
	require.NoError(t, err)
	assert.Equal(t, "- 工作压力大\n- 睡眠差", got)
	require.Len(t, client.reqs, 1)
	assert.Equal(t, 220, client.reqs[0].MaxTokens)
	assert.Equal(t, "deepseek-chat", client.reqs[0].Model)
}

func TestRefreshPropagatesError(t *testing.T) {
	boom := &llm.TransportError{Status: 502}
	c := NewCoordinator(&recordingClient{err: boom}, "")

	_, err := c.Refresh(context.Background(), nil, "old", 6, 220)
	assert.ErrorIs(t, err, boom)
}

func TestRefreshDropsSanitizerPlaceholders(t *testing.T) {
	for _, reply := range []string{policy.Apology, policy.Refusal, "  "} {
		c := NewCoordinator(&recordingClient{reply: reply}, "")
		got, err := c.Refresh(context.Background(), []turn.Turn{turn.User("hi")}, "old", 6, 220)
		require.NoError(t, err)
		assert.Empty(t, got, reply)
	}
}

func TestDue(t *testing.T) {
	assert.True(t, Due(0, 8))
	assert.True(t, Due(16, 8))
	assert.False(t, Due(3, 8))
	assert.False(t, Due(8, 0))
}
