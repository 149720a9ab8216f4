// Package summary folds recent dialogue into a compact, long-lived summary
// that is re-injected into later prompts.
package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/policy"
	"github.com/ent0n29/solace/internal/turn"
)

const (
	instruction = "你要把对话压缩成一个可长期保留的摘要，供后续对话继续使用。\n" +
		"要求：\n" +
		"1) 只总结事实与稳定偏好：主要困扰、触发因素、已尝试的方法、有效/无效点、重要背景、用户目标。\n" +
		"2) 不要逐句复述，不要出现推测性诊断。\n" +
		"3) 严格保证输出为中文，5-10条要点，每条不超过20字。\n" +
		"4) 如果已有摘要，先合并更新，去重并保持最新。\n"
	existingLabel = "已有摘要：\n"
	emptySummary  = "（无）"
	excerptLabel  = "最近对话片段："
	closingAsk    = "请输出更新后的摘要要点。"
)

// Coordinator asks the model to merge recent turns into the running summary.
type Coordinator struct {
	client llm.Client
	model  string
}

func NewCoordinator(client llm.Client, model string) *Coordinator {
	return &Coordinator{client: client, model: model}
}

// Refresh makes exactly one completion call and returns the new summary. The
// new summary supersedes existing; it is never edited in place. An empty
// result means the model produced nothing usable and existing stays current.
func (c *Coordinator) Refresh(ctx context.Context, history []turn.Turn, existing string, contextTurns, maxOutputTokens int) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("summary coordinator not configured")
	}
	text, err := c.client.Complete(ctx, llm.Request{
		Model:     c.model,
		Messages:  BuildPrompt(history, existing, contextTurns),
		MaxTokens: maxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("refresh summary: %w", err)
	}
	text = strings.TrimSpace(text)
	// Complete substitutes these for empty or refused output.
	if text == policy.Apology || text == policy.Refusal {
		return "", nil
	}
	return text, nil
}

// BuildPrompt assembles the summarization request from the last
// contextTurns*2 dialogue turns of history.
func BuildPrompt(history []turn.Turn, existing string, contextTurns int) []turn.Turn {
	seed := strings.TrimSpace(existing)
	if seed == "" {
		seed = emptySummary
	}
	tail := turn.Tail(turn.Dialogue(history), contextTurns*2)

	msgs := make([]turn.Turn, 0, len(tail)+4)
	msgs = append(msgs,
		turn.System(instruction),
		turn.User(existingLabel+seed),
		turn.User(excerptLabel),
	)
	msgs = append(msgs, tail...)
	msgs = append(msgs, turn.User(closingAsk))
	return msgs
}

// Due reports whether a refresh is scheduled after completedTurns assistant
// replies. A zero or negative cadence disables refreshing.
func Due(completedTurns, every int) bool {
	return every > 0 && completedTurns%every == 0
}
