package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/solace/internal/contextwin"
	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/observability"
	"github.com/ent0n29/solace/internal/policy"
	"github.com/ent0n29/solace/internal/protocol"
	"github.com/ent0n29/solace/internal/turn"
)

type scriptedCall struct {
	text   string
	deltas []string
	err    error
}

// fakeClient replays scripted calls in order, completions and streams sharing
// one queue.
type fakeClient struct {
	script []scriptedCall
	reqs   []llm.Request
}

func (f *fakeClient) next(req llm.Request) scriptedCall {
	f.reqs = append(f.reqs, req)
	if len(f.script) == 0 {
		return scriptedCall{err: errors.New("unexpected call")}
	}
	c := f.script[0]
	f.script = f.script[1:]
	return c
}

func (f *fakeClient) Complete(_ context.Context, req llm.Request) (string, error) {
	c := f.next(req)
	if c.err != nil {
		return "", c.err
	}
	return policy.Sanitize(c.text), nil
}

func (f *fakeClient) Stream(_ context.Context, req llm.Request, onDelta llm.DeltaHandler) (string, error) {
	c := f.next(req)
	var sb strings.Builder
	for _, d := range c.deltas {
		if err := onDelta(d); err != nil {
			return sb.String(), err
		}
		sb.WriteString(d)
	}
	if c.err != nil {
		return sb.String(), c.err
	}
	return sb.String(), nil
}

func testConfig() Config {
	return Config{
		Model:               "deepseek-chat",
		MaxTokens:           512,
		BudgetTokens:        2500,
		KeepLastTurns:       10,
		SummaryEnabled:      true,
		SummaryEvery:        8,
		SummaryContextTurns: 6,
		SummaryMaxTokens:    220,
	}
}

func newTestPipeline(client llm.Client, cfg Config) (*Pipeline, *observability.Metrics) {
	m := observability.NewMetrics("pipeline_test")
	return New(client, cfg, WithMetrics(m)), m
}

func baseHistory() []turn.Turn {
	return []turn.Turn{turn.System(policy.BaseSystemPrompt())}
}

func collect(events *[]protocol.Event) Emit {
	return func(ev protocol.Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func TestReplyHighRiskSkipsModel(t *testing.T) {
	client := &fakeClient{}
	p, m := newTestPipeline(client, testConfig())

	res, err := p.Reply(context.Background(), Input{History: baseHistory(), Text: "我想自杀"})
	require.NoError(t, err)

	assert.Equal(t, policy.LevelHigh, res.Risk)
	assert.Equal(t, policy.CrisisReply(), res.Text)
	assert.Equal(t, OutcomeCrisis, res.Outcome)
	assert.Empty(t, client.reqs)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RiskLevels.WithLabelValues("HIGH")))
}

func TestStreamHighRiskEmitsReplaceThenDone(t *testing.T) {
	client := &fakeClient{}
	p, _ := newTestPipeline(client, testConfig())

	var events []protocol.Event
	_, err := p.Stream(context.Background(), Input{History: baseHistory(), Text: "有时候真的想死"}, collect(&events))
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, protocol.Replace(policy.CrisisReply()), events[0])
	assert.Equal(t, protocol.Done("HIGH"), events[1])
	assert.Empty(t, client.reqs)
}

func TestReplyLowRisk(t *testing.T) {
	cfg := testConfig()
	cfg.SummaryEnabled = false
	client := &fakeClient{script: []scriptedCall{{text: "你好，我在。"}}}
	p, _ := newTestPipeline(client, cfg)

	res, err := p.Reply(context.Background(), Input{History: baseHistory(), Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "你好，我在。", res.Text)
	assert.Equal(t, policy.LevelLow, res.Risk)
	assert.Equal(t, OutcomeAnswered, res.Outcome)
	require.Len(t, client.reqs, 1)
	assert.Equal(t, baseHistory()[0], client.reqs[0].Messages[0])
	assert.Equal(t, turn.User("hello"), client.reqs[0].Messages[len(client.reqs[0].Messages)-1])
	assert.Equal(t, 512, client.reqs[0].MaxTokens)
}

func TestReplyDoesNotDuplicateTrailingUserTurn(t *testing.T) {
	cfg := testConfig()
	cfg.SummaryEnabled = false
	client := &fakeClient{script: []scriptedCall{{text: "嗯"}}}
	p, _ := newTestPipeline(client, cfg)

	history := append(baseHistory(), turn.User("hello"))
	_, err := p.Reply(context.Background(), Input{History: history, Text: "hello"})
	require.NoError(t, err)

	require.Len(t, client.reqs, 1)
	assert.Len(t, client.reqs[0].Messages, 2)
}

func TestReplyMediumRiskInjectsHint(t *testing.T) {
	cfg := testConfig()
	cfg.SummaryEnabled = false
	client := &fakeClient{script: []scriptedCall{{text: "听起来你很累。"}}}
	p, _ := newTestPipeline(client, cfg)

	res, err := p.Reply(context.Background(), Input{History: baseHistory(), Text: "好累，算了吧…"})
	require.NoError(t, err)

	assert.Equal(t, policy.LevelMedium, res.Risk)
	assert.NotEmpty(t, res.Hits)
	require.Len(t, client.reqs, 1)
	assert.Contains(t, client.reqs[0].Messages, turn.System(policy.MediumHint()))
}

func TestReplyFallbackOnTransportError(t *testing.T) {
	cfg := testConfig()
	cfg.SummaryEnabled = false
	client := &fakeClient{script: []scriptedCall{{err: &llm.TransportError{Status: 503, Body: "busy"}}}}
	p, m := newTestPipeline(client, cfg)

	res, err := p.Reply(context.Background(), Input{History: baseHistory(), Text: "好累，没意义"})
	require.NoError(t, err)

	assert.True(t, res.Fallback)
	assert.Equal(t, FallbackMessage, res.Text)
	assert.Equal(t, policy.LevelMedium, res.Risk)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMErrors.WithLabelValues("sync", "http_5xx")))
}

func TestReplyRejectsEmptyText(t *testing.T) {
	client := &fakeClient{}
	p, _ := newTestPipeline(client, testConfig())

	_, err := p.Reply(context.Background(), Input{History: baseHistory(), Text: "   "})
	var verr *llm.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "text", verr.Field)
	assert.Empty(t, client.reqs)
}

func TestStreamDeltasWithoutReplace(t *testing.T) {
	cfg := testConfig()
	cfg.SummaryEnabled = false
	client := &fakeClient{script: []scriptedCall{{deltas: []string{"我", "在听", "。"}}}}
	p, _ := newTestPipeline(client, cfg)

	var events []protocol.Event
	res, err := p.Stream(context.Background(), Input{History: baseHistory(), Text: "hi"}, collect(&events))
	require.NoError(t, err)

	var concat strings.Builder
	var done int
	for _, ev := range events {
		switch ev.Type {
		case protocol.TypeDelta:
			concat.WriteString(ev.Text)
		case protocol.TypeReplace:
			t.Fatalf("unexpected replace event: %+v", ev)
		case protocol.TypeDone:
			done++
		}
	}
	assert.Equal(t, "我在听。", concat.String())
	assert.Equal(t, "我在听。", res.Text)
	assert.Equal(t, 1, done)
	assert.Equal(t, protocol.Done("LOW"), events[len(events)-1])
	assert.False(t, res.Replaced)
}

func TestStreamRefusalIsReplaced(t *testing.T) {
	cfg := testConfig()
	cfg.SummaryEnabled = false
	client := &fakeClient{script: []scriptedCall{{deltas: []string{"I'm sorry, ", "but I cannot help with that."}}}}
	p, m := newTestPipeline(client, cfg)

	var events []protocol.Event
	res, err := p.Stream(context.Background(), Input{History: baseHistory(), Text: "hi"}, collect(&events))
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Equal(t, protocol.Delta("I'm sorry, "), events[0])
	assert.Equal(t, protocol.Delta("but I cannot help with that."), events[1])
	assert.Equal(t, protocol.Replace(policy.Refusal), events[2])
	assert.Equal(t, protocol.Done("LOW"), events[3])
	assert.Equal(t, policy.Refusal, res.Text)
	assert.True(t, res.Replaced)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SanitizerRewrites))
}

func TestStreamFailureMidwayEmitsFallback(t *testing.T) {
	cfg := testConfig()
	cfg.SummaryEnabled = false
	client := &fakeClient{script: []scriptedCall{{
		deltas: []string{"一半"},
		err:    &llm.TransportError{Err: context.DeadlineExceeded},
	}}}
	p, _ := newTestPipeline(client, cfg)

	var events []protocol.Event
	res, err := p.Stream(context.Background(), Input{History: baseHistory(), Text: "hi"}, collect(&events))
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, protocol.Delta("一半"), events[0])
	assert.Equal(t, protocol.Replace(FallbackMessage), events[1])
	assert.Equal(t, protocol.Done("LOW"), events[2])
	assert.True(t, res.Fallback)
	assert.Equal(t, FallbackMessage, res.Text)
}

func TestStreamStopsEmittingAfterDeliveryError(t *testing.T) {
	cfg := testConfig()
	cfg.SummaryEnabled = false
	client := &fakeClient{script: []scriptedCall{{deltas: []string{"a", "b", "c"}}}}
	p, _ := newTestPipeline(client, cfg)

	calls := 0
	res, err := p.Stream(context.Background(), Input{History: baseHistory(), Text: "hi"}, func(protocol.Event) error {
		calls++
		return errors.New("client gone")
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.True(t, res.Fallback)
}

func TestSummaryRefreshBeforeAndAfter(t *testing.T) {
	client := &fakeClient{script: []scriptedCall{
		{text: "- 摘要一"},
		{deltas: []string{"好的"}},
		{text: "- 摘要二"},
	}}
	p, m := newTestPipeline(client, testConfig())

	var events []protocol.Event
	res, err := p.Stream(context.Background(), Input{
		History:        baseHistory(),
		Summary:        "- 旧摘要",
		CompletedTurns: 8,
		Text:           "hi",
	}, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, []string{"- 摘要一", "- 摘要二"}, res.Summaries)
	require.Len(t, client.reqs, 3)
	assert.Equal(t, 220, client.reqs[0].MaxTokens)
	assert.Contains(t, client.reqs[0].Messages, turn.User("已有摘要：\n- 旧摘要"))
	assert.Contains(t, client.reqs[1].Messages, turn.System(contextwin.SummaryPrefix+"- 摘要一"))
	assert.Contains(t, client.reqs[2].Messages, turn.Assistant("好的"))
	assert.Contains(t, client.reqs[2].Messages, turn.User("已有摘要：\n- 摘要一"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SummaryRefreshes.WithLabelValues("ok")))
}

func TestEmptySummaryKeepsExisting(t *testing.T) {
	client := &fakeClient{script: []scriptedCall{
		{text: "  "},
		{text: "好的"},
		{text: ""},
	}}
	p, _ := newTestPipeline(client, testConfig())

	res, err := p.Reply(context.Background(), Input{
		History:        baseHistory(),
		Summary:        "- 旧摘要",
		CompletedTurns: 8,
		Text:           "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "好的", res.Text)
	assert.Empty(t, res.Summaries)
	require.Len(t, client.reqs, 3)
	assert.Contains(t, client.reqs[1].Messages, turn.System(contextwin.SummaryPrefix+"- 旧摘要"))
	assert.Contains(t, client.reqs[2].Messages, turn.User("已有摘要：\n- 旧摘要"))
}

func TestSummaryNotDueSkipsRefresh(t *testing.T) {
	client := &fakeClient{script: []scriptedCall{{text: "好的"}}}
	p, _ := newTestPipeline(client, testConfig())

	res, err := p.Reply(context.Background(), Input{History: baseHistory(), CompletedTurns: 3, Text: "hi"})
	require.NoError(t, err)
	assert.Empty(t, res.Summaries)
	assert.Len(t, client.reqs, 1)
}

func TestSummaryFailureBeforeReplyFallsBack(t *testing.T) {
	client := &fakeClient{script: []scriptedCall{{err: &llm.TransportError{Status: 500}}}}
	p, _ := newTestPipeline(client, testConfig())

	res, err := p.Reply(context.Background(), Input{History: baseHistory(), Text: "hi"})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Len(t, client.reqs, 1)
}

func TestSummaryFailureAfterReplyKeepsAnswer(t *testing.T) {
	client := &fakeClient{script: []scriptedCall{
		{text: "- 摘要一"},
		{text: "回答"},
		{err: &llm.TransportError{Status: 500}},
	}}
	p, _ := newTestPipeline(client, testConfig())

	res, err := p.Reply(context.Background(), Input{History: baseHistory(), Text: "hi"})
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, "回答", res.Text)
	assert.Equal(t, []string{"- 摘要一"}, res.Summaries)
}

func TestStageWindowRecordsTurn(t *testing.T) {
	cfg := testConfig()
	cfg.SummaryEnabled = false
	w := observability.NewStageWindow(8)
	client := &fakeClient{script: []scriptedCall{{deltas: []string{"x"}}}}
	p := New(client, cfg, WithMetrics(observability.NewMetrics("stage_test")), WithStageWindow(w))

	_, err := p.Stream(context.Background(), Input{History: baseHistory(), Text: "hi"}, collect(new([]protocol.Event)))
	require.NoError(t, err)

	var stages []string
	for _, s := range w.Snapshot().Stages {
		stages = append(stages, s.Stage)
	}
	assert.ElementsMatch(t, []string{
		observability.StageTriage,
		observability.StageModelFirstDelta,
		observability.StageModelCall,
		observability.StageTurnTotal,
	}, stages)
}
