// Package pipeline runs one chat turn: triage, summary refresh, context
// pruning, the model call and output sanitization.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/solace/internal/contextwin"
	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/observability"
	"github.com/ent0n29/solace/internal/policy"
	"github.com/ent0n29/solace/internal/protocol"
	"github.com/ent0n29/solace/internal/reliability"
	"github.com/ent0n29/solace/internal/summary"
	"github.com/ent0n29/solace/internal/turn"
)

// FallbackMessage replaces the answer whenever the remote phase fails.
const FallbackMessage = "系统暂时无法回应，但我还在。你可以继续说说发生了什么。"

const (
	OutcomeAnswered = "answered"
	OutcomeCrisis   = "crisis"
	OutcomeFallback = "fallback"

	modeSync   = "sync"
	modeStream = "stream"
)

type Config struct {
	Model               string
	MaxTokens           int
	BudgetTokens        int
	KeepLastTurns       int
	SummaryEnabled      bool
	SummaryEvery        int
	SummaryContextTurns int
	SummaryMaxTokens    int
}

// Input is everything one turn needs. History carries the leading system
// turn; Text is the new user utterance and is appended to History unless it
// is already the last user turn there.
type Input struct {
	History        []turn.Turn
	Summary        string
	CompletedTurns int
	Text           string
}

type Result struct {
	Text string
	Risk policy.Level
	// Hits lists the vocabulary terms that drove Risk.
	Hits []string
	// Summaries holds every summary produced during the turn, oldest first.
	Summaries []string
	Outcome   string
	Fallback  bool
	// Replaced reports that the sanitizer rewrote the model answer.
	Replaced bool
}

// Emit receives stream events in order. An error stops further events.
type Emit func(protocol.Event) error

type Pipeline struct {
	client     llm.Client
	summarizer *summary.Coordinator
	cfg        Config
	logger     *slog.Logger
	metrics    *observability.Metrics
	stages     *observability.StageWindow
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

func WithStageWindow(w *observability.StageWindow) Option {
	return func(p *Pipeline) {
		if w != nil {
			p.stages = w
		}
	}
}

func New(client llm.Client, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		client:     client,
		summarizer: summary.NewCoordinator(client, cfg.Model),
		cfg:        cfg,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = observability.NewMetrics("solace")
	}
	if p.stages == nil {
		p.stages = observability.NewStageWindow(256)
	}
	return p
}

// Reply produces one complete answer. The only error returned is a
// *llm.ValidationError for empty input; remote failures become the fallback.
func (p *Pipeline) Reply(ctx context.Context, in Input) (Result, error) {
	return p.run(ctx, in, modeSync, nil)
}

// Stream forwards model deltas as they arrive, then a replace event if the
// sanitized answer differs from the concatenated deltas, then exactly one
// done event.
func (p *Pipeline) Stream(ctx context.Context, in Input, emit Emit) (Result, error) {
	p.metrics.ActiveStreams.Inc()
	defer p.metrics.ActiveStreams.Dec()
	return p.run(ctx, in, modeStream, emit)
}

func (p *Pipeline) run(ctx context.Context, in Input, mode string, emit Emit) (Result, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Result{}, &llm.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	start := time.Now()
	out := &sink{emit: emit}

	assessment := policy.Assess(text)
	p.stages.Observe(observability.StageTriage, time.Since(start))
	p.metrics.RiskLevels.WithLabelValues(string(assessment.Level)).Inc()

	res := Result{Risk: assessment.Level, Hits: assessment.Hits}
	defer func() {
		p.stages.Observe(observability.StageTurnTotal, time.Since(start))
		p.metrics.TurnOutcomes.WithLabelValues(mode, res.Outcome).Inc()
		if res.Fallback {
			p.stages.ObserveIndicator(OutcomeFallback)
		}
	}()

	if assessment.Level == policy.LevelHigh {
		res.Text = policy.CrisisReply()
		res.Outcome = OutcomeCrisis
		p.logger.Info("crisis reply", "mode", mode, "hits", assessment.Tags())
		_ = out.send(protocol.Replace(res.Text))
		_ = out.send(protocol.Done(string(res.Risk)))
		return res, nil
	}

	history := withUserTurn(in.History, text)
	currentSummary := in.Summary
	due := p.cfg.SummaryEnabled && summary.Due(in.CompletedTurns, p.cfg.SummaryEvery)

	if due {
		s, err := p.refreshSummary(ctx, history, currentSummary)
		if err != nil {
			res = p.fallback(res, mode, "summary", err, out)
			return res, nil
		}
		if s != "" {
			currentSummary = s
			res.Summaries = append(res.Summaries, s)
		}
	}

	opts := contextwin.Options{
		BudgetTokens:  p.cfg.BudgetTokens,
		KeepLastTurns: p.cfg.KeepLastTurns,
	}
	if assessment.Level == policy.LevelMedium {
		opts.Hint = policy.MediumHint()
	}
	req := llm.Request{
		Model:     p.cfg.Model,
		Messages:  contextwin.Prune(history, currentSummary, opts),
		MaxTokens: p.cfg.MaxTokens,
	}

	var (
		final string
		err   error
	)
	if mode == modeStream {
		final, err = p.streamAnswer(ctx, req, out, &res)
	} else {
		final, err = p.completeAnswer(ctx, req)
	}
	if err != nil {
		res = p.fallback(res, mode, mode, err, out)
		return res, nil
	}
	res.Text = final
	res.Outcome = OutcomeAnswered

	if due {
		produced := append(append([]turn.Turn(nil), history...), turn.Assistant(final))
		s, err := p.refreshSummary(ctx, produced, currentSummary)
		switch {
		case err != nil:
			p.logger.Warn("post-reply summary refresh failed",
				"code", reliability.Classify(err), "err", err)
		case s != "":
			res.Summaries = append(res.Summaries, s)
		}
	}

	_ = out.send(protocol.Done(string(res.Risk)))
	return res, nil
}

func (p *Pipeline) completeAnswer(ctx context.Context, req llm.Request) (string, error) {
	start := time.Now()
	text, err := p.client.Complete(ctx, req)
	elapsed := time.Since(start)
	p.stages.Observe(observability.StageModelCall, elapsed)
	p.metrics.ObserveModelLatency(modeSync, elapsed)
	return text, err
}

func (p *Pipeline) streamAnswer(ctx context.Context, req llm.Request, out *sink, res *Result) (string, error) {
	start := time.Now()
	first := true
	raw, err := p.client.Stream(ctx, req, func(delta string) error {
		if first {
			first = false
			d := time.Since(start)
			p.stages.Observe(observability.StageModelFirstDelta, d)
			p.metrics.ObserveFirstDelta(d)
		}
		return out.send(protocol.Delta(delta))
	})
	elapsed := time.Since(start)
	p.stages.Observe(observability.StageModelCall, elapsed)
	p.metrics.ObserveModelLatency(modeStream, elapsed)
	if err != nil {
		return "", err
	}

	final, changed := policy.SanitizeChanged(raw)
	if changed {
		res.Replaced = true
		p.metrics.SanitizerRewrites.Inc()
		_ = out.send(protocol.Replace(final))
	}
	return final, nil
}

func (p *Pipeline) refreshSummary(ctx context.Context, history []turn.Turn, existing string) (string, error) {
	start := time.Now()
	s, err := p.summarizer.Refresh(ctx, history, existing, p.cfg.SummaryContextTurns, p.cfg.SummaryMaxTokens)
	elapsed := time.Since(start)
	p.stages.Observe(observability.StageSummaryRefresh, elapsed)
	p.metrics.ObserveModelLatency("summary", elapsed)
	if err != nil {
		p.metrics.SummaryRefreshes.WithLabelValues("error").Inc()
		p.metrics.LLMErrors.WithLabelValues("summary", reliability.Classify(err)).Inc()
		return "", err
	}
	p.metrics.SummaryRefreshes.WithLabelValues("ok").Inc()
	return s, nil
}

func (p *Pipeline) fallback(res Result, mode, op string, err error, out *sink) Result {
	code := reliability.Classify(err)
	if op != "summary" {
		p.metrics.LLMErrors.WithLabelValues(op, code).Inc()
	}
	p.logger.Warn("turn degraded to fallback",
		"mode", mode,
		"op", op,
		"code", code,
		"retryable", reliability.Retryable(err),
		"risk", string(res.Risk),
		"err", err,
	)

	res.Text = FallbackMessage
	res.Outcome = OutcomeFallback
	res.Fallback = true
	res.Replaced = false
	_ = out.send(protocol.Replace(FallbackMessage))
	_ = out.send(protocol.Done(string(res.Risk)))
	return res
}

// withUserTurn returns history ending with the user utterance text.
func withUserTurn(history []turn.Turn, text string) []turn.Turn {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == turn.RoleUser {
			if i == len(history)-1 && strings.TrimSpace(history[i].Content) == text {
				return history
			}
			break
		}
	}
	out := make([]turn.Turn, 0, len(history)+1)
	out = append(out, history...)
	return append(out, turn.User(text))
}

// sink forwards events until the first delivery error, then drops the rest.
type sink struct {
	emit Emit
	err  error
}

func (s *sink) send(ev protocol.Event) error {
	if s.emit == nil {
		return nil
	}
	if s.err != nil {
		return s.err
	}
	s.err = s.emit(ev)
	return s.err
}
