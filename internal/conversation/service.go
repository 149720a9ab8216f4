// Package conversation drives chat turns against persistent storage: it loads
// conversation state, runs the pipeline and records everything it produced.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/pipeline"
	"github.com/ent0n29/solace/internal/policy"
	"github.com/ent0n29/solace/internal/turn"
)

var ErrForbidden = errors.New("conversation: not owned by user")

type Config struct {
	// MaxInputChars truncates user input, counted in runes. Zero disables.
	MaxInputChars int
}

type Service struct {
	store    memory.Store
	pipeline *pipeline.Pipeline
	cfg      Config
	logger   *slog.Logger
}

func NewService(store memory.Store, p *pipeline.Pipeline, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, pipeline: p, cfg: cfg, logger: logger}
}

// Reply is the persisted outcome of one chat turn.
type Reply struct {
	ConversationID string       `json:"conversation_id"`
	MessageID      string       `json:"message_id"`
	Text           string       `json:"reply"`
	Risk           policy.Level `json:"risk"`
	Fallback       bool         `json:"fallback,omitempty"`
}

func (s *Service) Create(ctx context.Context, userID, title string) (memory.Conversation, error) {
	return s.store.CreateConversation(ctx, userID, strings.TrimSpace(title))
}

func (s *Service) List(ctx context.Context, userID string) ([]memory.Conversation, error) {
	return s.store.ListConversations(ctx, userID)
}

func (s *Service) Rename(ctx context.Context, userID, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return &llm.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	return s.store.RenameConversation(ctx, id, title)
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	return s.store.DeleteConversation(ctx, id)
}

// Messages lists what the user sees: their turns, replies and counselor
// messages. Summaries stay internal.
func (s *Service) Messages(ctx context.Context, userID, id string) ([]memory.Message, error) {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return nil, err
	}
	all, err := s.store.Messages(ctx, id, memory.MessageQuery{})
	if err != nil {
		return nil, err
	}
	out := make([]memory.Message, 0, len(all))
	for _, m := range all {
		if m.Role != turn.RoleSummary {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Service) owned(ctx context.Context, userID, id string) (memory.Conversation, error) {
	c, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return memory.Conversation{}, err
	}
	if c.UserID != userID {
		return memory.Conversation{}, ErrForbidden
	}
	return c, nil
}

// Send runs one blocking chat turn.
func (s *Service) Send(ctx context.Context, userID, conversationID, text string) (Reply, error) {
	return s.send(ctx, userID, conversationID, text, nil)
}

// SendStream runs one streaming chat turn, forwarding events to emit.
func (s *Service) SendStream(ctx context.Context, userID, conversationID, text string, emit pipeline.Emit) (Reply, error) {
	if emit == nil {
		return Reply{}, fmt.Errorf("send stream: nil emit")
	}
	return s.send(ctx, userID, conversationID, text, emit)
}

func (s *Service) send(ctx context.Context, userID, conversationID, text string, emit pipeline.Emit) (Reply, error) {
	text = truncateRunes(strings.TrimSpace(text), s.cfg.MaxInputChars)
	if text == "" {
		return Reply{}, &llm.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if _, err := s.owned(ctx, userID, conversationID); err != nil {
		return Reply{}, err
	}

	userMsg, err := s.store.AppendMessage(ctx, memory.Message{
		ConversationID: conversationID,
		Role:           turn.RoleUser,
		Content:        text,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("save user message: %w", err)
	}

	in, err := s.loadState(ctx, conversationID)
	if err != nil {
		return Reply{}, err
	}
	in.Text = text

	var res pipeline.Result
	if emit != nil {
		res, err = s.pipeline.Stream(ctx, in, emit)
	} else {
		res, err = s.pipeline.Reply(ctx, in)
	}
	if err != nil {
		return Reply{}, err
	}

	// The client may be gone; the turn is still recorded.
	ctx = context.WithoutCancel(ctx)

	if _, err := s.store.RecordRiskEvent(ctx, memory.RiskEvent{
		ConversationID: conversationID,
		MessageID:      userMsg.ID,
		Level:          string(res.Risk),
		Tags:           strings.Join(res.Hits, ","),
	}); err != nil {
		s.logger.Error("record risk event failed", "conversation_id", conversationID, "err", err)
	}
	for _, sum := range res.Summaries {
		if _, err := s.store.AppendMessage(ctx, memory.Message{
			ConversationID: conversationID,
			Role:           turn.RoleSummary,
			Content:        sum,
		}); err != nil {
			s.logger.Error("save summary failed", "conversation_id", conversationID, "err", err)
		}
	}
	reply, err := s.store.AppendMessage(ctx, memory.Message{
		ConversationID: conversationID,
		Role:           turn.RoleAssistant,
		Content:        res.Text,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("save assistant message: %w", err)
	}

	s.logger.Debug("turn recorded",
		"conversation_id", conversationID,
		"risk", string(res.Risk),
		"outcome", res.Outcome,
		"input", policy.Preview(text, 48),
	)
	return Reply{
		ConversationID: conversationID,
		MessageID:      reply.ID,
		Text:           res.Text,
		Risk:           res.Risk,
		Fallback:       res.Fallback,
	}, nil
}

// loadState rebuilds the pipeline input: the base system prompt followed by
// the user/assistant turns, the newest summary and the completed reply count.
func (s *Service) loadState(ctx context.Context, conversationID string) (pipeline.Input, error) {
	msgs, err := s.store.Messages(ctx, conversationID, memory.MessageQuery{})
	if err != nil {
		return pipeline.Input{}, fmt.Errorf("load conversation: %w", err)
	}
	in := pipeline.Input{
		History: make([]turn.Turn, 0, len(msgs)+1),
	}
	in.History = append(in.History, turn.System(policy.BaseSystemPrompt()))
	for _, m := range msgs {
		switch m.Role {
		case turn.RoleSummary:
			in.Summary = m.Content
		case turn.RoleUser, turn.RoleAssistant:
			in.History = append(in.History, turn.Turn{Role: m.Role, Content: m.Content})
			if m.Role == turn.RoleAssistant {
				in.CompletedTurns++
			}
		}
	}
	return in, nil
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
