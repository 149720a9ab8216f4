package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/turn"
)

const (
	summaryExcerptRunes = 200
	detailMessageLimit  = 12
)

// DashboardRow is one conversation on the counselor risk dashboard.
type DashboardRow struct {
	ConversationID string              `json:"conversation_id"`
	Title          string              `json:"title"`
	UserID         string              `json:"user_id"`
	Level          string              `json:"level"`
	Tags           string              `json:"tags,omitempty"`
	At             time.Time           `json:"at"`
	Summary        string              `json:"summary"`
	ReviewStatus   memory.ReviewStatus `json:"review_status"`
}

type Detail struct {
	Conversation memory.Conversation `json:"conversation"`
	Summary      string              `json:"summary"`
	Messages     []memory.Message    `json:"messages"`
	Review       memory.Review       `json:"review"`
}

// Console is the counselor-facing view over all conversations.
type Console struct {
	store memory.Store
	now   func() time.Time
}

func NewConsole(store memory.Store) *Console {
	return &Console{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Dashboard lists the latest risk event of every conversation, newest first.
func (c *Console) Dashboard(ctx context.Context) ([]DashboardRow, error) {
	events, err := c.store.LatestRiskEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("load risk events: %w", err)
	}
	rows := make([]DashboardRow, 0, len(events))
	for _, ev := range events {
		conv, err := c.store.GetConversation(ctx, ev.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("load conversation %s: %w", ev.ConversationID, err)
		}
		summary, err := memory.LatestSummary(ctx, c.store, ev.ConversationID)
		if err != nil {
			return nil, err
		}
		review, err := c.store.GetReview(ctx, ev.ConversationID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, DashboardRow{
			ConversationID: conv.ID,
			Title:          conv.Title,
			UserID:         conv.UserID,
			Level:          ev.Level,
			Tags:           ev.Tags,
			At:             ev.CreatedAt,
			Summary:        excerpt(summary, summaryExcerptRunes),
			ReviewStatus:   review.Status,
		})
	}
	return rows, nil
}

func (c *Console) Detail(ctx context.Context, conversationID string) (Detail, error) {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return Detail{}, err
	}
	summary, err := memory.LatestSummary(ctx, c.store, conversationID)
	if err != nil {
		return Detail{}, err
	}
	msgs, err := c.store.Messages(ctx, conversationID, memory.MessageQuery{Limit: detailMessageLimit})
	if err != nil {
		return Detail{}, err
	}
	review, err := c.store.GetReview(ctx, conversationID)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Conversation: conv, Summary: summary, Messages: msgs, Review: review}, nil
}

// SubmitReview records a counselor note. An empty status keeps the current one.
func (c *Console) SubmitReview(ctx context.Context, conversationID, reviewer string, status memory.ReviewStatus, note string) (memory.Review, error) {
	if status != "" && !status.Valid() {
		return memory.Review{}, &llm.ValidationError{Field: "status", Reason: "unknown review status"}
	}
	review, err := c.store.GetReview(ctx, conversationID)
	if err != nil {
		return memory.Review{}, err
	}
	if status != "" {
		review.Status = status
	}
	now := c.now()
	review.Note = note
	review.Reviewer = reviewer
	review.ReviewedAt = &now
	return c.store.SaveReview(ctx, review)
}

func (c *Console) Send(ctx context.Context, conversationID, sender, text string) (memory.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return memory.Message{}, &llm.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	return c.store.AppendMessage(ctx, memory.Message{
		ConversationID: conversationID,
		Role:           turn.RoleCounselor,
		Sender:         sender,
		Content:        text,
	})
}

// CounselorMessages lists counselor messages of a conversation. Non-staff
// callers only see their own conversations.
func (c *Console) CounselorMessages(ctx context.Context, userID, conversationID string, staff bool) ([]memory.Message, error) {
	if !staff {
		conv, err := c.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conv.UserID != userID {
			return nil, ErrForbidden
		}
	}
	return c.store.Messages(ctx, conversationID, memory.MessageQuery{Role: turn.RoleCounselor})
}

func excerpt(s string, maxRunes int) string {
	if s == "" {
		return ""
	}
	return truncateRunes(s, maxRunes) + "…"
}
