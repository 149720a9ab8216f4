package memory

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/solace/internal/turn"
)

// DefaultTitle names a conversation until the user renames it.
const DefaultTitle = "新对话"

var ErrNotFound = errors.New("memory: not found")

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one persisted turn. Sender names the human author of counselor
// messages and is empty otherwise.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           turn.Role `json:"role"`
	Sender         string    `json:"sender,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// RiskEvent records the triage level of one user message.
type RiskEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Level          string    `json:"level"`
	Tags           string    `json:"tags,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type ReviewStatus string

const (
	ReviewOpen     ReviewStatus = "OPEN"
	ReviewReviewed ReviewStatus = "REVIEWED"
	ReviewFollowUp ReviewStatus = "FOLLOW_UP"
	ReviewClosed   ReviewStatus = "CLOSED"
)

func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewOpen, ReviewReviewed, ReviewFollowUp, ReviewClosed:
		return true
	default:
		return false
	}
}

// Review is the counselor's follow-up record for one conversation.
type Review struct {
	ConversationID string       `json:"conversation_id"`
	Status         ReviewStatus `json:"status"`
	Note           string       `json:"note"`
	Reviewer       string       `json:"reviewer,omitempty"`
	ReviewedAt     *time.Time   `json:"reviewed_at,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// MessageQuery narrows Messages. Role filters by role when set; Limit keeps
// only the newest Limit matches when positive. Results are chronological.
type MessageQuery struct {
	Role  turn.Role
	Limit int
}

// Store persists conversations, their messages, risk events and reviews.
type Store interface {
	CreateConversation(ctx context.Context, userID, title string) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	// ListConversations returns the user's conversations, most recently
	// updated first.
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	RenameConversation(ctx context.Context, id, title string) error
	// DeleteConversation removes the conversation and everything it owns.
	DeleteConversation(ctx context.Context, id string) error

	// AppendMessage stores msg and bumps the conversation's updated time.
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	Messages(ctx context.Context, conversationID string, q MessageQuery) ([]Message, error)

	RecordRiskEvent(ctx context.Context, ev RiskEvent) (RiskEvent, error)
	// LatestRiskEvents returns the newest event of every conversation, newest
	// first.
	LatestRiskEvents(ctx context.Context) ([]RiskEvent, error)

	// GetReview returns the conversation's review, creating an OPEN one on
	// first access.
	GetReview(ctx context.Context, conversationID string) (Review, error)
	SaveReview(ctx context.Context, review Review) (Review, error)

	Close() error
}

// LatestSummary returns the newest summary message content, or "".
func LatestSummary(ctx context.Context, s Store, conversationID string) (string, error) {
	msgs, err := s.Messages(ctx, conversationID, MessageQuery{Role: turn.RoleSummary, Limit: 1})
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", nil
	}
	return msgs[0].Content, nil
}

func normalizeMessage(msg Message, now time.Time) Message {
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	return msg
}
