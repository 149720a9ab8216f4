package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/solace/internal/turn"
)

// PostgresStore persists conversations in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations (user_id, updated_at DESC);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			sender TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, seq);`,
		`CREATE TABLE IF NOT EXISTS risk_events (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			message_id TEXT NOT NULL,
			level TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_conversation ON risk_events (conversation_id, seq DESC);`,
		`CREATE TABLE IF NOT EXISTS risk_reviews (
			conversation_id TEXT PRIMARY KEY REFERENCES conversations(id) ON DELETE CASCADE,
			status TEXT NOT NULL DEFAULT 'OPEN',
			note TEXT NOT NULL DEFAULT '',
			reviewer TEXT NOT NULL DEFAULT '',
			reviewed_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, userID, title string) (Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	now := time.Now().UTC()
	c := Conversation{ID: newID(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var c Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id=$1`, id,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM conversations WHERE user_id=$1 ORDER BY updated_at DESC, created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) RenameConversation(ctx context.Context, id, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title=$2, updated_at=now() WHERE id=$1`, id, title)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	msg = normalizeMessage(msg, time.Now().UTC())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("append message begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at=$2 WHERE id=$1`, msg.ConversationID, msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("append message touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Message{}, ErrNotFound
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, sender, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Sender, msg.Content, msg.CreatedAt,
	); err != nil {
		return Message{}, fmt.Errorf("append message insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("append message commit: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) Messages(ctx context.Context, conversationID string, q MessageQuery) ([]Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}

	// Newest first so LIMIT keeps the tail, reversed below.
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, sender, content, created_at
		 FROM messages
		 WHERE conversation_id=$1 AND ($2 = '' OR role = $2)
		 ORDER BY seq DESC
		 LIMIT CASE WHEN $3::int < 0 THEN NULL ELSE $3::int END`,
		conversationID, string(q.Role), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var items []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Sender, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = turn.Role(role)
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresStore) RecordRiskEvent(ctx context.Context, ev RiskEvent) (RiskEvent, error) {
	if ev.ID == "" {
		ev.ID = newID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO risk_events (id, conversation_id, message_id, level, tags, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.ConversationID, ev.MessageID, ev.Level, ev.Tags, ev.CreatedAt,
	)
	if err != nil {
		return RiskEvent{}, fmt.Errorf("record risk event: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) LatestRiskEvents(ctx context.Context) ([]RiskEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, message_id, level, tags, created_at FROM (
			SELECT DISTINCT ON (conversation_id) seq, id, conversation_id, message_id, level, tags, created_at
			FROM risk_events
			ORDER BY conversation_id, seq DESC
		) latest ORDER BY seq DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query risk events: %w", err)
	}
	defer rows.Close()

	var out []RiskEvent
	for rows.Next() {
		var ev RiskEvent
		if err := rows.Scan(&ev.ID, &ev.ConversationID, &ev.MessageID, &ev.Level, &ev.Tags, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan risk event row: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate risk event rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetReview(ctx context.Context, conversationID string) (Review, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return Review{}, err
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO risk_reviews (conversation_id) VALUES ($1) ON CONFLICT (conversation_id) DO NOTHING`,
		conversationID,
	); err != nil {
		return Review{}, fmt.Errorf("ensure review: %w", err)
	}

	var r Review
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT conversation_id, status, note, reviewer, reviewed_at, updated_at
		 FROM risk_reviews WHERE conversation_id=$1`, conversationID,
	).Scan(&r.ConversationID, &status, &r.Note, &r.Reviewer, &r.ReviewedAt, &r.UpdatedAt)
	if err != nil {
		return Review{}, fmt.Errorf("get review: %w", err)
	}
	r.Status = ReviewStatus(status)
	return r, nil
}

func (s *PostgresStore) SaveReview(ctx context.Context, review Review) (Review, error) {
	if review.Status == "" {
		review.Status = ReviewOpen
	}
	review.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO risk_reviews (conversation_id, status, note, reviewer, reviewed_at, updated_at)
		 SELECT $1, $2, $3, $4, $5, $6 WHERE EXISTS (SELECT 1 FROM conversations WHERE id=$1)
		 ON CONFLICT (conversation_id) DO UPDATE SET
			status=excluded.status, note=excluded.note, reviewer=excluded.reviewer,
			reviewed_at=excluded.reviewed_at, updated_at=excluded.updated_at`,
		review.ConversationID, string(review.Status), review.Note, review.Reviewer, review.ReviewedAt, review.UpdatedAt,
	)
	if err != nil {
		return Review{}, fmt.Errorf("save review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Review{}, ErrNotFound
	}
	return review, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
