package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ent0n29/solace/internal/turn"
)

// SQLiteStore keeps conversations in a single local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One shared connection avoids writer lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			seq INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS conversations_user_idx ON conversations(user_id, updated_at_ms DESC, seq DESC);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			sender TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages(conversation_id, created_at_ms);`,
		`CREATE TABLE IF NOT EXISTS risk_events (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			message_id TEXT NOT NULL,
			level TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS risk_events_conversation_idx ON risk_events(conversation_id, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS risk_reviews (
			conversation_id TEXT PRIMARY KEY REFERENCES conversations(id) ON DELETE CASCADE,
			status TEXT NOT NULL DEFAULT 'OPEN',
			note TEXT NOT NULL DEFAULT '',
			reviewer TEXT NOT NULL DEFAULT '',
			reviewed_at_ms INTEGER NOT NULL DEFAULT 0,
			updated_at_ms INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, userID, title string) (Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	now := time.Now().UTC()
	c := Conversation{ID: newID(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO conversations(id, user_id, title, created_at_ms, updated_at_ms, seq)
VALUES(?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM conversations))`,
		c.ID, c.UserID, c.Title, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, title, created_at_ms, updated_at_ms FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var c Conversation
	var createdMS, updatedMS int64
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &createdMS, &updatedMS); err != nil {
		return Conversation{}, err
	}
	c.CreatedAt = time.UnixMilli(createdMS).UTC()
	c.UpdatedAt = time.UnixMilli(updatedMS).UTC()
	return c, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, title, created_at_ms, updated_at_ms
FROM conversations WHERE user_id = ?
ORDER BY seq DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

// touch bumps updated time and list position inside tx.
func touchConversation(ctx context.Context, tx *sql.Tx, id string, atMS int64) error {
	res, err := tx.ExecContext(ctx, `
UPDATE conversations
SET updated_at_ms = ?, seq = (SELECT COALESCE(MAX(seq), 0) + 1 FROM conversations)
WHERE id = ?`, atMS, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RenameConversation(ctx context.Context, id, title string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rename conversation begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := touchConversation(ctx, tx, id, time.Now().UnixMilli()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("rename conversation touch: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET title = ? WHERE id = ?`, title, id); err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	msg = normalizeMessage(msg, time.Now().UTC())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("append message begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := msg.CreatedAt.UnixMilli()
	if err := touchConversation(ctx, tx, msg.ConversationID, created); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("append message touch conversation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO messages(id, conversation_id, role, sender, content, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?)`, msg.ID, msg.ConversationID, string(msg.Role), msg.Sender, msg.Content, created); err != nil {
		return Message{}, fmt.Errorf("append message insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("append message commit: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) Messages(ctx context.Context, conversationID string, q MessageQuery) ([]Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, conversation_id, role, sender, content, created_at_ms
FROM messages
WHERE conversation_id = ? AND (? = '' OR role = ?)
ORDER BY created_at_ms DESC, rowid DESC
LIMIT ?`, conversationID, string(q.Role), string(q.Role), limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var role string
		var createdMS int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Sender, &m.Content, &createdMS); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = turn.Role(role)
		m.CreatedAt = time.UnixMilli(createdMS).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) RecordRiskEvent(ctx context.Context, ev RiskEvent) (RiskEvent, error) {
	if ev.ID == "" {
		ev.ID = newID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO risk_events(id, conversation_id, message_id, level, tags, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?)`, ev.ID, ev.ConversationID, ev.MessageID, ev.Level, ev.Tags, ev.CreatedAt.UnixMilli())
	if err != nil {
		return RiskEvent{}, fmt.Errorf("record risk event: %w", err)
	}
	return ev, nil
}

func (s *SQLiteStore) LatestRiskEvents(ctx context.Context) ([]RiskEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT e.id, e.conversation_id, e.message_id, e.level, e.tags, e.created_at_ms
FROM risk_events e
WHERE e.rowid = (
	SELECT i.rowid FROM risk_events i
	WHERE i.conversation_id = e.conversation_id
	ORDER BY i.created_at_ms DESC, i.rowid DESC
	LIMIT 1
)
ORDER BY e.created_at_ms DESC, e.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list risk events: %w", err)
	}
	defer rows.Close()

	var out []RiskEvent
	for rows.Next() {
		var ev RiskEvent
		var createdMS int64
		if err := rows.Scan(&ev.ID, &ev.ConversationID, &ev.MessageID, &ev.Level, &ev.Tags, &createdMS); err != nil {
			return nil, fmt.Errorf("scan risk event: %w", err)
		}
		ev.CreatedAt = time.UnixMilli(createdMS).UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate risk events: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetReview(ctx context.Context, conversationID string) (Review, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return Review{}, err
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO risk_reviews(conversation_id, updated_at_ms) VALUES(?, ?)
ON CONFLICT(conversation_id) DO NOTHING`, conversationID, time.Now().UnixMilli()); err != nil {
		return Review{}, fmt.Errorf("ensure review: %w", err)
	}

	var r Review
	var status string
	var reviewedMS, updatedMS int64
	err := s.db.QueryRowContext(ctx, `
SELECT conversation_id, status, note, reviewer, reviewed_at_ms, updated_at_ms
FROM risk_reviews WHERE conversation_id = ?`, conversationID).
		Scan(&r.ConversationID, &status, &r.Note, &r.Reviewer, &reviewedMS, &updatedMS)
	if err != nil {
		return Review{}, fmt.Errorf("get review: %w", err)
	}
	r.Status = ReviewStatus(status)
	if reviewedMS > 0 {
		t := time.UnixMilli(reviewedMS).UTC()
		r.ReviewedAt = &t
	}
	r.UpdatedAt = time.UnixMilli(updatedMS).UTC()
	return r, nil
}

func (s *SQLiteStore) SaveReview(ctx context.Context, review Review) (Review, error) {
	if _, err := s.GetConversation(ctx, review.ConversationID); err != nil {
		return Review{}, err
	}
	if review.Status == "" {
		review.Status = ReviewOpen
	}
	review.UpdatedAt = time.Now().UTC()
	var reviewedMS int64
	if review.ReviewedAt != nil {
		reviewedMS = review.ReviewedAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO risk_reviews(conversation_id, status, note, reviewer, reviewed_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(conversation_id) DO UPDATE SET
	status = excluded.status,
	note = excluded.note,
	reviewer = excluded.reviewer,
	reviewed_at_ms = excluded.reviewed_at_ms,
	updated_at_ms = excluded.updated_at_ms`,
		review.ConversationID, string(review.Status), review.Note, review.Reviewer, reviewedMS, review.UpdatedAt.UnixMilli())
	if err != nil {
		return Review{}, fmt.Errorf("save review: %w", err)
	}
	return review, nil
}
