package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu            sync.RWMutex
	seq           int64
	conversations map[string]*convRecord
	now           func() time.Time
}

type convRecord struct {
	conv     Conversation
	seq      int64
	messages []Message
	events   []seqEvent
	review   *Review
}

type seqEvent struct {
	ev  RiskEvent
	seq int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*convRecord),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) nextSeq() int64 {
	s.seq++
	return s.seq
}

func (s *InMemoryStore) CreateConversation(_ context.Context, userID, title string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	now := s.now()
	c := Conversation{ID: newID(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	s.conversations[c.ID] = &convRecord{conv: c, seq: s.nextSeq()}
	return c, nil
}

func (s *InMemoryStore) GetConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return rec.conv, nil
}

func (s *InMemoryStore) ListConversations(_ context.Context, userID string) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]*convRecord, 0)
	for _, rec := range s.conversations {
		if rec.conv.UserID == userID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq > recs[j].seq })
	out := make([]Conversation, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.conv)
	}
	return out, nil
}

func (s *InMemoryStore) RenameConversation(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	rec.conv.Title = title
	s.touch(rec)
	return nil
}

func (s *InMemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	return nil
}

// touch bumps the conversation's updated time and list position.
func (s *InMemoryStore) touch(rec *convRecord) {
	rec.conv.UpdatedAt = s.now()
	rec.seq = s.nextSeq()
}

func (s *InMemoryStore) AppendMessage(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[msg.ConversationID]
	if !ok {
		return Message{}, ErrNotFound
	}
	msg = normalizeMessage(msg, s.now())
	rec.messages = append(rec.messages, msg)
	s.touch(rec)
	return msg, nil
}

func (s *InMemoryStore) Messages(_ context.Context, conversationID string, q MessageQuery) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Message, 0, len(rec.messages))
	for _, m := range rec.messages {
		if q.Role == "" || m.Role == q.Role {
			out = append(out, m)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

func (s *InMemoryStore) RecordRiskEvent(_ context.Context, ev RiskEvent) (RiskEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[ev.ConversationID]
	if !ok {
		return RiskEvent{}, ErrNotFound
	}
	if ev.ID == "" {
		ev.ID = newID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	rec.events = append(rec.events, seqEvent{ev: ev, seq: s.nextSeq()})
	return ev, nil
}

func (s *InMemoryStore) LatestRiskEvents(_ context.Context) ([]RiskEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make([]seqEvent, 0, len(s.conversations))
	for _, rec := range s.conversations {
		if n := len(rec.events); n > 0 {
			latest = append(latest, rec.events[n-1])
		}
	}
	sort.Slice(latest, func(i, j int) bool { return latest[i].seq > latest[j].seq })
	out := make([]RiskEvent, 0, len(latest))
	for _, e := range latest {
		out = append(out, e.ev)
	}
	return out, nil
}

func (s *InMemoryStore) GetReview(_ context.Context, conversationID string) (Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[conversationID]
	if !ok {
		return Review{}, ErrNotFound
	}
	if rec.review == nil {
		rec.review = &Review{ConversationID: conversationID, Status: ReviewOpen, UpdatedAt: s.now()}
	}
	return *rec.review, nil
}

func (s *InMemoryStore) SaveReview(_ context.Context, review Review) (Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[review.ConversationID]
	if !ok {
		return Review{}, ErrNotFound
	}
	if review.Status == "" {
		review.Status = ReviewOpen
	}
	review.UpdatedAt = s.now()
	rec.review = &review
	return review, nil
}

func (s *InMemoryStore) Close() error { return nil }
