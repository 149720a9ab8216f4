package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/solace/internal/turn"
)

func storeBackends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"inmemory": func(t *testing.T) Store { return NewInMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "solace.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func TestConversationLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		c, err := s.CreateConversation(ctx, "u1", "")
		require.NoError(t, err)
		assert.Equal(t, DefaultTitle, c.Title)
		assert.NotEmpty(t, c.ID)

		got, err := s.GetConversation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "u1", got.UserID)

		require.NoError(t, s.RenameConversation(ctx, c.ID, "睡眠"))
		got, err = s.GetConversation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "睡眠", got.Title)

		require.NoError(t, s.DeleteConversation(ctx, c.ID))
		_, err = s.GetConversation(ctx, c.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteConversation(ctx, c.ID), ErrNotFound)
		assert.ErrorIs(t, s.RenameConversation(ctx, c.ID, "x"), ErrNotFound)
	})
}

func TestListConversationsMostRecentFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, err := s.CreateConversation(ctx, "u1", "first")
		require.NoError(t, err)
		second, err := s.CreateConversation(ctx, "u1", "second")
		require.NoError(t, err)
		_, err = s.CreateConversation(ctx, "u2", "other user")
		require.NoError(t, err)

		list, err := s.ListConversations(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)

		_, err = s.AppendMessage(ctx, Message{ConversationID: first.ID, Role: turn.RoleUser, Content: "hi"})
		require.NoError(t, err)

		list, err = s.ListConversations(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, list[0].ID)
	})
}

func TestMessagesQuery(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, err := s.CreateConversation(ctx, "u1", "")
		require.NoError(t, err)

		base := time.Now().UTC()
		seed := []Message{
			{Role: turn.RoleUser, Content: "u1"},
			{Role: turn.RoleAssistant, Content: "a1"},
			{Role: turn.RoleSummary, Content: "s1"},
			{Role: turn.RoleUser, Content: "u2"},
			{Role: turn.RoleCounselor, Sender: "dr-li", Content: "c1"},
			{Role: turn.RoleSummary, Content: "s2"},
		}
		for i, m := range seed {
			m.ConversationID = c.ID
			m.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
			_, err := s.AppendMessage(ctx, m)
			require.NoError(t, err)
		}

		all, err := s.Messages(ctx, c.ID, MessageQuery{})
		require.NoError(t, err)
		require.Len(t, all, 6)
		assert.Equal(t, "u1", all[0].Content)
		assert.Equal(t, "s2", all[5].Content)

		tail, err := s.Messages(ctx, c.ID, MessageQuery{Limit: 2})
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, "c1", tail[0].Content)
		assert.Equal(t, "dr-li", tail[0].Sender)

		summary, err := LatestSummary(ctx, s, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "s2", summary)

		_, err = s.Messages(ctx, "missing", MessageQuery{})
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.AppendMessage(ctx, Message{ConversationID: "missing", Role: turn.RoleUser, Content: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLatestRiskEventsOnePerConversation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a, err := s.CreateConversation(ctx, "u1", "a")
		require.NoError(t, err)
		b, err := s.CreateConversation(ctx, "u2", "b")
		require.NoError(t, err)

		base := time.Now().UTC()
		record := func(conv, level string, offset int) {
			_, err := s.RecordRiskEvent(ctx, RiskEvent{
				ConversationID: conv,
				MessageID:      newID(),
				Level:          level,
				CreatedAt:      base.Add(time.Duration(offset) * time.Millisecond),
			})
			require.NoError(t, err)
		}
		record(a.ID, "LOW", 0)
		record(b.ID, "MEDIUM", 1)
		record(a.ID, "HIGH", 2)

		events, err := s.LatestRiskEvents(ctx)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, a.ID, events[0].ConversationID)
		assert.Equal(t, "HIGH", events[0].Level)
		assert.Equal(t, b.ID, events[1].ConversationID)
	})
}

func TestReviewGetOrCreate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, err := s.CreateConversation(ctx, "u1", "")
		require.NoError(t, err)

		r, err := s.GetReview(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, ReviewOpen, r.Status)
		assert.Nil(t, r.ReviewedAt)

		now := time.Now().UTC().Truncate(time.Millisecond)
		r.Status = ReviewFollowUp
		r.Note = "明天回访"
		r.Reviewer = "dr-li"
		r.ReviewedAt = &now
		_, err = s.SaveReview(ctx, r)
		require.NoError(t, err)

		got, err := s.GetReview(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, ReviewFollowUp, got.Status)
		assert.Equal(t, "明天回访", got.Note)
		require.NotNil(t, got.ReviewedAt)
		assert.True(t, now.Equal(*got.ReviewedAt))

		_, err = s.GetReview(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, "")
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStore{}, s)

	s, err = NewStore(ctx, "sqlite:"+filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLiteStore{}, s)
}

func TestReviewStatusValid(t *testing.T) {
	assert.True(t, ReviewClosed.Valid())
	assert.False(t, ReviewStatus("DONE").Valid())
}

func TestMode(t *testing.T) {
	assert.Equal(t, "in-memory", Mode(" "))
	assert.Equal(t, "sqlite", Mode("sqlite:/tmp/x.db"))
	assert.Equal(t, "postgres", Mode("postgres://localhost/solace"))
}
