package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daadii/onechat/backend/internal/model/chat"
)

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store, tick func())) {
	t.Run("memory", func(t *testing.T) {
		s := NewMemoryStore()
		clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		s.now = func() time.Time { return clock }
		fn(t, s, func() { clock = clock.Add(time.Second) })
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		s.now = func() time.Time { return clock }
		fn(t, s, func() { clock = clock.Add(time.Second) })
	})
}

func TestNewSQLiteStoreCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "chat.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestCreateConversationRequiresUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ func()) {
		_, err := s.CreateConversation(context.Background(), "")
		assert.ErrorIs(t, err, ErrUserMissing)
	})
}

func TestConversationLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, tick func()) {
		ctx := context.Background()

		conv, err := s.CreateConversation(ctx, "user-1")
		require.NoError(t, err)
		assert.NotEmpty(t, conv.ID)

		tick()
		require.NoError(t, s.UpdateConversationTitle(ctx, conv.ID, "Hello"))

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "Hello", got.Title)
		assert.Equal(t, "user-1", got.UserID)
		assert.True(t, got.UpdatedAt.After(conv.UpdatedAt))

		require.NoError(t, s.DeleteConversation(ctx, conv.ID))
		_, err = s.GetConversation(ctx, conv.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteConversation(ctx, conv.ID), ErrNotFound)
		assert.ErrorIs(t, s.UpdateConversationTitle(ctx, conv.ID, "x"), ErrNotFound)
	})
}

func TestListConversationsOrderAndCap(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, tick func()) {
		ctx := context.Background()

		var ids []string
		for i := 0; i < 3; i++ {
			conv, err := s.CreateConversation(ctx, "user-1")
			require.NoError(t, err)
			ids = append(ids, conv.ID)
			tick()
		}
		_, err := s.CreateConversation(ctx, "someone-else")
		require.NoError(t, err)

		// Activity on the oldest moves it to the front.
		tick()
		_, err = s.InsertMessage(ctx, chat.StoredMessage{ConversationID: ids[0], Role: chat.RoleUser, Content: "bump"})
		require.NoError(t, err)

		list, err := s.ListConversations(ctx, "user-1", 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, ids[0], list[0].ID)
		assert.Equal(t, ids[2], list[1].ID)

		all, err := s.ListConversations(ctx, "user-1", 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestMessagesOrderedByCreation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, tick func()) {
		ctx := context.Background()
		conv, err := s.CreateConversation(ctx, "user-1")
		require.NoError(t, err)

		contents := []string{"first", "second", "third"}
		for i, c := range contents {
			role := chat.RoleUser
			if i%2 == 1 {
				role = chat.RoleAssistant
			}
			saved, err := s.InsertMessage(ctx, chat.StoredMessage{ConversationID: conv.ID, Role: role, Content: c})
			require.NoError(t, err)
			assert.NotEmpty(t, saved.ID)
		}

		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		for i, m := range msgs {
			assert.Equal(t, contents[i], m.Content)
		}
		assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	})
}

func TestMessagesRequireConversation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ func()) {
		ctx := context.Background()
		_, err := s.InsertMessage(ctx, chat.StoredMessage{ConversationID: "missing", Role: chat.RoleUser, Content: "x"})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.ListMessages(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
