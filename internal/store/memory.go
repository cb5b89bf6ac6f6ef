package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daadii/onechat/backend/internal/model/chat"
)

// MemoryStore keeps conversations in process memory, suitable for tests and local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]chat.Conversation
	messages      map[string][]chat.StoredMessage
	now           func() time.Time
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]chat.Conversation),
		messages:      make(map[string][]chat.StoredMessage),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateConversation provisions an untitled conversation for the user.
func (s *MemoryStore) CreateConversation(_ context.Context, userID string) (chat.Conversation, error) {
	if userID == "" {
		return chat.Conversation{}, ErrUserMissing
	}

	conv := chat.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     "New Chat",
		UpdatedAt: s.now(),
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.messages[conv.ID] = make([]chat.StoredMessage, 0, 16)
	s.mu.Unlock()

	return conv, nil
}

// GetConversation retrieves a conversation by identifier.
func (s *MemoryStore) GetConversation(_ context.Context, id string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, ErrNotFound
	}
	return conv, nil
}

// ListConversations returns the user's conversations, newest activity first.
func (s *MemoryStore) ListConversations(_ context.Context, userID string, limit int) ([]chat.Conversation, error) {
	s.mu.RLock()
	out := make([]chat.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			out = append(out, conv)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateConversationTitle renames a conversation.
func (s *MemoryStore) UpdateConversationTitle(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Title = title
	conv.UpdatedAt = s.now()
	s.conversations[id] = conv
	return nil
}

// DeleteConversation removes a conversation and its messages.
func (s *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

// InsertMessage appends a message to the conversation history.
func (s *MemoryStore) InsertMessage(_ context.Context, msg chat.StoredMessage) (chat.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return chat.StoredMessage{}, ErrNotFound
	}

	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)

	conv.UpdatedAt = msg.CreatedAt
	s.conversations[conv.ID] = conv
	return msg, nil
}

// ListMessages returns stored messages for the conversation in creation order.
func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]chat.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	copied := make([]chat.StoredMessage, len(messages))
	copy(copied, messages)
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].CreatedAt.Before(copied[j].CreatedAt)
	})
	return copied, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
