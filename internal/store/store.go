package store

import (
	"context"
	"errors"

	"github.com/daadii/onechat/backend/internal/model/chat"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrUserMissing = errors.New("user id is required")
)

// Store is the record store behind conversations and their messages.
type Store interface {
	// CreateConversation inserts a new untitled conversation owned by userID.
	CreateConversation(ctx context.Context, userID string) (chat.Conversation, error)
	GetConversation(ctx context.Context, id string) (chat.Conversation, error)
	// ListConversations returns the user's conversations, most recently updated first.
	ListConversations(ctx context.Context, userID string, limit int) ([]chat.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
	DeleteConversation(ctx context.Context, id string) error

	InsertMessage(ctx context.Context, msg chat.StoredMessage) (chat.StoredMessage, error)
	// ListMessages returns a conversation's messages oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]chat.StoredMessage, error)

	Close() error
}
