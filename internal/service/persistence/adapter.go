package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/daadii/onechat/backend/internal/model/chat"
	"github.com/daadii/onechat/backend/internal/service/auth"
	"github.com/daadii/onechat/backend/internal/store"
)

var (
	ErrNotAuthenticated = errors.New("user not authenticated")
	ErrForbidden        = errors.New("conversation belongs to another user")
)

// DefaultHistoryLimit caps the conversation list.
const DefaultHistoryLimit = 20

// Adapter mirrors transcript events into the conversation store. It never
// touches the in-memory transcript and does not retry failed calls.
type Adapter struct {
	store        store.Store
	identity     auth.Identity
	historyLimit int
}

// New creates an adapter; historyLimit <= 0 uses DefaultHistoryLimit.
func New(st store.Store, identity auth.Identity, historyLimit int) *Adapter {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Adapter{store: st, identity: identity, historyLimit: historyLimit}
}

// EnsureConversation returns current when a session is already active,
// otherwise creates a conversation for the signed-in user.
func (a *Adapter) EnsureConversation(ctx context.Context, current string) (string, error) {
	if current != "" {
		return current, nil
	}

	session, err := a.identity.Current(ctx)
	if err != nil {
		log.Printf("[persist] user not authenticated: %v", err)
		return "", fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	conv, err := a.store.CreateConversation(ctx, session.UserID)
	if err != nil {
		log.Printf("[persist] error creating conversation: %v", err)
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return conv.ID, nil
}

// SaveMessage stores one message. Failures are logged and swallowed so they
// never block the send cycle.
func (a *Adapter) SaveMessage(ctx context.Context, conversationID string, role chat.Role, content string) {
	_, err := a.store.InsertMessage(ctx, chat.StoredMessage{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	})
	if err != nil {
		log.Printf("[persist] error saving %s message to %s: %v", role, conversationID, err)
	}
}

// RenameConversation titles the conversation after its first user message.
func (a *Adapter) RenameConversation(ctx context.Context, conversationID, firstMessage string) {
	if err := a.store.UpdateConversationTitle(ctx, conversationID, chat.TitleFrom(firstMessage)); err != nil {
		log.Printf("[persist] error renaming conversation %s: %v", conversationID, err)
	}
}

// LoadConversation fetches every message of the conversation in creation order.
func (a *Adapter) LoadConversation(ctx context.Context, conversationID string) ([]chat.Message, error) {
	if _, err := a.owned(ctx, conversationID); err != nil {
		return nil, err
	}

	stored, err := a.store.ListMessages(ctx, conversationID)
	if err != nil {
		log.Printf("[persist] error loading conversation %s: %v", conversationID, err)
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	messages := make([]chat.Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, m.Message())
	}
	return messages, nil
}

// ListConversations returns the signed-in user's recent conversations.
func (a *Adapter) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	session, err := a.identity.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	list, err := a.store.ListConversations(ctx, session.UserID, a.historyLimit)
	if err != nil {
		log.Printf("[persist] error loading conversations: %v", err)
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if list == nil {
		list = []chat.Conversation{}
	}
	return list, nil
}

// DeleteConversation removes one of the signed-in user's conversations.
func (a *Adapter) DeleteConversation(ctx context.Context, conversationID string) error {
	if _, err := a.owned(ctx, conversationID); err != nil {
		return err
	}
	if err := a.store.DeleteConversation(ctx, conversationID); err != nil {
		log.Printf("[persist] error deleting conversation %s: %v", conversationID, err)
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// owned loads the conversation and checks it belongs to the current user.
func (a *Adapter) owned(ctx context.Context, conversationID string) (chat.Conversation, error) {
	session, err := a.identity.Current(ctx)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	conv, err := a.store.GetConversation(ctx, conversationID)
	if err != nil {
		return chat.Conversation{}, err
	}
	if conv.UserID != session.UserID {
		return chat.Conversation{}, ErrForbidden
	}
	return conv, nil
}
