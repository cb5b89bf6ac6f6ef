package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/daadii/onechat/backend/internal/model/chat"
	"github.com/daadii/onechat/backend/internal/service/auth"
	"github.com/daadii/onechat/backend/internal/service/endpoint"
	"github.com/daadii/onechat/backend/internal/service/persistence"
	"github.com/daadii/onechat/backend/internal/service/stream"
	"github.com/daadii/onechat/backend/internal/service/transcript"
)

var (
	ErrEmptyMessage            = errors.New("message is empty")
	ErrBusy                    = errors.New("a message is already being sent")
	ErrConversationUnavailable = errors.New("failed to create conversation")
	ErrSendFailed              = errors.New("failed to send message")
)

// State is the phase of the current send cycle.
type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingConversation State = "awaiting_conversation"
	StateSending              State = "sending"
	StateStreaming            State = "streaming"
)

// Endpoint opens a streamed reply for a message list.
type Endpoint interface {
	Stream(ctx context.Context, token string, messages []chat.Message) (io.ReadCloser, error)
}

// Persistence is what the controller needs from the persistence adapter.
type Persistence interface {
	EnsureConversation(ctx context.Context, current string) (string, error)
	SaveMessage(ctx context.Context, conversationID string, role chat.Role, content string)
	RenameConversation(ctx context.Context, conversationID, firstMessage string)
	LoadConversation(ctx context.Context, conversationID string) ([]chat.Message, error)
}

var _ Persistence = (*persistence.Adapter)(nil)

// Controller owns one user's transcript and active conversation and runs
// send cycles against the model endpoint, one at a time.
type Controller struct {
	mu             sync.Mutex
	state          State
	conversationID string

	transcript *transcript.Transcript
	persist    Persistence
	endpoint   Endpoint
	identity   auth.Identity

	listeners *listeners
}

// NewController wires a controller with an empty transcript.
func NewController(persist Persistence, ep Endpoint, identity auth.Identity) *Controller {
	c := &Controller{
		state:      StateIdle,
		transcript: transcript.New(),
		persist:    persist,
		endpoint:   ep,
		identity:   identity,
		listeners:  newListeners(),
	}
	c.transcript.Subscribe(func(ev transcript.Event) {
		c.listeners.publish(Update{Type: UpdateTranscript, Event: &ev})
	})
	return c
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConversationID returns the active conversation, or "" before the first send.
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Messages returns a copy of the transcript.
func (c *Controller) Messages() []chat.Message {
	return c.transcript.Snapshot()
}

// Subscribe registers fn for transcript, notice and state updates.
func (c *Controller) Subscribe(fn func(Update)) (cancel func()) {
	return c.listeners.add(fn)
}

// Send runs one full cycle for text: optimistic append, conversation
// resolution, network call, streaming and persistence of the reply. Any
// aborting failure rolls the transcript back to its pre-send length, raises a
// notice and returns an error; the controller is idle again on return.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if !c.begin() {
		return ErrBusy
	}
	defer c.setState(StateIdle)

	prior := c.transcript.Snapshot()
	baseLen := len(prior)
	userMsg := chat.Message{Role: chat.RoleUser, Content: text}
	c.transcript.Append(userMsg)

	c.setState(StateAwaitingConversation)
	convID, err := c.persist.EnsureConversation(ctx, c.ConversationID())
	if err != nil {
		c.rollback(baseLen)
		c.notify(chat.Notice{Kind: chat.NoticeError, Title: "Error", Description: "Failed to create conversation"})
		return fmt.Errorf("%w: %v", ErrConversationUnavailable, err)
	}
	c.setConversation(convID)

	c.setState(StateSending)
	c.persist.SaveMessage(ctx, convID, chat.RoleUser, text)
	if baseLen == 0 {
		c.persist.RenameConversation(ctx, convID, text)
	}

	session, err := c.identity.Current(ctx)
	if err != nil {
		return c.fail(baseLen, err)
	}

	body, err := c.endpoint.Stream(ctx, session.AccessToken, append(prior, userMsg))
	if err != nil {
		return c.fail(baseLen, err)
	}
	defer body.Close()

	c.setState(StateStreaming)
	c.transcript.Append(chat.Message{Role: chat.RoleAssistant})
	res, err := stream.Pump(body, func(delta string) {
		if err := c.transcript.AppendToLast(delta); err != nil {
			log.Printf("[chat] dropping delta for conversation %s: %v", convID, err)
		}
	})
	if err != nil {
		return c.fail(baseLen, err)
	}

	if res.Content != "" {
		c.persist.SaveMessage(ctx, convID, chat.RoleAssistant, res.Content)
	}
	log.Printf("[chat] settled conversation=%s deltas=%d terminated=%t", convID, res.Deltas, res.Terminated)
	return nil
}

// LoadConversation replaces the transcript and session with a stored conversation.
func (c *Controller) LoadConversation(ctx context.Context, conversationID string) error {
	if c.State() != StateIdle {
		return ErrBusy
	}
	messages, err := c.persist.LoadConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	c.transcript.Replace(messages)
	c.setConversation(conversationID)
	return nil
}

// NewConversation clears the transcript and forgets the active conversation.
func (c *Controller) NewConversation() error {
	if c.State() != StateIdle {
		return ErrBusy
	}
	c.Reset()
	return nil
}

// Reset clears transcript and session unconditionally, as on sign-out.
func (c *Controller) Reset() {
	c.transcript.Replace(nil)
	c.setConversation("")
}

// ForgetConversation resets the session if id is the active conversation,
// e.g. after it was deleted.
func (c *Controller) ForgetConversation(id string) {
	if c.ConversationID() == id {
		c.Reset()
	}
}

func (c *Controller) begin() bool {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return false
	}
	c.state = StateAwaitingConversation
	c.mu.Unlock()
	c.listeners.publish(Update{Type: UpdateState, State: StateAwaitingConversation})
	return true
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.listeners.publish(Update{Type: UpdateState, State: s})
}

func (c *Controller) setConversation(id string) {
	c.mu.Lock()
	c.conversationID = id
	c.mu.Unlock()
}

// rollback truncates the transcript back to length n.
func (c *Controller) rollback(n int) {
	for c.transcript.Len() > n {
		if err := c.transcript.TruncateLast(); err != nil {
			return
		}
	}
}

// fail rolls back, raises the notice matching err and returns the cycle error.
func (c *Controller) fail(baseLen int, err error) error {
	log.Printf("[chat] send failed: %v", err)
	c.rollback(baseLen)
	notice := noticeFor(err)
	c.notify(notice)

	switch notice.Kind {
	case chat.NoticeRateLimit, chat.NoticeQuota:
		return err
	}
	return fmt.Errorf("%w: %v", ErrSendFailed, err)
}

func (c *Controller) notify(n chat.Notice) {
	c.listeners.publish(Update{Type: UpdateNotice, Notice: &n})
}

// noticeFor maps a cycle failure to the notice shown to the user.
func noticeFor(err error) chat.Notice {
	switch {
	case errors.Is(err, endpoint.ErrRateLimited):
		return chat.Notice{
			Kind:        chat.NoticeRateLimit,
			Title:       "Rate Limit Exceeded",
			Description: "Too many requests. Please try again in a moment.",
		}
	case errors.Is(err, endpoint.ErrQuotaExceeded):
		return chat.Notice{
			Kind:        chat.NoticeQuota,
			Title:       "Credits Required",
			Description: "Please add credits to your workspace to continue.",
		}
	}

	description := "Failed to send message"
	var statusErr *endpoint.StatusError
	switch {
	case errors.As(err, &statusErr):
		description = "Failed to get response"
		if statusErr.Message != "" {
			description = statusErr.Message
		}
	case errors.Is(err, endpoint.ErrNoBody):
		description = "No response body"
	}
	return chat.Notice{Kind: chat.NoticeError, Title: "Error", Description: description}
}
