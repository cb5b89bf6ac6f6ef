package transcript

import (
	"errors"
	"sync"

	"github.com/daadii/onechat/backend/internal/model/chat"
)

var (
	ErrEmpty       = errors.New("transcript is empty")
	ErrNotInFlight = errors.New("last message is not an assistant reply")
)

// EventKind identifies a transcript mutation.
type EventKind string

const (
	EventAppend   EventKind = "append"
	EventUpdate   EventKind = "update"
	EventTruncate EventKind = "truncate"
	EventReplace  EventKind = "replace"
)

// Event describes one mutation. Index is the position of the affected
// message; for truncate it is the new length, for replace Messages holds the
// full new contents.
type Event struct {
	Kind     EventKind      `json:"kind"`
	Index    int            `json:"index"`
	Message  *chat.Message  `json:"message,omitempty"`
	Messages []chat.Message `json:"messages,omitempty"`
}

// Transcript is the ordered message list of the active conversation.
// Subscribers are called synchronously, in mutation order, while the write
// lock is held; they must not call back into the Transcript.
type Transcript struct {
	mu          sync.RWMutex
	messages    []chat.Message
	subscribers map[int]func(Event)
	nextSubID   int
}

// New returns an empty transcript.
func New() *Transcript {
	return &Transcript{
		messages:    make([]chat.Message, 0, 16),
		subscribers: make(map[int]func(Event)),
	}
}

// Subscribe registers fn for every subsequent mutation and returns a cancel func.
func (t *Transcript) Subscribe(fn func(Event)) (cancel func()) {
	t.mu.Lock()
	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subscribers, id)
		t.mu.Unlock()
	}
}

// Append adds msg as the new last element.
func (t *Transcript) Append(msg chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = append(t.messages, msg)
	copied := msg
	t.publish(Event{Kind: EventAppend, Index: len(t.messages) - 1, Message: &copied})
}

// AppendToLast extends the content of the in-flight assistant message.
func (t *Transcript) AppendToLast(delta string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.messages) == 0 {
		return ErrEmpty
	}
	last := len(t.messages) - 1
	if t.messages[last].Role != chat.RoleAssistant {
		return ErrNotInFlight
	}

	t.messages[last].Content += delta
	copied := t.messages[last]
	t.publish(Event{Kind: EventUpdate, Index: last, Message: &copied})
	return nil
}

// TruncateLast removes the last element.
func (t *Transcript) TruncateLast() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.messages) == 0 {
		return ErrEmpty
	}
	t.messages = t.messages[:len(t.messages)-1]
	t.publish(Event{Kind: EventTruncate, Index: len(t.messages)})
	return nil
}

// Replace swaps the whole content, as done by a conversation load or reset.
func (t *Transcript) Replace(messages []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = append(make([]chat.Message, 0, len(messages)+16), messages...)
	t.publish(Event{Kind: EventReplace, Messages: t.snapshotLocked()})
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Snapshot returns a copy of the messages in order.
func (t *Transcript) Snapshot() []chat.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Transcript) snapshotLocked() []chat.Message {
	copied := make([]chat.Message, len(t.messages))
	copy(copied, t.messages)
	return copied
}

func (t *Transcript) publish(ev Event) {
	for _, fn := range t.subscribers {
		fn(ev)
	}
}
