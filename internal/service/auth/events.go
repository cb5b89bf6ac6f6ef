package auth

import "sync"

// EventKind is a sign-in state transition.
type EventKind string

const (
	SignedIn  EventKind = "signed_in"
	SignedOut EventKind = "signed_out"
)

// Event reports an auth transition for one user.
type Event struct {
	Kind   EventKind
	UserID string
}

// Broadcaster fans auth transitions out to subscribers. Handlers run
// synchronously on the publishing goroutine, in registration order.
type Broadcaster struct {
	mu       sync.RWMutex
	handlers []func(Event)
}

// NewBroadcaster returns a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe registers fn for every later event.
func (b *Broadcaster) Subscribe(fn func(Event)) {
	b.mu.Lock()
	b.handlers = append(b.handlers, fn)
	b.mu.Unlock()
}

// Publish delivers ev to all subscribers.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	handlers := append(([]func(Event))(nil), b.handlers...)
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
