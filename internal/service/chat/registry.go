package chat

import (
	"log"
	"sync"

	"github.com/daadii/onechat/backend/internal/service/auth"
)

// Registry holds one controller per signed-in user.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]*Controller

	persist  Persistence
	endpoint Endpoint
	identity auth.Identity
}

// NewRegistry creates an empty registry. Controllers share the collaborators.
func NewRegistry(persist Persistence, ep Endpoint, identity auth.Identity) *Registry {
	return &Registry{
		controllers: make(map[string]*Controller),
		persist:     persist,
		endpoint:    ep,
		identity:    identity,
	}
}

// For returns the user's controller, creating it on first use.
func (r *Registry) For(userID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.controllers[userID]
	if !ok {
		c = NewController(r.persist, r.endpoint, r.identity)
		r.controllers[userID] = c
	}
	return c
}

// Watch resets a user's session when they sign out.
func (r *Registry) Watch(events *auth.Broadcaster) {
	events.Subscribe(r.HandleAuthEvent)
}

// HandleAuthEvent applies an auth transition.
func (r *Registry) HandleAuthEvent(ev auth.Event) {
	if ev.Kind != auth.SignedOut {
		return
	}

	r.mu.Lock()
	c, ok := r.controllers[ev.UserID]
	delete(r.controllers, ev.UserID)
	r.mu.Unlock()

	if ok {
		c.Reset()
		log.Printf("[chat] cleared session for signed-out user=%s", ev.UserID)
	}
}
