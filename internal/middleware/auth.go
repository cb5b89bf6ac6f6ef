package middleware

import (
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/daadii/onechat/backend/internal/service/auth"
	"github.com/daadii/onechat/backend/pkg/utils"
)

// Authenticator verifies bearer tokens and attaches the session to the
// request context. The first authenticated request of a user publishes a
// SignedIn event; a SignedOut event makes the next one publish again.
type Authenticator struct {
	verifier auth.TokenVerifier
	events   *auth.Broadcaster

	mu     sync.Mutex
	active map[string]bool
}

// NewAuthenticator creates the middleware and subscribes it to events.
func NewAuthenticator(verifier auth.TokenVerifier, events *auth.Broadcaster) *Authenticator {
	a := &Authenticator{
		verifier: verifier,
		events:   events,
		active:   make(map[string]bool),
	}
	if events != nil {
		events.Subscribe(a.observe)
	}
	return a
}

// Handler rejects requests without a valid token with 401.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, errMsg := extractToken(r)
		if errMsg != "" {
			utils.RespondError(w, http.StatusUnauthorized, errMsg)
			return
		}

		userID, err := a.verifier.Verify(token)
		if err != nil {
			log.Printf("[auth] rejected token: %v", err)
			utils.RespondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		a.markActive(userID)
		ctx := auth.WithSession(r.Context(), auth.Session{UserID: userID, AccessToken: token})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) markActive(userID string) {
	a.mu.Lock()
	first := !a.active[userID]
	a.active[userID] = true
	a.mu.Unlock()

	if first && a.events != nil {
		a.events.Publish(auth.Event{Kind: auth.SignedIn, UserID: userID})
	}
}

func (a *Authenticator) observe(ev auth.Event) {
	if ev.Kind != auth.SignedOut {
		return
	}
	a.mu.Lock()
	delete(a.active, ev.UserID)
	a.mu.Unlock()
}

// extractToken reads the bearer token. Browsers cannot set headers on a
// websocket handshake, so access_token in the query is accepted as well.
func extractToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, ""
		}
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}
