package auth

import (
	"context"
	"errors"
)

// ErrNoSession 表示当前请求没有已登录的身份。
var ErrNoSession = errors.New("no authenticated session")

// Session is the signed-in identity: who the user is and the bearer token
// forwarded to the model endpoint.
type Session struct {
	UserID      string
	AccessToken string
}

// Identity looks up the current session.
type Identity interface {
	Current(ctx context.Context) (Session, error)
}

type sessionKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session attached by WithSession.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	if !ok || s.UserID == "" {
		return Session{}, false
	}
	return s, true
}

// ContextIdentity resolves the session that the HTTP middleware placed on the request context.
type ContextIdentity struct{}

// Current implements Identity.
func (ContextIdentity) Current(ctx context.Context) (Session, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return Session{}, ErrNoSession
	}
	return s, nil
}
