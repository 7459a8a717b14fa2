package server

import "context"

// SessionAuthorizer decides whether a request may stream commands into a
// session. The default allows everything; deployments gate sessions by
// supplying their own implementation.
type SessionAuthorizer interface {
	// Authorize returns nil when the bearer token may use the session.
	Authorize(ctx context.Context, sessionID, token string) error
}

// AllowAll authorizes every request.
type AllowAll struct{}

// Authorize always returns nil.
func (AllowAll) Authorize(context.Context, string, string) error { return nil }

var _ SessionAuthorizer = AllowAll{}
