// Package auditctx carries request metadata from the HTTP boundary down to audit persistence.
package auditctx

import "context"

// Actor describes who issued a request and from where.
type Actor struct {
	UserID    string
	SessionID string
	IPAddress string
	UserAgent string
}

type actorContextKey struct{}

// WithActor returns a derived context holding actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext extracts previously stored actor metadata.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// Merge overlays the non-empty fields of update onto the actor already stored in ctx.
func Merge(ctx context.Context, update Actor) context.Context {
	actor, _ := FromContext(ctx)
	if update.UserID != "" {
		actor.UserID = update.UserID
	}
	if update.SessionID != "" {
		actor.SessionID = update.SessionID
	}
	if update.IPAddress != "" {
		actor.IPAddress = update.IPAddress
	}
	if update.UserAgent != "" {
		actor.UserAgent = update.UserAgent
	}
	return WithActor(ctx, actor)
}
