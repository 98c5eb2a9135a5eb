package shared

import "context"

type sessionContextKey struct{}

type actorContextKey struct{}

// Actor identifies who a request acts as. ImpersonatorID is set while an
// administrator browses as another user; authorization uses UserID and
// audit records both.
type Actor struct {
	UserID         int64
	ImpersonatorID int64
}

// Impersonating reports whether the actor is an impersonated session.
func (a Actor) Impersonating() bool {
	return a.ImpersonatorID != 0
}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithActor stores the acting principal in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the acting principal, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || actor.UserID <= 0 {
		return Actor{}, false
	}
	return actor, true
}
