package core

import "context"

type contextKey string

const ctxKeyActor contextKey = "actor"

// Actor identifies the client behind a request, for audit entries.
type Actor struct {
	IPAddress string
	UserAgent string
}

// ContextWithActor attaches the requesting client to ctx.
func ContextWithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, a)
}

// ActorFromContext returns the client attached by ContextWithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKeyActor).(Actor)
	return a, ok
}
