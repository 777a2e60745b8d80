package shared

import "context"

// Actor identifies who performs an engine operation and where. It is passed
// explicitly into every mutating call; there is no ambient current-user state.
type Actor struct {
	UserID int64
}

type actorContextKey struct{}

// ContextWithActor stores the acting user in context for handler plumbing.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting user from context.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
