package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the calling service/administrator identity in
// context. It feeds the requested_by field of decision audit records.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor identity, empty when unauthenticated.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	return actor
}
