package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/pactsign-backend/pkg/enums"
)

// Actor is the authenticated caller behind a request.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

type actorKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

// UserIDFromContext returns "" for anonymous requests.
func UserIDFromContext(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == uuid.Nil {
		return ""
	}
	return actor.UserID.String()
}
