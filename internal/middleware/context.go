package middleware

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Actor is the signed-in operator behind a request.
type Actor struct {
	SessionID  uuid.UUID
	OperatorID uuid.UUID
	Email      string
	FullName   string
	Role       string
	CSRFToken  string
	ExpiresAt  time.Time
}

// HasRole reports whether the operator holds any of roles.
func (a Actor) HasRole(roles ...string) bool {
	return slices.Contains(roles, a.Role)
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	actorKey     contextKey = "actor"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok {
		return ""
	}
	return v
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	v, ok := ctx.Value(actorKey).(Actor)
	return v, ok
}
