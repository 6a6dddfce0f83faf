package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type tournamentKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

// WithTournament tags the context with the tournament identifier being served.
func WithTournament(ctx context.Context, identifier string) context.Context {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ctx
	}
	return context.WithValue(ctx, tournamentKey{}, identifier)
}

func TournamentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(tournamentKey{}).(string)
	return value
}

type actorKey struct{}

type actor struct {
	kind string
	id   string
}

// WithActor records who is acting on the request, e.g. "director" or "bowler".
func WithActor(ctx context.Context, kind, id string) context.Context {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor{kind: kind, id: strings.TrimSpace(id)})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(actorKey{}).(actor)
	if !ok {
		return "", ""
	}
	return value.kind, value.id
}
