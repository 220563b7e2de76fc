package id

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	turnIDKey    contextKey = "turn_id"
	userIDKey    contextKey = "user_id"
)

// WithSessionID attaches a session identifier to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext returns the session identifier, or "" when absent.
func SessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// WithTurnID attaches a turn identifier to the context.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, turnIDKey, turnID)
}

// TurnIDFromContext returns the turn identifier, or "" when absent.
func TurnIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(turnIDKey).(string)
	return v
}

// WithUserID attaches a user identifier to the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the user identifier, or "" when absent.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}
