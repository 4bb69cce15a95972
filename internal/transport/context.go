package transport

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	returnToKey  contextKey = "return_to"
)

// WithSessionID binds a session id to an outgoing request context.
func WithSessionID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sid)
}

// SessionIDFrom extracts the session id bound to the context.
func SessionIDFrom(ctx context.Context) (string, bool) {
	sid, ok := ctx.Value(sessionIDKey).(string)
	return sid, ok && sid != ""
}

// WithReturnTo records the browser location that originated this request,
// so a login redirect can bring the user back afterwards.
func WithReturnTo(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, returnToKey, path)
}

// ReturnToFrom extracts the originating browser location.
func ReturnToFrom(ctx context.Context) string {
	path, _ := ctx.Value(returnToKey).(string)
	return path
}
