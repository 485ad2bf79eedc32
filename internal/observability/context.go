package observability

import "context"

type contextKey int

const (
	requestIDKey contextKey = iota
	updateIDKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithUpdateID tags ctx with the platform update being handled so every log
// line for one delivery carries it.
func WithUpdateID(ctx context.Context, updateID int) context.Context {
	return context.WithValue(ctx, updateIDKey, updateID)
}

func UpdateIDFromContext(ctx context.Context) (int, bool) {
	if ctx == nil {
		return 0, false
	}
	v, ok := ctx.Value(updateIDKey).(int)
	return v, ok
}
