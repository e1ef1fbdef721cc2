package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyProjectID contextKey = "project_id"
	keyRequestID contextKey = "request_id"
)

// WithProjectID adds the authenticated project ID to context.
func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, keyProjectID, projectID)
}

// ProjectID extracts the project ID from context.
func ProjectID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyProjectID).(string)
	return v, ok && v != ""
}

// WithRequestID adds the request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts the request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}
