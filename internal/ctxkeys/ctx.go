package ctxkeys

import (
	"context"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	UploaderIDKey contextKey = "uploader_id"
	RequestIDKey  contextKey = "request_id"
)

func UploaderID(ctx context.Context) string {
	id, _ := ctx.Value(UploaderIDKey).(string)
	return id
}

func WithUploaderID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UploaderIDKey, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
