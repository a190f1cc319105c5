// Package requestid carries the request ID of an API call through context
// so that work queued on its behalf logs the same ID.
package requestid

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header is the HTTP header carrying the request ID.
const Header = "X-Request-ID"

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or "" when absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Ensure returns id when it is a usable client-supplied ID, otherwise a
// new UUID.
func Ensure(id string) string {
	if id == "" || len(id) > 128 {
		return uuid.New().String()
	}
	return id
}

// Logger adds the context's request ID to logger, if there is one.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id := FromContext(ctx); id != "" {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}
