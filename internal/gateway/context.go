package gateway

import (
	"context"
	"time"

	"github.com/risecrm/apigate/internal/models"
)

type ctxKey int

const (
	apiKeyCtxKey ctxKey = iota
	startCtxKey
)

// WithAPIKey stores the authenticated key in the request context.
func WithAPIKey(ctx context.Context, key *models.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyCtxKey, key)
}

// APIKeyFrom returns the authenticated key, or nil before authentication.
func APIKeyFrom(ctx context.Context) *models.APIKey {
	key, _ := ctx.Value(apiKeyCtxKey).(*models.APIKey)
	return key
}

// WithStart stores the request start time for response timing metadata.
func WithStart(ctx context.Context, start time.Time) context.Context {
	return context.WithValue(ctx, startCtxKey, start)
}

// StartFrom returns the request start time, falling back to now for
// handlers invoked outside the pipeline.
func StartFrom(ctx context.Context) time.Time {
	if start, ok := ctx.Value(startCtxKey).(time.Time); ok {
		return start
	}
	return time.Now()
}
