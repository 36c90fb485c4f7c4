// Package context carries request-scoped identifiers used by logs and traces.
package context

import (
	"context"
	"strings"

	"github.com/smallbiznis/creditmeter/pkg/telemetry/correlation"
)

type userIDKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return correlation.ContextWithCorrelationID(ctx, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return correlation.ExtractCorrelationID(ctx)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey{}, userID)
}

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(userIDKey{}).(string); ok {
		return v
	}
	return ""
}
