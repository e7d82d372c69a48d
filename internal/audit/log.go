// Package audit emits structured audit events for security-relevant
// actions: logins, token revocations, authorization denials.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"sentra.org/internal/ids"
	"sentra.org/internal/obs"
)

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	actorKey     ctxKey = "audit_actor"
)

// WithRequestID attaches the request identifier to the context for audit
// logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithActor records which user the audited actions are attributed to.
func WithActor(ctx context.Context, userID string) context.Context {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, userID)
}

// ActorFromContext extracts the acting user id from context if present.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(actorKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes one audit entry enriched with request and actor context.
// Every entry carries a unique audit id so downstream pipelines can
// deduplicate on redelivery.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}

	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("audit_id", ids.New()),
		slog.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if actor := ActorFromContext(ctx); actor != "" {
		attrs = append(attrs, slog.String("actor", actor))
	}
	if len(fields) > 0 {
		kv := make([]any, 0, len(fields))
		for k, v := range fields {
			kv = append(kv, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("fields", kv...))
	}

	obs.Logger().LogAttrs(ctx, slog.LevelInfo, event, attrs...)
	return nil
}
