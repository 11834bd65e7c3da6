// Package audit records group lifecycle events as audit log entries.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"rotasave.org/internal/auth"
	"rotasave.org/internal/ids"
	"rotasave.org/internal/obs"
	"rotasave.org/internal/rosca"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
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

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
		slog.String("ts", time.Now().UTC().Format(time.RFC3339Nano)),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	attrs = append(attrs, slog.Any("fields", copyFields))

	obs.Logger().LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}

// Sink writes every engine event to the audit log.
type Sink struct{}

var _ rosca.EventSink = Sink{}

func (Sink) Emit(ctx context.Context, evt rosca.Event) error {
	fields := map[string]any{
		"event_id": evt.ID,
		"group_id": evt.GroupID,
		"cycle":    evt.Cycle,
	}
	if evt.Member != "" {
		fields["member"] = string(evt.Member)
	}
	if evt.Amount != 0 {
		fields["amount"] = evt.Amount
	}
	if evt.Timestamp != 0 {
		fields["timestamp"] = evt.Timestamp
	}
	if at, ok := ids.Time(evt.ID); ok {
		fields["emitted_at"] = at.UTC().Format(time.RFC3339Nano)
	}
	return LogEvent(ctx, string(evt.Kind), fields)
}
