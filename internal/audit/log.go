package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"cluelyguard.com/internal/auth"
	"cluelyguard.com/internal/obs"
)

// Security-relevant events emitted by the service.
const (
	EventLoginSucceeded = "auth.login.succeeded"
	EventLoginFailed    = "auth.login.failed"
	EventLogout         = "auth.logout"
	EventAPIKeyIssued   = "auth.apikey.issued"
	EventIngestBatch    = "ingest.batch"
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

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with the request id and the
// authenticated principal, if any.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		attrs = append(attrs,
			slog.String("principal", string(p.Kind())),
			slog.String("org_id", p.OrgID()),
		)
		switch v := p.(type) {
		case auth.UserPrincipal:
			attrs = append(attrs, slog.String("user_id", v.UserID()), slog.String("role", v.Role().String()))
		case auth.AgentPrincipal:
			attrs = append(attrs, slog.String("agent_id", v.AgentID()), slog.String("key_fingerprint", v.KeyFingerprint()))
		}
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	attrs = append(attrs, slog.Any("fields", copyFields))

	obs.Logger().LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}
