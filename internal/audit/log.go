package audit

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"warden.dev/internal/auth"
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

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger writes audit events as structured log entries tagged type=audit.
type Logger struct {
	log *zap.Logger
}

var _ auth.Auditor = (*Logger)(nil)

// New returns an audit logger writing through l.
func New(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{log: l.With(zap.String("type", "audit"))}
}

// Record writes one event enriched with the request id and acting principal.
func (a *Logger) Record(ctx context.Context, event string, fields map[string]any) {
	event = strings.TrimSpace(event)
	if event == "" {
		a.log.Warn("audit event without name dropped")
		return
	}
	zf := make([]zap.Field, 0, len(fields)+4)
	zf = append(zf, zap.String("event", event))
	if rid := RequestIDFromContext(ctx); rid != "" {
		zf = append(zf, zap.String("request_id", rid))
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		zf = append(zf, zap.String("actor_id", p.ID), zap.String("actor_kind", string(p.Kind)))
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}
	a.log.Info("audit", zf...)
}
