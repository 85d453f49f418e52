// Package audit records security-relevant business events as structured log
// records on a dedicated "audit" group.
package audit

import (
	"context"
	"log/slog"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

type Event struct {
	Actor    string
	Resource string
	Action   string
	Result   string
	Details  map[string]any
}

type Logger struct {
	log *slog.Logger
}

func NewLogger(log *slog.Logger) *Logger {
	return &Logger{log: log.With("component", "audit")}
}

// LogEvent never fails; audit records are best effort.
func (l *Logger) LogEvent(ctx context.Context, kind string, e Event) {
	attrs := []any{
		slog.String("kind", kind),
		slog.String("actor", e.Actor),
		slog.String("resource", e.Resource),
		slog.String("action", e.Action),
		slog.String("result", e.Result),
	}
	if len(e.Details) > 0 {
		details := make([]any, 0, len(e.Details))
		for k, v := range e.Details {
			details = append(details, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("details", details...))
	}

	level := slog.LevelInfo
	if e.Result == ResultFailure {
		level = slog.LevelWarn
	}
	l.log.Log(ctx, level, "audit event", slog.Group("audit", attrs...))
}
