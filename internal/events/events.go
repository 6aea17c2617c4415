// Package events is the diagnostic sink used by proxy sessions.
//
// Sessions report what happened to them through a [Sink] instead of writing
// log lines directly, so the accept loop decides where diagnostics go.
// Implementations must be safe for concurrent use.
package events

import (
	"context"
	"log/slog"
)

// Severity orders events from chatty to serious.
type Severity int

const (
	Debug Severity = iota
	Info
	Warn
	Error
)

func (s Severity) String() string {
	switch s {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Sink receives diagnostic events. context identifies the emitter (usually a
// client address) and detail is free text.
type Sink interface {
	RecordEvent(sev Severity, context, detail string)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(sev Severity, context, detail string)

func (f SinkFunc) RecordEvent(sev Severity, context, detail string) {
	f(sev, context, detail)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Severity, string, string) {})

type slogSink struct {
	l *slog.Logger
}

// NewSlogSink returns a Sink writing events to l. A nil l uses
// slog.Default().
func NewSlogSink(l *slog.Logger) Sink {
	if l == nil {
		l = slog.Default()
	}
	return &slogSink{l: l}
}

func (s *slogSink) RecordEvent(sev Severity, context, detail string) {
	lvl := sev.level()
	if !s.l.Enabled(bg, lvl) {
		return
	}
	s.l.Log(bg, lvl, detail, "conn", context)
}

var bg = context.Background()

func (s Severity) level() slog.Level {
	switch s {
	case Debug:
		return slog.LevelDebug
	case Info:
		return slog.LevelInfo
	case Warn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
