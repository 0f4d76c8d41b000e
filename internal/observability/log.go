// Package observability wraps the zap structured logger behind the small
// Info/Warn/Error/Debug verb set erigon call sites use, and exposes the
// Prometheus registry shared by the compaction, expiration, and cache
// statistics counters.
package observability

import (
	"go.uber.org/zap"
)

// Logger is the sugared verb surface every package logs through.
type Logger struct {
	s *zap.SugaredLogger
}

var root *Logger

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	root = &Logger{s: l.Sugar()}
}

// Root returns the process-wide default logger, mirroring erigon's
// log.Root() call convention.
func Root() *Logger { return root }

// New returns a child logger carrying the given static fields, analogous to
// erigon's log.New(ctx...).
func New(keyvals ...any) *Logger {
	return &Logger{s: root.s.With(keyvals...)}
}

func (l *Logger) Debug(msg string, keyvals ...any) { l.s.Debugw(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...any)  { l.s.Infow(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...any)  { l.s.Warnw(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...any) { l.s.Errorw(msg, keyvals...) }

// Sync flushes any buffered log entries; callers invoke this on shutdown.
func (l *Logger) Sync() error { return l.s.Sync() }
