// Package zaplog adapts a zap logger to pref.Logger.
package zaplog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	pref "github.com/goliatone/go-preference"
)

// Logger writes binding events to a zap logger. Events carrying an error go
// out at Warn, fallbacks to the default at Info and everything else at
// Debug.
type Logger struct {
	logger *zap.Logger
}

var _ pref.Logger = (*Logger)(nil)

// New wraps logger. A nil logger discards everything.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("pref")}
}

// LogEvent implements pref.Logger.
func (l *Logger) LogEvent(event pref.LogEvent) {
	level := levelFor(event)
	ce := l.logger.Check(level, "binding "+string(event.Op))
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("op", string(event.Op)),
		zap.String("key", event.Key),
	}
	if event.Raw != nil {
		fields = append(fields, zap.Any("raw", event.Raw))
	}
	if event.Removed {
		fields = append(fields, zap.Bool("removed", true))
	}
	if event.Err != nil {
		fields = append(fields, zap.Error(event.Err))
	}
	ce.Write(fields...)
}

func levelFor(event pref.LogEvent) zapcore.Level {
	switch {
	case event.Err != nil:
		return zapcore.WarnLevel
	case event.Op == pref.OpFallback:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
