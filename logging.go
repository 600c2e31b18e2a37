package pref

// EventOp names a binding lifecycle step.
type EventOp string

const (
	OpSeed     EventOp = "seed"
	OpFallback EventOp = "fallback"
	OpNotify   EventOp = "notify"
	OpSuppress EventOp = "suppress"
	OpEcho     EventOp = "echo"
	OpWrite    EventOp = "write"
	OpRemove   EventOp = "remove"
	OpReject   EventOp = "reject"
	OpClosed   EventOp = "closed"
)

// LogEvent describes a binding step for logging and metrics.
type LogEvent struct {
	Op      EventOp
	Key     string
	Raw     any
	Removed bool
	Err     error
}

// Logger records binding events. LogEvent may run while the binding holds
// its lock and must not call back into the binding.
type Logger interface {
	LogEvent(LogEvent)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(LogEvent)

// LogEvent implements Logger.
func (f LoggerFunc) LogEvent(event LogEvent) {
	if f != nil {
		f(event)
	}
}

type noopLogger struct{}

func (noopLogger) LogEvent(LogEvent) {}

// MultiLogger fans events out to every non-nil logger in order.
func MultiLogger(loggers ...Logger) Logger {
	filtered := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if logger != nil {
			filtered = append(filtered, logger)
		}
	}
	switch len(filtered) {
	case 0:
		return noopLogger{}
	case 1:
		return filtered[0]
	}
	return LoggerFunc(func(event LogEvent) {
		for _, logger := range filtered {
			logger.LogEvent(event)
		}
	})
}
