package pref

import "github.com/goliatone/go-preference/pkg/activity"

// defaultEchoWindow bounds how many unacknowledged local writes a binding
// remembers while waiting for the store to echo them back.
const defaultEchoWindow = 64

// Option configures a Binding.
type Option func(*bindingConfig)

type bindingConfig struct {
	logger      Logger
	constraints []Constraint
	activity    *activity.Emitter
	event       activity.PreferenceEventInput
	echoWindow  int
}

func applyOptions(opts []Option) bindingConfig {
	cfg := bindingConfig{
		logger:     noopLogger{},
		echoWindow: defaultEchoWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithLogger attaches a logger to the binding. Combine several sinks, such
// as a zap adapter and a metrics collector, with MultiLogger.
func WithLogger(logger Logger) Option {
	return func(cfg *bindingConfig) {
		if logger == nil {
			cfg.logger = noopLogger{}
			return
		}
		cfg.logger = logger
	}
}

// WithConstraint adds a constraint every stored and written value must
// satisfy. Stored values that fail fall back to the default; written values
// that fail are dropped.
func WithConstraint(constraint Constraint) Option {
	return func(cfg *bindingConfig) {
		if constraint != nil {
			cfg.constraints = append(cfg.constraints, constraint)
		}
	}
}

// WithActivity emits a preference activity event through emitter for every
// delivered change. base supplies the actor, tenant and channel fields.
func WithActivity(emitter *activity.Emitter, base activity.PreferenceEventInput) Option {
	return func(cfg *bindingConfig) {
		cfg.activity = emitter
		cfg.event = base
	}
}

// WithEchoWindow overrides how many pending local writes are matched
// against store echoes. Values below one disable echo recognition.
func WithEchoWindow(size int) Option {
	return func(cfg *bindingConfig) {
		cfg.echoWindow = size
	}
}
