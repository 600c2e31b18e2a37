// Package metrics counts binding events with Prometheus. A Collector is a
// pref.Logger, so it plugs into pref.WithLogger directly or next to a zap
// adapter through pref.MultiLogger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	pref "github.com/goliatone/go-preference"
)

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "pref").
	Namespace string

	// Subsystem is the metrics subsystem (default: "binding").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// KeyLabel adds the preference key as a label. Leave it off when keys
	// are unbounded.
	KeyLabel bool

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithKeyLabel labels every series with the preference key.
func WithKeyLabel() Option {
	return func(c *Config) {
		c.KeyLabel = true
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "pref",
		Subsystem: "binding",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector counts binding events by operation.
type Collector struct {
	keyLabel bool
	events   *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

var _ pref.Logger = (*Collector)(nil)

// New registers the collector's metrics on the configured registry. Like
// promauto it panics when the metrics are already registered; share one
// Collector across bindings.
func New(opts ...Option) *Collector {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	labels := []string{"op"}
	if cfg.KeyLabel {
		labels = append(labels, "key")
	}

	factory := promauto.With(cfg.Registry)
	return &Collector{
		keyLabel: cfg.KeyLabel,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "events_total",
			Help:        "Binding lifecycle events by operation.",
			ConstLabels: cfg.ConstLabels,
		}, labels),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "errors_total",
			Help:        "Binding events that carried an error, by operation.",
			ConstLabels: cfg.ConstLabels,
		}, labels),
	}
}

// LogEvent implements pref.Logger.
func (c *Collector) LogEvent(event pref.LogEvent) {
	labels := c.labels(event)
	c.events.WithLabelValues(labels...).Inc()
	if event.Err != nil {
		c.errors.WithLabelValues(labels...).Inc()
	}
}

func (c *Collector) labels(event pref.LogEvent) []string {
	if c.keyLabel {
		return []string{string(event.Op), event.Key}
	}
	return []string{string(event.Op)}
}
