package pref

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEngineUnavailable reports a constraint engine compiled out of the
// binary.
var ErrEngineUnavailable = errors.New("pref: constraint engine unavailable")

// Constraint decides whether a raw value may back a key. Check returns nil
// to accept the value. Implementations MUST be safe for concurrent use.
type Constraint interface {
	Check(ctx context.Context, key string, value any) error
}

// ConstraintFunc adapts a function to Constraint.
type ConstraintFunc func(ctx context.Context, key string, value any) error

// Check implements Constraint.
func (f ConstraintFunc) Check(ctx context.Context, key string, value any) error {
	if f == nil {
		return nil
	}
	return f(ctx, key, value)
}

// ProgramCache stores compiled constraint programs keyed by engine and
// expression.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// ConstraintOption configures an expression constraint.
type ConstraintOption func(*constraintConfig)

type constraintConfig struct {
	cache    ProgramCache
	registry *FunctionRegistry
	metadata map[string]any
	now      func() time.Time
}

func applyConstraintOptions(opts []ConstraintOption) constraintConfig {
	cfg := constraintConfig{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.metadata == nil {
		cfg.metadata = map[string]any{}
	}
	return cfg
}

// ConstraintWithProgramCache shares compiled programs through cache.
func ConstraintWithProgramCache(cache ProgramCache) ConstraintOption {
	return func(cfg *constraintConfig) {
		cfg.cache = cache
	}
}

// ConstraintWithFunctionRegistry exposes registry functions to the
// expression, both by name and through call(name, ...).
func ConstraintWithFunctionRegistry(registry *FunctionRegistry) ConstraintOption {
	return func(cfg *constraintConfig) {
		if registry == nil {
			return
		}
		cfg.registry = registry.Clone()
	}
}

// ConstraintWithMetadata makes metadata available as the metadata variable.
func ConstraintWithMetadata(metadata map[string]any) ConstraintOption {
	return func(cfg *constraintConfig) {
		cfg.metadata = cloneMetadata(metadata)
	}
}

// ConstraintWithClock overrides the source of the now variable.
func ConstraintWithClock(now func() time.Time) ConstraintOption {
	return func(cfg *constraintConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// environment is the variable set every engine exposes.
func (cfg constraintConfig) environment(key string, value any) map[string]any {
	return map[string]any{
		"value":    value,
		"key":      key,
		"now":      cfg.now(),
		"metadata": cfg.metadata,
	}
}

// verdict maps an expression result to a Check outcome.
func verdict(engine, expression, key string, result any) error {
	accepted, ok := result.(bool)
	if !ok {
		return wrapConstraintError(engine, expression, key, fmt.Errorf("%w: result %T is not a boolean", ErrConstraintViolated, result))
	}
	if !accepted {
		return wrapConstraintError(engine, expression, key, ErrConstraintViolated)
	}
	return nil
}

func cloneMetadata(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
