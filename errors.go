package pref

import (
	"errors"
	"fmt"
	"strings"
)

// KeyDelimiter is reserved by change-notification paths and may not appear
// in binding keys.
const KeyDelimiter = "."

var (
	// ErrInvalidKey reports a key that is empty or contains KeyDelimiter.
	ErrInvalidKey = errors.New("pref: invalid key")
	// ErrConstraintViolated reports a value rejected by a constraint.
	ErrConstraintViolated = errors.New("pref: constraint violated")
)

// ValidateKey reports whether key can back a Binding.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidKey)
	}
	if strings.Contains(key, KeyDelimiter) {
		return fmt.Errorf("%w: %q contains %q, change notifications cannot be correlated", ErrInvalidKey, key, KeyDelimiter)
	}
	return nil
}

// ConstraintError captures constraint metadata alongside the originating
// error.
type ConstraintError struct {
	Engine string
	Expr   string
	Key    string
	Err    error
}

func (e *ConstraintError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("pref: %s constraint %s key=%s: %v", e.Engine, describeExpression(e.Expr), e.Key, e.Err)
}

func (e *ConstraintError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func describeExpression(expr string) string {
	if expr == "" {
		return "expr=<empty>"
	}
	return fmt.Sprintf("expr=%q", expr)
}

func wrapConstraintError(engine, expr, key string, err error) error {
	if err == nil {
		return nil
	}

	var constraintErr *ConstraintError
	if errors.As(err, &constraintErr) {
		if constraintErr.Engine == "" {
			constraintErr.Engine = engine
		}
		if constraintErr.Expr == "" {
			constraintErr.Expr = expr
		}
		if constraintErr.Key == "" {
			constraintErr.Key = key
		}
		return constraintErr
	}

	return &ConstraintError{
		Engine: engine,
		Expr:   expr,
		Key:    key,
		Err:    err,
	}
}
