//go:build !js_eval

package pref

// NewJSConstraint is unavailable without the js_eval build tag.
func NewJSConstraint(expression string, opts ...ConstraintOption) (Constraint, error) {
	_ = applyConstraintOptions(opts)
	return nil, wrapConstraintError("js", expression, "", ErrEngineUnavailable)
}

func jsConstraintAvailable() bool {
	return false
}
