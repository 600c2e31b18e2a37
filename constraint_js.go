//go:build js_eval

package pref

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
)

type jsConstraint struct {
	cfg        constraintConfig
	program    *goja.Program
	expression string
}

// NewJSConstraint compiles expression with goja. Evaluation is interrupted
// when the Check context is cancelled.
func NewJSConstraint(expression string, opts ...ConstraintOption) (Constraint, error) {
	if expression == "" {
		return nil, wrapConstraintError("js", expression, "", fmt.Errorf("expression must not be empty"))
	}
	c := &jsConstraint{cfg: applyConstraintOptions(opts), expression: expression}
	program, err := c.loadOrCompile()
	if err != nil {
		return nil, wrapConstraintError("js", expression, "", err)
	}
	c.program = program
	return c, nil
}

func (c *jsConstraint) Check(ctx context.Context, key string, value any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	vm := goja.New()
	for name, v := range c.cfg.environment(key, value) {
		if err := vm.Set(name, v); err != nil {
			return wrapConstraintError("js", c.expression, key, err)
		}
	}
	if c.cfg.registry != nil {
		registry := c.cfg.registry
		_ = vm.Set("call", func(name string, arguments ...any) (any, error) {
			return registry.Call(name, arguments...)
		})
		for _, name := range registry.Names() {
			fn := name
			_ = vm.Set(fn, func(arguments ...any) (any, error) {
				return registry.Call(fn, arguments...)
			})
		}
	}

	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	result, err := vm.RunProgram(c.program)
	if err != nil {
		return wrapConstraintError("js", c.expression, key, err)
	}
	return verdict("js", c.expression, key, result.Export())
}

func (c *jsConstraint) loadOrCompile() (*goja.Program, error) {
	if c.cfg.cache != nil {
		if cached, ok := c.cfg.cache.Get(c.cacheKey()); ok {
			if program, ok := cached.(*goja.Program); ok {
				return program, nil
			}
		}
	}
	program, err := goja.Compile("", fmt.Sprintf("(function(){ return (%s); })()", c.expression), false)
	if err != nil {
		return nil, err
	}
	if c.cfg.cache != nil {
		c.cfg.cache.Set(c.cacheKey(), program)
	}
	return program, nil
}

func jsConstraintAvailable() bool {
	return true
}

func (c *jsConstraint) cacheKey() string {
	return "js:" + c.cfg.registry.signature() + ":" + c.expression
}
