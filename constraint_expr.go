package pref

import (
	"context"
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

type exprConstraint struct {
	cfg        constraintConfig
	program    *exprvm.Program
	expression string
}

// NewExprConstraint compiles expression with expr-lang/expr. The expression
// sees value, key, now and metadata and must evaluate to a boolean.
func NewExprConstraint(expression string, opts ...ConstraintOption) (Constraint, error) {
	if expression == "" {
		return nil, wrapConstraintError("expr", expression, "", fmt.Errorf("expression must not be empty"))
	}
	c := &exprConstraint{cfg: applyConstraintOptions(opts), expression: expression}
	program, err := c.loadOrCompile()
	if err != nil {
		return nil, err
	}
	c.program = program
	return c, nil
}

func (c *exprConstraint) Check(_ context.Context, key string, value any) error {
	result, err := exprlang.Run(c.program, c.environment(key, value))
	if err != nil {
		return wrapConstraintError("expr", c.expression, key, err)
	}
	return verdict("expr", c.expression, key, result)
}

func (c *exprConstraint) loadOrCompile() (*exprvm.Program, error) {
	if c.cfg.cache != nil {
		if cached, ok := c.cfg.cache.Get(c.cacheKey()); ok {
			if program, ok := cached.(*exprvm.Program); ok {
				return program, nil
			}
		}
	}
	options := []exprlang.Option{
		exprlang.Env(c.compileEnv()),
		exprlang.AllowUndefinedVariables(),
		exprlang.AsBool(),
	}
	for _, name := range c.registryNames() {
		options = append(options, exprlang.Function(name, c.registryFunction(name)))
	}
	program, err := exprlang.Compile(c.expression, options...)
	if err != nil {
		return nil, wrapConstraintError("expr", c.expression, "", err)
	}
	if c.cfg.cache != nil {
		c.cfg.cache.Set(c.cacheKey(), program)
	}
	return program, nil
}

func (c *exprConstraint) environment(key string, value any) map[string]any {
	env := c.cfg.environment(key, value)
	if c.cfg.registry != nil {
		env["call"] = c.call
	}
	return env
}

// compileEnv declares only what has a static type; value, key, now and
// metadata resolve at run time.
func (c *exprConstraint) compileEnv() map[string]any {
	env := map[string]any{}
	if c.cfg.registry != nil {
		env["call"] = c.call
	}
	return env
}

func (c *exprConstraint) call(name string, arguments ...any) (any, error) {
	return c.cfg.registry.Call(name, arguments...)
}

func (c *exprConstraint) registryNames() []string {
	if c.cfg.registry == nil {
		return nil
	}
	return c.cfg.registry.Names()
}

func (c *exprConstraint) registryFunction(name string) func(...any) (any, error) {
	return func(arguments ...any) (any, error) {
		return c.cfg.registry.Call(name, arguments...)
	}
}

func (c *exprConstraint) cacheKey() string {
	return "expr:" + c.cfg.registry.signature() + ":" + c.expression
}
