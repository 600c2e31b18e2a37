package pref

import (
	"context"
	"fmt"
	"reflect"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

type celConstraint struct {
	cfg        constraintConfig
	program    celgo.Program
	expression string
}

// NewCELConstraint compiles expression with cel-go. value and metadata are
// dynamic, key is a string and now a timestamp. With a function registry,
// call(name, [args]) invokes registered functions.
func NewCELConstraint(expression string, opts ...ConstraintOption) (Constraint, error) {
	if expression == "" {
		return nil, wrapConstraintError("cel", expression, "", fmt.Errorf("expression must not be empty"))
	}
	c := &celConstraint{cfg: applyConstraintOptions(opts), expression: expression}
	program, err := c.loadOrCompile()
	if err != nil {
		return nil, wrapConstraintError("cel", expression, "", err)
	}
	c.program = program
	return c, nil
}

func (c *celConstraint) Check(ctx context.Context, key string, value any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out, _, err := c.program.ContextEval(ctx, c.cfg.environment(key, value))
	if err != nil {
		return wrapConstraintError("cel", c.expression, key, err)
	}
	return verdict("cel", c.expression, key, out.Value())
}

func (c *celConstraint) loadOrCompile() (celgo.Program, error) {
	if c.cfg.cache != nil {
		if cached, ok := c.cfg.cache.Get(c.cacheKey()); ok {
			if program, ok := cached.(celgo.Program); ok {
				return program, nil
			}
		}
	}

	env, err := celgo.NewEnv(c.envOptions()...)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(c.expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if out := ast.OutputType(); !out.IsExactType(celgo.BoolType) && !out.IsExactType(celgo.DynType) {
		return nil, fmt.Errorf("expression yields %s, want bool", out)
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	if c.cfg.cache != nil {
		c.cfg.cache.Set(c.cacheKey(), program)
	}
	return program, nil
}

func (c *celConstraint) envOptions() []celgo.EnvOption {
	opts := []celgo.EnvOption{
		celgo.CrossTypeNumericComparisons(true),
		celgo.Variable("value", celgo.DynType),
		celgo.Variable("key", celgo.StringType),
		celgo.Variable("now", celgo.TimestampType),
		celgo.Variable("metadata", celgo.MapType(celgo.StringType, celgo.DynType)),
	}
	if c.cfg.registry != nil {
		opts = append(opts, celgo.Function("call",
			celgo.Overload("call_string_list",
				[]*celgo.Type{celgo.StringType, celgo.ListType(celgo.DynType)},
				celgo.DynType,
				celgo.BinaryBinding(c.callBinding),
			),
		))
	}
	return opts
}

var anySliceType = reflect.TypeOf([]any{})

func (c *celConstraint) callBinding(nameVal, argsVal ref.Val) ref.Val {
	name, ok := nameVal.Value().(string)
	if !ok {
		return types.NewErr("pref: call name must be string")
	}
	native, err := argsVal.ConvertToNative(anySliceType)
	if err != nil {
		return types.NewErr("pref: call arguments: %v", err)
	}
	args, _ := native.([]any)
	result, err := c.cfg.registry.Call(name, args...)
	if err != nil {
		return types.NewErr("%s", err.Error())
	}
	if result == nil {
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(result)
}

func (c *celConstraint) cacheKey() string {
	return "cel:" + c.cfg.registry.signature() + ":" + c.expression
}
