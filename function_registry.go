package pref

import (
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// Function is a helper callable from constraint expressions.
type Function func(args ...any) (any, error)

// FunctionRegistry holds helpers shared by constraint engines. Names are
// unique ignoring case and keep the spelling they were registered with. The
// zero value is ready to use.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]namedFunction
}

type namedFunction struct {
	name string
	fn   Function
}

// NewFunctionRegistry returns an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{}
}

// StandardFunctions returns a registry preloaded with the helpers most
// preference constraints need:
//
//	between(v, lo, hi)  lo <= v <= hi for numeric arguments
//	oneOf(v, a, b, ...) v equals one of the remaining arguments
//	matches(v, pattern) v is a string matching the regular expression
func StandardFunctions() *FunctionRegistry {
	r := NewFunctionRegistry()
	r.MustRegister("between", between)
	r.MustRegister("oneOf", oneOf)
	r.MustRegister("matches", matches)
	return r
}

// Register adds fn under name. Names must be unique ignoring case.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return fmt.Errorf("pref: function name must not be empty")
	case fn == nil:
		return fmt.Errorf("pref: function %q is nil", name)
	}

	folded := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.functions[folded]; taken {
		return fmt.Errorf("pref: function %q already registered", name)
	}
	if r.functions == nil {
		r.functions = map[string]namedFunction{}
	}
	r.functions[folded] = namedFunction{name: name, fn: fn}
	return nil
}

// MustRegister is Register that panics on error.
func (r *FunctionRegistry) MustRegister(name string, fn Function) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the function registered for name.
func (r *FunctionRegistry) Lookup(name string) (Function, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.functions[strings.ToLower(name)]
	return entry.fn, ok
}

// Call invokes the function registered for name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	fn, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("pref: function %q not registered", name)
	}
	return fn(args...)
}

// Clone returns an independent copy. Later registrations on either side do
// not affect the other.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &FunctionRegistry{functions: make(map[string]namedFunction, len(r.functions))}
	for folded, entry := range r.functions {
		clone.functions[folded] = entry
	}
	return clone
}

// Names returns the registered names as spelled at registration, sorted.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for _, entry := range r.functions {
		names = append(names, entry.name)
	}
	slices.Sort(names)
	return names
}

// signature identifies the registered set for program cache keys.
func (r *FunctionRegistry) signature() string {
	return strings.Join(r.Names(), ",")
}

func between(args ...any) (any, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("between: want 3 arguments, got %d", len(args))
	}
	var bounds [3]float64
	for i, arg := range args {
		n, ok := numeric(arg)
		if !ok {
			return false, nil
		}
		bounds[i] = n
	}
	return bounds[1] <= bounds[0] && bounds[0] <= bounds[2], nil
}

func oneOf(args ...any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("oneOf: want at least 1 argument")
	}
	a, isNumber := numeric(args[0])
	for _, candidate := range args[1:] {
		if isNumber {
			if b, ok := numeric(candidate); ok && a == b {
				return true, nil
			}
			continue
		}
		if reflect.DeepEqual(args[0], candidate) {
			return true, nil
		}
	}
	return false, nil
}

// numeric widens Go numbers to float64. Booleans are not numbers here.
func numeric(arg any) (float64, bool) {
	if _, isBool := arg.(bool); isBool {
		return 0, false
	}
	n, ok := rawNumber(arg)
	if !ok {
		return 0, false
	}
	return n.float64(), true
}

var patternCache sync.Map

func matches(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("matches: want 2 arguments, got %d", len(args))
	}
	value, ok := args[0].(string)
	if !ok {
		return false, nil
	}
	pattern, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("matches: pattern must be a string, got %T", args[1])
	}
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(value), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("matches: %w", err)
	}
	patternCache.Store(pattern, re)
	return re.MatchString(value), nil
}
