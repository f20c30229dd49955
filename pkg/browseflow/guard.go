package browseflow

import (
	"errors"
	"reflect"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Guard is a predicate over scratch state attached to an edge.
//
// Key tests a single scratch value for truthiness. Expr is an expr-lang
// expression evaluated with the scratch state as its environment, e.g.
// `needs_retry && retry_count < 3`. Set at most one.
//
// Guards are total: a missing key, a non-boolean result or a runtime
// evaluation error all count as false.
type Guard struct {
	Key  string `json:"key,omitempty" yaml:"key,omitempty"`
	Expr string `json:"expr,omitempty" yaml:"expr,omitempty"`
}

// IsZero reports whether the guard accepts unconditionally.
func (g Guard) IsZero() bool {
	return g.Key == "" && g.Expr == ""
}

// Flag returns a guard that is true when key holds a truthy value.
func Flag(key string) *Guard {
	return &Guard{Key: key}
}

// When returns a guard that evaluates an expr-lang expression.
func When(expression string) *Guard {
	return &Guard{Expr: expression}
}

// Edge is a directed connection between two nodes. A nil guard always fires.
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Guard  *Guard `json:"guard,omitempty" yaml:"guard,omitempty"`
}

// compiledGuard holds a guard ready for evaluation. A nil *compiledGuard accepts.
type compiledGuard struct {
	key     string
	program *vm.Program
}

func compileGuard(g *Guard) (*compiledGuard, error) {
	if g == nil || g.IsZero() {
		return nil, nil
	}
	if g.Key != "" && g.Expr != "" {
		return nil, errors.New("guard sets both key and expr")
	}
	if g.Key != "" {
		return &compiledGuard{key: g.Key}, nil
	}
	program, err := expr.Compile(g.Expr, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	return &compiledGuard{program: program}, nil
}

// accepts evaluates the guard. It never fails and never panics.
func (c *compiledGuard) accepts(s Scratch) (ok bool) {
	if c == nil {
		return true
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if c.key != "" {
		return truthy(s[c.key])
	}

	env := map[string]any(s)
	if env == nil {
		env = map[string]any{}
	}
	out, err := expr.Run(c.program, env)
	if err != nil {
		return false
	}
	b, isBool := out.(bool)
	return isBool && b
}

// truthy follows the usual dynamic-language notion: false, nil, zero numbers
// and empty strings or collections are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	}
	return true
}
