// Package calc resolves dependent-variable calculators: deterministic scalar
// functions of the setpoints and disturbances.
//
// A calculator id is resolved in this order:
//
//	"expr:<expression>"          inline formula
//	built-in name                 e.g. "mass_throughput"
//	<dir>/<id>.expr               formula file next to the configuration
package calc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region calculator

// Calculator computes one deterministic value from named inputs.
type Calculator interface {
	Calculate(inputs vars.Values) (float64, error)
}

// Func adapts a plain function to Calculator.
type Func func(inputs vars.Values) (float64, error)

// Calculate calls f.
func (f Func) Calculate(inputs vars.Values) (float64, error) {
	return f(inputs)
}

// #endregion calculator

// #region registry

// Registry maps calculator ids to implementations.
type Registry struct {
	builtins map[string]Calculator
	dir      string
}

// NewRegistry returns a registry holding the built-in line calculators.
// dir is searched for "<id>.expr" files; empty disables file lookup.
func NewRegistry(dir string) *Registry {
	r := &Registry{builtins: make(map[string]Calculator), dir: dir}
	for name, c := range builtins() {
		r.builtins[name] = c
	}
	return r
}

// Register adds or replaces a named calculator.
func (r *Registry) Register(id string, c Calculator) {
	r.builtins[id] = c
}

// Names lists the registered built-in ids, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.builtins))
	for n := range r.builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves an id to a calculator.
func (r *Registry) Lookup(id string) (Calculator, error) {
	id = strings.TrimSpace(id)
	if code, ok := strings.CutPrefix(id, "expr:"); ok {
		return Compile(code)
	}
	if c, ok := r.builtins[id]; ok {
		return c, nil
	}
	if r.dir != "" {
		path := filepath.Join(r.dir, id+".expr")
		data, err := os.ReadFile(path)
		if err == nil {
			c, err := Compile(string(data))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			return c, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("%w: unknown calculator %q", simerr.ErrConfiguration, id)
}

// #endregion registry

// #region expression

// Expression is a compiled formula over the input variable names.
type Expression struct {
	source  string
	program *vm.Program
}

// Compile parses a formula such as "production_speed / card_delivery_speed".
func Compile(code string) (*Expression, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: empty expression", simerr.ErrConfiguration)
	}
	program, err := expr.Compile(code)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %q: %v", simerr.ErrConfiguration, code, err)
	}
	return &Expression{source: code, program: program}, nil
}

// Calculate evaluates the formula with inputs bound as variables.
func (e *Expression) Calculate(inputs vars.Values) (float64, error) {
	env := make(map[string]any, len(inputs))
	for k, v := range inputs {
		env[k] = v
	}
	out, err := expr.Run(e.program, env)
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", e.source, err)
	}
	switch v := out.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("evaluate %q: non-numeric result %T", e.source, out)
	}
}

// String returns the formula source.
func (e *Expression) String() string {
	return e.source
}

// #endregion expression

// #region calculate-all

// Bind resolves every (variable, calculator id) pair.
func (r *Registry) Bind(ids map[string]string) (map[string]Calculator, error) {
	out := make(map[string]Calculator, len(ids))
	for name, id := range ids {
		c, err := r.Lookup(id)
		if err != nil {
			return nil, fmt.Errorf("dependent variable %s: %w", name, err)
		}
		out[name] = c
	}
	return out, nil
}

// CalculateAll evaluates every bound calculator against the same inputs.
func CalculateAll(calcs map[string]Calculator, inputs vars.Values) (vars.Values, error) {
	names := make([]string, 0, len(calcs))
	for n := range calcs {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make(vars.Values, len(calcs))
	for _, name := range names {
		v, err := calcs[name].Calculate(inputs)
		if err != nil {
			return nil, fmt.Errorf("%w: calculate %s: %v", simerr.ErrSurrogateFailure, name, err)
		}
		out[name] = v
	}
	return out, nil
}

// #endregion calculate-all
