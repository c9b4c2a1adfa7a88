// Package driver supplies simple setpoint policies and the loop that feeds
// their actions to an environment.
package driver

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region observation

// Observation is what a policy sees before choosing an action.
type Observation struct {
	Step       int
	State      vars.Values
	Setpoints  vars.Values
	Bounds     vars.Bounds
	Relative   bool
	LastReward float64
}

// Policy chooses the next action. The returned key set must equal the
// setpoint key set.
type Policy interface {
	Name() string
	Act(obs Observation) vars.Values
}

// #endregion observation

// #region hold

// Hold keeps every setpoint where it is.
type Hold struct{}

func (Hold) Name() string { return "hold" }

func (Hold) Act(obs Observation) vars.Values {
	if !obs.Relative {
		return obs.Setpoints.Clone()
	}
	out := make(vars.Values, len(obs.Setpoints))
	for k := range obs.Setpoints {
		out[k] = 0
	}
	return out
}

// #endregion hold

// #region random-walk

// RandomWalk moves each setpoint by a Gaussian step whose standard deviation
// is Fraction of the bound width, clipped to the bounds. Unbounded setpoints
// use Fraction of their magnitude.
type RandomWalk struct {
	Fraction float64
	rng      *rand.Rand
}

// NewRandomWalk creates a seeded random walk.
func NewRandomWalk(fraction float64, seed uint64) *RandomWalk {
	return &RandomWalk{Fraction: fraction, rng: rand.New(rand.NewPCG(seed, seed>>1|1))}
}

func (w *RandomWalk) Name() string { return "random_walk" }

func (w *RandomWalk) Act(obs Observation) vars.Values {
	out := make(vars.Values, len(obs.Setpoints))
	for _, k := range obs.Setpoints.Keys() {
		cur := obs.Setpoints[k]
		b := obs.Bounds[k]
		next := cur + distuv.Normal{Mu: 0, Sigma: w.scale(cur, b), Src: w.rng}.Rand()
		if b.Lower != nil {
			next = math.Max(next, *b.Lower)
		}
		if b.Upper != nil {
			next = math.Min(next, *b.Upper)
		}
		if obs.Relative {
			out[k] = next - cur
		} else {
			out[k] = next
		}
	}
	return out
}

func (w *RandomWalk) scale(cur float64, b vars.Bound) float64 {
	if b.Lower != nil && b.Upper != nil {
		return w.Fraction * (*b.Upper - *b.Lower)
	}
	if s := w.Fraction * math.Abs(cur); s > 0 {
		return s
	}
	return w.Fraction
}

// #endregion random-walk

// #region registry

// Factory builds a policy from a seed.
type Factory func(seed uint64) Policy

var policies = map[string]Factory{
	"hold":        func(uint64) Policy { return Hold{} },
	"random_walk": func(seed uint64) Policy { return NewRandomWalk(0.05, seed) },
}

// New returns the named policy.
func New(name string, seed uint64) (Policy, error) {
	f, ok := policies[name]
	if !ok {
		return nil, fmt.Errorf("unknown policy %q (have %v)", name, Names())
	}
	return f(seed), nil
}

// Names lists the built-in policies.
func Names() []string {
	out := make([]string, 0, len(policies))
	for n := range policies {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// #endregion registry
