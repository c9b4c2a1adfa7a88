package objective

import (
	"fmt"
	"sort"

	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// HToMin converts the per-minute line speed to an hourly rate.
const HToMin = 60.0

// #region registry
// Func is a pure objective term of the state, the sampled outputs and the
// reward parameters.
type Func func(state, outputs vars.Values, p Parameters) (float64, error)

var (
	rewards = map[string]Func{
		"baseline":     BaselineReward,
		"contribution": ContributionReward,
	}
	penalties = map[string]Func{
		"baseline": BaselinePenalty,
		"constant": ConstantPenalty,
	}
)

// RegisterReward adds a named reward function.
func RegisterReward(name string, fn Func) { rewards[name] = fn }

// RegisterPenalty adds a named penalty function.
func RegisterPenalty(name string, fn Func) { penalties[name] = fn }

// Rewards lists the registered reward names.
func Rewards() []string { return names(rewards) }

// Penalties lists the registered penalty names.
func Penalties() []string { return names(penalties) }

func lookup(kind string, table map[string]Func, name string) (Func, error) {
	if name == "" {
		name = "baseline"
	}
	fn, ok := table[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown %s function %q", simerr.ErrConfiguration, kind, name)
	}
	return fn, nil
}

func names(table map[string]Func) []string {
	out := make([]string, 0, len(table))
	for n := range table {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// #endregion registry

// #region baseline
// Costs are the hourly economic terms of one line state.
type Costs struct {
	Material     float64
	Energy       float64
	Income       float64
	FloorQuality float64
}

// Contribution is income less energy and material.
func (c Costs) Contribution() float64 {
	return c.Income - c.Energy - c.Material
}

// ComputeCosts evaluates every economic term. mass_throughput, production_speed
// and width are read from the state, falling back to the outputs. line_power
// and unevenness are read from the outputs, falling back to the state. A
// missing unevenness signal contributes no floor-quality term.
func ComputeCosts(state, outputs vars.Values, p Parameters) (Costs, error) {
	k := p.Keys.withDefaults()
	mass, err := value(k.MassThroughput, state, outputs)
	if err != nil {
		return Costs{}, err
	}
	power, err := value(k.LinePower, outputs, state)
	if err != nil {
		return Costs{}, err
	}
	speed, err := value(k.ProductionSpeed, state, outputs)
	if err != nil {
		return Costs{}, err
	}
	width, err := value(k.Width, state, outputs)
	if err != nil {
		return Costs{}, err
	}

	c := Costs{
		Material: mass * p.FibreCost,
		Energy:   power * p.EnergyCost,
		Income:   p.SellingPrice * speed * HToMin * width * p.widthMultiplier(),
	}
	if u, err := value(k.Unevenness, outputs, state); err == nil {
		if s := p.UnevennessScaler; s != nil {
			u = (u - s.Mean) / s.Std
		}
		c.FloorQuality = u * p.FloorWeight
	}
	return c, nil
}

// BaselineReward is the contribution margin less the weighted floor quality.
func BaselineReward(state, outputs vars.Values, p Parameters) (float64, error) {
	c, err := ComputeCosts(state, outputs, p)
	if err != nil {
		return 0, err
	}
	return c.Contribution() - c.FloorQuality, nil
}

// ContributionReward ignores product quality.
func ContributionReward(state, outputs vars.Values, p Parameters) (float64, error) {
	c, err := ComputeCosts(state, outputs, p)
	if err != nil {
		return 0, err
	}
	return c.Contribution(), nil
}

// BaselinePenalty charges the running costs of the line plus the configured
// constant. The manager negates it.
func BaselinePenalty(state, outputs vars.Values, p Parameters) (float64, error) {
	c, err := ComputeCosts(state, outputs, p)
	if err != nil {
		return 0, err
	}
	return c.Material + c.Energy + p.PenaltyConstant, nil
}

// ConstantPenalty is the configured constant alone.
func ConstantPenalty(_, _ vars.Values, p Parameters) (float64, error) {
	return p.PenaltyConstant, nil
}

func value(key string, primary, fallback vars.Values) (float64, error) {
	if v, ok := primary[key]; ok {
		return v, nil
	}
	if v, ok := fallback[key]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("%w: objective input %q not in state or outputs", simerr.ErrConfiguration, key)
}

// #endregion baseline
