// Package replay re-runs a recorded action sequence through the environment
// and compares the outcome of every step with what was recorded.
package replay

import (
	"context"
	"fmt"
	"math"

	"github.com/danielpatrickdp/nonwoven-sim/internal/action"
	"github.com/danielpatrickdp/nonwoven-sim/internal/environment"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// DecisionReset labels the step-0 result, which has no action.
const DecisionReset = "reset"

// DefaultTolerance is the absolute reward tolerance of Compare.
const DefaultTolerance = 1e-9

// #region types

// StepResult captures the outcome of one replayed step.
type StepResult struct {
	Step           int
	Decision       string // "reset" | "commit" | "reject"
	Reward         float64
	ConstraintsMet bool
	Violations     []string
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	TotalSteps     int
	Commits        int
	Rejects        int
	Penalized      int
	TotalReward    float64
	MeanReward     float64
	FinalSetpoints vars.Values
}

// Mismatch is one difference between an expected and a replayed step.
type Mismatch struct {
	Step  int
	Field string
	Want  any
	Got   any
}

func (m Mismatch) String() string {
	return fmt.Sprintf("step %d: %s want %v got %v", m.Step, m.Field, m.Want, m.Got)
}

// #endregion types

// #region replay

// Replay resets env and applies every action in order. The reset is result 0.
// Replay stops at the first error and returns the results so far.
func Replay(ctx context.Context, env *environment.Environment, actions []vars.Values) ([]StepResult, error) {
	results := make([]StepResult, 0, len(actions)+1)

	res, err := env.Reset(ctx)
	if err != nil {
		return results, fmt.Errorf("reset: %w", err)
	}
	results = append(results, toStepResult(0, DecisionReset, res))

	for i, a := range actions {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := env.Step(ctx, a)
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}
		results = append(results, toStepResult(i+1, res.Decision, res))
	}
	return results, nil
}

// RunFixture builds an environment from the fixture and replays it. Options
// are applied after the fixture seed, so a caller may still override it.
func RunFixture(ctx context.Context, f *Fixture, dir string, opts ...environment.Option) ([]StepResult, *environment.Environment, error) {
	cfg, err := f.Config(dir)
	if err != nil {
		return nil, nil, err
	}
	env, err := environment.New(cfg, append([]environment.Option{environment.WithSeed(f.Seed)}, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	results, err := Replay(ctx, env, f.Actions)
	return results, env, err
}

func toStepResult(step int, decision string, res environment.Result) StepResult {
	return StepResult{
		Step:           step,
		Decision:       decision,
		Reward:         res.Reward,
		ConstraintsMet: res.ConstraintsMet(),
		Violations:     vars.Violations(res.SetpointFlags, res.DependentFlags, res.OutputFlags),
	}
}

// Compare checks results against expected step by step. Rewards match within
// tol; a zero tol uses DefaultTolerance.
func Compare(expected []ExpectedStep, results []StepResult, tol float64) []Mismatch {
	if tol == 0 {
		tol = DefaultTolerance
	}
	var out []Mismatch
	if len(expected) != len(results) {
		out = append(out, Mismatch{Step: -1, Field: "steps", Want: len(expected), Got: len(results)})
	}
	for i := 0; i < len(expected) && i < len(results); i++ {
		e, r := expected[i], results[i]
		if e.Step != r.Step {
			out = append(out, Mismatch{Step: e.Step, Field: "step", Want: e.Step, Got: r.Step})
		}
		if e.Decision != r.Decision {
			out = append(out, Mismatch{Step: e.Step, Field: "decision", Want: e.Decision, Got: r.Decision})
		}
		if math.Abs(e.Reward-r.Reward) > tol {
			out = append(out, Mismatch{Step: e.Step, Field: "reward", Want: e.Reward, Got: r.Reward})
		}
		if e.ConstraintsMet != r.ConstraintsMet {
			out = append(out, Mismatch{Step: e.Step, Field: "constraints_met", Want: e.ConstraintsMet, Got: r.ConstraintsMet})
		}
	}
	return out
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []StepResult, finalSetpoints vars.Values) Summary {
	s := Summary{
		TotalSteps:     len(results),
		FinalSetpoints: finalSetpoints,
	}
	for _, r := range results {
		switch r.Decision {
		case action.Commit:
			s.Commits++
		case action.Reject:
			s.Rejects++
		}
		if !r.ConstraintsMet {
			s.Penalized++
		}
		s.TotalReward += r.Reward
	}
	if s.TotalSteps > 0 {
		s.MeanReward = s.TotalReward / float64(s.TotalSteps)
	}
	return s
}

// #endregion replay
