package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielpatrickdp/nonwoven-sim/internal/environment"
	"github.com/danielpatrickdp/nonwoven-sim/internal/replay"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region episode

// Episode is one driven session: the actions taken and the outcome of every
// step, reset included.
type Episode struct {
	Policy  string
	Actions []vars.Values
	Results []replay.StepResult
}

// Summary aggregates the episode.
func (ep Episode) Summary(final vars.Values) replay.Summary {
	return replay.Summarize(ep.Results, final)
}

// Fixture turns the episode into a replay fixture.
func (ep Episode) Fixture(description string, seed uint64, configYAML string) *replay.Fixture {
	f := &replay.Fixture{
		Description: description,
		Seed:        seed,
		ConfigYAML:  configYAML,
		Actions:     ep.Actions,
	}
	for _, r := range ep.Results {
		f.ExpectedResults = append(f.ExpectedResults, replay.ExpectedStep{
			Step:           r.Step,
			Decision:       r.Decision,
			Reward:         r.Reward,
			ConstraintsMet: r.ConstraintsMet,
		})
	}
	return f
}

// #endregion episode

// #region run

// Run resets env and takes steps actions chosen by p. It stops early on
// context cancellation or error, returning the partial episode.
func Run(ctx context.Context, env *environment.Environment, p Policy, steps int, logger *slog.Logger) (Episode, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "driver", "policy", p.Name())
	ep := Episode{Policy: p.Name()}

	res, err := env.Reset(ctx)
	if err != nil {
		return ep, fmt.Errorf("reset: %w", err)
	}
	ep.Results = append(ep.Results, replay.StepResult{
		Step:           0,
		Decision:       replay.DecisionReset,
		Reward:         res.Reward,
		ConstraintsMet: res.ConstraintsMet(),
	})

	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return ep, err
		}
		a := p.Act(Observation{
			Step:       res.StepIndex,
			State:      res.State,
			Setpoints:  env.Setpoints(),
			Bounds:     env.SetpointBounds(),
			Relative:   env.RelativeActions(),
			LastReward: res.Reward,
		})
		res, err = env.Step(ctx, a)
		if err != nil {
			return ep, fmt.Errorf("step %d: %w", i, err)
		}
		ep.Actions = append(ep.Actions, a)
		ep.Results = append(ep.Results, replay.StepResult{
			Step:           i,
			Decision:       res.Decision,
			Reward:         res.Reward,
			ConstraintsMet: res.ConstraintsMet(),
			Violations:     vars.Violations(res.SetpointFlags, res.DependentFlags, res.OutputFlags),
		})
		logger.Debug("step", "step", i, "decision", res.Decision, "reward", res.Reward)
	}
	return ep, nil
}

// #endregion run
