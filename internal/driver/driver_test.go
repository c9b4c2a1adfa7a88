package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/nonwoven-sim/internal/action"
	"github.com/danielpatrickdp/nonwoven-sim/internal/calc"
	"github.com/danielpatrickdp/nonwoven-sim/internal/config"
	"github.com/danielpatrickdp/nonwoven-sim/internal/disturbance"
	"github.com/danielpatrickdp/nonwoven-sim/internal/environment"
	"github.com/danielpatrickdp/nonwoven-sim/internal/objective"
	"github.com/danielpatrickdp/nonwoven-sim/internal/output"
	"github.com/danielpatrickdp/nonwoven-sim/internal/replay"
	"github.com/danielpatrickdp/nonwoven-sim/internal/surrogate"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

func lineConfig(relative bool) *config.Config {
	return &config.Config{
		Action: action.Config{
			ActionsAreRelative: relative,
			InitialSetpoints:   vars.Values{"production_speed": 20, "area_weight": 50},
			SetpointBounds: vars.Bounds{
				"production_speed": {Lower: vars.Ptr(5), Upper: vars.Ptr(40)},
				"area_weight":      {Lower: vars.Ptr(30), Upper: vars.Ptr(80)},
			},
			DependentVariableCalculations: map[string]string{"mass_throughput": "mass_throughput"},
		},
		Disturbance: disturbance.Config{Disturbances: vars.Values{"width": 2.5}},
		Output:      output.Config{OutputModels: output.Assignments{{Output: "line_power", Model: "power"}}},
		Objective: objective.Config{
			OutputBounds:     vars.Bounds{"line_power": {Upper: vars.Ptr(300)}},
			RewardParameters: objective.Parameters{FibreCost: 1.2, EnergyCost: 0.25, SellingPrice: 0.15},
		},
	}
}

func lineSource() surrogate.Static {
	return surrogate.Static{"power": surrogate.NewCalculation(calc.Func(func(x vars.Values) (float64, error) {
		return 40 + 3*x["production_speed"] + 0.8*x["area_weight"], nil
	}), 0, 1, 0)}
}

func newEnv(t *testing.T, cfg *config.Config) *environment.Environment {
	t.Helper()
	e, err := environment.New(cfg, environment.WithSource(lineSource()), environment.WithSeed(5))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestHoldKeepsSetpoints(t *testing.T) {
	obs := Observation{Setpoints: vars.Values{"a": 1, "b": 2}}
	assert.Equal(t, vars.Values{"a": 1, "b": 2}, Hold{}.Act(obs))

	obs.Relative = true
	assert.Equal(t, vars.Values{"a": 0, "b": 0}, Hold{}.Act(obs))
}

func TestRandomWalkStaysInBounds(t *testing.T) {
	w := NewRandomWalk(0.5, 1)
	obs := Observation{
		Setpoints: vars.Values{"speed": 39, "free": 0},
		Bounds:    vars.Bounds{"speed": {Lower: vars.Ptr(30), Upper: vars.Ptr(40)}},
	}
	for i := 0; i < 200; i++ {
		a := w.Act(obs)
		require.Len(t, a, 2)
		assert.GreaterOrEqual(t, a["speed"], 30.0)
		assert.LessOrEqual(t, a["speed"], 40.0)
	}

	obs.Relative = true
	a := w.Act(obs)
	assert.LessOrEqual(t, obs.Setpoints["speed"]+a["speed"], 40.0)
}

func TestRandomWalkIsSeeded(t *testing.T) {
	obs := Observation{
		Setpoints: vars.Values{"speed": 20},
		Bounds:    vars.Bounds{"speed": {Lower: vars.Ptr(0), Upper: vars.Ptr(40)}},
	}
	a, b := NewRandomWalk(0.1, 9), NewRandomWalk(0.1, 9)
	for i := 0; i < 5; i++ {
		assert.Equal(t, a.Act(obs), b.Act(obs))
	}
}

func TestNewPolicy(t *testing.T) {
	p, err := New("random_walk", 3)
	require.NoError(t, err)
	assert.Equal(t, "random_walk", p.Name())

	_, err = New("greedy", 3)
	require.Error(t, err)
	assert.Equal(t, []string{"hold", "random_walk"}, Names())
}

func TestRunHoldEpisode(t *testing.T) {
	env := newEnv(t, lineConfig(true))
	ep, err := Run(context.Background(), env, Hold{}, 6, nil)
	require.NoError(t, err)

	require.Len(t, ep.Results, 7)
	require.Len(t, ep.Actions, 6)
	assert.Equal(t, replay.DecisionReset, ep.Results[0].Decision)
	for _, r := range ep.Results[1:] {
		assert.Equal(t, action.Commit, r.Decision)
	}
	s := ep.Summary(env.Setpoints())
	assert.Equal(t, 6, s.Commits)
	assert.Equal(t, vars.Values{"production_speed": 20, "area_weight": 50}, s.FinalSetpoints)
}

func TestRunCancelled(t *testing.T) {
	env := newEnv(t, lineConfig(false))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ep, err := Run(ctx, env, Hold{}, 3, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, ep.Results, 1)
}

// TestEpisodeFixtureReplays drives a random walk, turns the episode into a
// fixture and replays it against a fresh environment.
func TestEpisodeFixtureReplays(t *testing.T) {
	cfg := lineConfig(false)
	env := newEnv(t, cfg)
	ep, err := Run(context.Background(), env, NewRandomWalk(0.05, 17), 20, nil)
	require.NoError(t, err)

	data, err := cfg.Marshal()
	require.NoError(t, err)
	f := ep.Fixture("random walk", env.Seed(), string(data))

	results, env2, err := replay.RunFixture(context.Background(), f, "", environment.WithSource(lineSource()))
	require.NoError(t, err)
	defer env2.Close()
	assert.Empty(t, replay.Compare(f.ExpectedResults, results, 0))
}
