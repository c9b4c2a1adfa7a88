package environment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/nonwoven-sim/internal/action"
	"github.com/danielpatrickdp/nonwoven-sim/internal/calc"
	"github.com/danielpatrickdp/nonwoven-sim/internal/config"
	"github.com/danielpatrickdp/nonwoven-sim/internal/disturbance"
	"github.com/danielpatrickdp/nonwoven-sim/internal/objective"
	"github.com/danielpatrickdp/nonwoven-sim/internal/output"
	"github.com/danielpatrickdp/nonwoven-sim/internal/scenario"
	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/surrogate"
	"github.com/danielpatrickdp/nonwoven-sim/internal/telemetry"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region fixtures

// lineConfig describes a line whose power is 40 + 3·speed + 0.8·area_weight.
// At the initial setpoints mass throughput is 150 kg/h, power 140 kW and the
// reward 450 - 180 - 35 = 235.
func lineConfig() *config.Config {
	return &config.Config{
		Action: action.Config{
			InitialSetpoints: vars.Values{"production_speed": 20, "area_weight": 50},
			SetpointBounds: vars.Bounds{
				"production_speed": {Lower: vars.Ptr(5), Upper: vars.Ptr(40)},
				"area_weight":      {Lower: vars.Ptr(30), Upper: vars.Ptr(80)},
			},
			DependentVariableBounds:       vars.Bounds{"mass_throughput": {Upper: vars.Ptr(400)}},
			DependentVariableCalculations: map[string]string{"mass_throughput": "mass_throughput"},
		},
		Disturbance: disturbance.Config{Disturbances: vars.Values{"width": 2.5, "temperature": 20}},
		Output: output.Config{
			OutputModels: output.Assignments{{Output: "line_power", Model: "power"}},
		},
		Objective: objective.Config{
			OutputBounds: vars.Bounds{"line_power": {Upper: vars.Ptr(150)}},
			RewardParameters: objective.Parameters{
				FibreCost:       1.2,
				EnergyCost:      0.25,
				SellingPrice:    0.15,
				PenaltyConstant: 50,
			},
		},
	}
}

func powerModel(obsVariance float64) surrogate.Model {
	return surrogate.NewCalculation(calc.Func(func(x vars.Values) (float64, error) {
		return 40 + 3*x["production_speed"] + 0.8*x["area_weight"], nil
	}), 0, obsVariance, 0)
}

func constantModel(v float64) surrogate.Model {
	return surrogate.NewCalculation(calc.Func(func(vars.Values) (float64, error) { return v, nil }), 0, 0, 0)
}

func newEnv(t *testing.T, cfg *config.Config, src surrogate.Source, opts ...Option) (*Environment, *telemetry.MemoryTracker) {
	t.Helper()
	if src == nil {
		src = surrogate.Static{"power": powerModel(0)}
	}
	mem := &telemetry.MemoryTracker{}
	opts = append([]Option{WithSource(src), WithTracker(mem), WithCalculators(calc.NewRegistry(""))}, opts...)
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, mem
}

func setpoints(speed, weight float64) vars.Values {
	return vars.Values{"production_speed": speed, "area_weight": weight}
}

// #endregion fixtures

// #region lifecycle-tests

func TestResetReturnsInitialState(t *testing.T) {
	e, mem := newEnv(t, lineConfig(), nil)
	res, err := e.Reset(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Ready, e.Phase())
	assert.Equal(t, 1, res.StepIndex)
	assert.InDelta(t, 235.0, res.Reward, 1e-9)
	assert.Equal(t, 20.0, res.State["production_speed"])
	assert.InDelta(t, 150.0, res.State["mass_throughput"], 1e-9)
	assert.Equal(t, 2.5, res.State["width"])
	assert.InDelta(t, 140.0, res.Outputs["line_power"], 1e-9)
	assert.True(t, res.ConstraintsMet())

	rec, ok := mem.Last()
	require.True(t, ok)
	assert.Equal(t, 0, rec.Step)
	assert.Empty(t, rec.Actions)
	assert.InDelta(t, 235.0, rec.Reward, 1e-9)
}

func TestStepBeforeReset(t *testing.T) {
	e, _ := newEnv(t, lineConfig(), nil)
	_, err := e.Step(context.Background(), setpoints(20, 50))
	require.ErrorIs(t, err, simerr.ErrNotReady)
	assert.Equal(t, Uninitialized, e.Phase())
}

func TestStepCommitsAbsoluteAction(t *testing.T) {
	e, mem := newEnv(t, lineConfig(), nil)
	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	res, err := e.Step(context.Background(), setpoints(22, 50))
	require.NoError(t, err)
	assert.Equal(t, Running, e.Phase())
	assert.Equal(t, 2, res.StepIndex)
	assert.Equal(t, action.Commit, res.Decision)
	assert.Equal(t, 22.0, res.State["production_speed"])
	// 495 income, 198 material, 36.5 energy
	assert.InDelta(t, 260.5, res.Reward, 1e-9)

	rec, _ := mem.Last()
	assert.Equal(t, 1, rec.Step)
	assert.Equal(t, setpoints(22, 50), rec.Actions)
	assert.Equal(t, action.Commit, rec.Decision)
}

func TestZeroUnitAndRejectedSteps(t *testing.T) {
	e, _ := newEnv(t, lineConfig(), nil)
	initial := setpoints(20, 50)
	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	res, err := e.Step(context.Background(), initial.Clone())
	require.NoError(t, err)
	for k, v := range initial {
		assert.InDelta(t, v, res.State[k], 1e-12, k)
	}
	assert.ElementsMatch(t, []string{"production_speed", "area_weight", "mass_throughput", "width", "temperature"}, res.State.Keys())
	assert.Equal(t, []string{"line_power"}, res.Outputs.Keys())

	res, err = e.Step(context.Background(), setpoints(21, 51))
	require.NoError(t, err)
	assert.Equal(t, setpoints(21, 51), vars.Values{"production_speed": res.State["production_speed"], "area_weight": res.State["area_weight"]})
	assert.Greater(t, res.Reward, 0.0)

	res, err = e.Step(context.Background(), setpoints(1021, 1051))
	require.NoError(t, err)
	assert.Equal(t, action.Reject, res.Decision)
	assert.Equal(t, 21.0, res.State["production_speed"])
	assert.Equal(t, 51.0, res.State["area_weight"])
	assert.Less(t, res.Reward, 0.0)
}

func TestRelativeActions(t *testing.T) {
	cfg := lineConfig()
	cfg.Action.ActionsAreRelative = true
	e, _ := newEnv(t, cfg, nil)
	_, err := e.Reset(context.Background())
	require.NoError(t, err)
	require.True(t, e.RelativeActions())

	res, err := e.Step(context.Background(), setpoints(2, 0))
	require.NoError(t, err)
	assert.Equal(t, 22.0, res.State["production_speed"])
	assert.Equal(t, 50.0, res.State["area_weight"])
}

func TestRejectedSetpointIsPenalised(t *testing.T) {
	e, _ := newEnv(t, lineConfig(), nil)
	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	res, err := e.Step(context.Background(), setpoints(50, 50))
	require.NoError(t, err)
	assert.Equal(t, action.Reject, res.Decision)
	assert.False(t, res.SetpointFlags["production_speed.upper"])
	assert.Equal(t, 20.0, res.State["production_speed"], "committed setpoints unchanged")
	// costs of the committed state plus the penalty constant
	assert.InDelta(t, -(180.0 + 35 + 50), res.Reward, 1e-9)
}

func TestRejectedDependentIsPenalised(t *testing.T) {
	e, _ := newEnv(t, lineConfig(), nil)
	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	res, err := e.Step(context.Background(), setpoints(40, 80)) // 480 kg/h
	require.NoError(t, err)
	assert.Equal(t, action.Reject, res.Decision)
	assert.True(t, vars.AllTrue(res.SetpointFlags))
	assert.False(t, res.DependentFlags["mass_throughput.upper"])
	assert.Less(t, res.Reward, 0.0)
	assert.Equal(t, setpoints(20, 50), e.Setpoints())
}

func TestOutputViolationCommitsButPenalises(t *testing.T) {
	e, _ := newEnv(t, lineConfig(), nil)
	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	res, err := e.Step(context.Background(), setpoints(25, 50)) // 155 kW
	require.NoError(t, err)
	assert.Equal(t, action.Commit, res.Decision)
	assert.False(t, res.OutputFlags["line_power.upper"])
	assert.False(t, res.ConstraintsMet())
	assert.InDelta(t, -(225.0 + 38.75 + 50), res.Reward, 1e-9)
	assert.Equal(t, 25.0, e.Setpoints()["production_speed"])
}

func TestKeySetMismatchClosesEnvironment(t *testing.T) {
	e, _ := newEnv(t, lineConfig(), nil)
	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	_, err = e.Step(context.Background(), vars.Values{"production_speed": 20})
	require.ErrorIs(t, err, simerr.ErrKeySetMismatch)
	assert.Equal(t, Closed, e.Phase())
	assert.Equal(t, -1, e.StepIndex())

	_, err = e.Step(context.Background(), setpoints(20, 50))
	require.ErrorIs(t, err, simerr.ErrNotReady)

	// a fresh session starts from the initial configuration
	res, err := e.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.StepIndex)
	assert.InDelta(t, 235.0, res.Reward, 1e-9)
}

func TestInitialConstraintViolation(t *testing.T) {
	cfg := lineConfig()
	cfg.Action.InitialSetpoints["production_speed"] = 45
	e, _ := newEnv(t, cfg, nil)
	_, err := e.Reset(context.Background())
	require.ErrorIs(t, err, simerr.ErrInitialConstraintViolation)
	assert.Equal(t, Closed, e.Phase())
}

func TestSurrogateFailureClosesEnvironment(t *testing.T) {
	failing := surrogate.NewCalculation(calc.Func(func(x vars.Values) (float64, error) {
		if x["production_speed"] > 30 {
			return 0, errors.New("outside training range")
		}
		return 100, nil
	}), 0, 0, 0)
	e, _ := newEnv(t, lineConfig(), surrogate.Static{"power": failing})
	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	_, err = e.Step(context.Background(), setpoints(35, 50))
	require.ErrorIs(t, err, simerr.ErrSurrogateFailure)
	assert.Equal(t, Closed, e.Phase())
}

func TestMissingSurrogateIsConfigurationError(t *testing.T) {
	e, _ := newEnv(t, lineConfig(), surrogate.Static{})
	_, err := e.Reset(context.Background())
	require.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestCloseIsIdempotent(t *testing.T) {
	e, _ := newEnv(t, lineConfig(), nil)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Equal(t, Closed, e.Phase())
}

// #endregion lifecycle-tests

// #region determinism-tests

func rollout(t *testing.T, e *Environment, steps int) []float64 {
	t.Helper()
	res, err := e.Reset(context.Background())
	require.NoError(t, err)
	rewards := []float64{res.Reward}
	speed := 20.0
	for i := 0; i < steps; i++ {
		speed += []float64{1, -1, 0.5}[i%3]
		res, err := e.Step(context.Background(), setpoints(speed, 50))
		require.NoError(t, err)
		rewards = append(rewards, res.Reward)
	}
	return rewards
}

func TestSameSeedSameRewards(t *testing.T) {
	noisy := surrogate.Static{"power": powerModel(4)}
	a, _ := newEnv(t, lineConfig(), noisy, WithSeed(7))
	b, _ := newEnv(t, lineConfig(), noisy, WithSeed(7))
	c, _ := newEnv(t, lineConfig(), noisy, WithSeed(8))

	ra := rollout(t, a, 12)
	assert.Equal(t, ra, rollout(t, b, 12))
	assert.NotEqual(t, ra, rollout(t, c, 12))
	assert.Equal(t, ra, rollout(t, a, 12), "reset reseeds the session")
}

func TestParallelOutputsMatchSequential(t *testing.T) {
	cfg := lineConfig()
	cfg.Output.OutputModels = append(cfg.Output.OutputModels, output.Assignment{Output: "unevenness", Model: "unevenness"})
	src := surrogate.Static{
		"power":      powerModel(4),
		"unevenness": surrogate.NewCalculation(calc.Func(func(x vars.Values) (float64, error) { return 0.02 * x["area_weight"], nil }), 0, 0.01, 0),
	}
	seq, _ := newEnv(t, cfg, src, WithSeed(3), WithParallelOutputs(false))
	par, _ := newEnv(t, cfg, src, WithSeed(3), WithParallelOutputs(true))
	assert.Equal(t, rollout(t, seq, 8), rollout(t, par, 8))
}

// #endregion determinism-tests

// #region scenario-tests

func TestScheduledDisturbanceReachesStateAtItsStep(t *testing.T) {
	cfg := lineConfig()
	cfg.Scenario = scenario.Config{Disturbances: map[string]scenario.Schedule{
		"temperature": {Timeline: scenario.Timeline[float64]{{Step: 10, Value: 99}}},
	}}
	e, mem := newEnv(t, cfg, nil)
	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	var primed []vars.Values
	for i := 0; i < 10; i++ {
		res, err := e.Step(context.Background(), setpoints(20, 50))
		require.NoError(t, err)
		primed = append(primed, res.State)
	}

	recs := mem.Records()
	require.Len(t, recs, 11)
	assert.Equal(t, 9, recs[9].Step)
	assert.Equal(t, 20.0, recs[9].Disturbances["temperature"])
	assert.Equal(t, 99.0, recs[10].Disturbances["temperature"])
	assert.Equal(t, 20.0, primed[7]["temperature"])
	assert.Equal(t, 99.0, primed[8]["temperature"], "state returned before step 10 is primed")
	assert.Empty(t, e.PendingScenario().Disturbances["temperature"].Timeline)
}

func TestRandomOutputBoundIsHeldBetweenTriggers(t *testing.T) {
	cfg := lineConfig()
	cfg.Scenario = scenario.Config{OutputBounds: map[string]scenario.BoundSchedule{
		"line_power": {Upper: &scenario.Schedule{Random: &scenario.Random{TriggerInterval: 5, Mean: 150, Std: 10}}},
	}}
	e, _ := newEnv(t, cfg, nil)
	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	upper := map[int]float64{}
	for k := 1; k <= 10; k++ {
		res, err := e.Step(context.Background(), setpoints(20, 50))
		require.NoError(t, err)
		upper[k] = *res.OutputBounds["line_power"].Upper
	}
	assert.NotEqual(t, upper[2], upper[5])
	assert.NotEqual(t, upper[5], upper[10])
	for k := 6; k <= 9; k++ {
		assert.Equal(t, upper[5], upper[k], "step %d", k)
	}
}

func TestScheduledModelSwap(t *testing.T) {
	cfg := lineConfig()
	cfg.Scenario = scenario.Config{OutputModels: map[string]scenario.Timeline[string]{
		"line_power": {{Step: 3, Value: "hot"}},
	}}
	src := surrogate.Static{"power": powerModel(0), "hot": constantModel(1000)}
	e, mem := newEnv(t, cfg, src)
	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := e.Step(context.Background(), setpoints(20, 50))
		require.NoError(t, err)
	}
	recs := mem.Records()
	assert.InDelta(t, 140.0, recs[2].Outputs["line_power"], 1e-9)
	assert.Equal(t, 1000.0, recs[3].Outputs["line_power"])
	assert.Less(t, recs[3].Reward, 0.0)

	// reset restores the configured model
	res, err := e.Reset(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 140.0, res.Outputs["line_power"], 1e-9)
}

func TestSchedulingViolationAtReset(t *testing.T) {
	cfg := lineConfig()
	cfg.Scenario = scenario.Config{Disturbances: map[string]scenario.Schedule{
		"width": {Timeline: scenario.Timeline[float64]{{Step: 0, Value: 3}}},
	}}
	e, _ := newEnv(t, cfg, nil)
	_, err := e.Reset(context.Background())
	require.ErrorIs(t, err, simerr.ErrSchedulingViolation)
	assert.Equal(t, Closed, e.Phase())
}

// #endregion scenario-tests
