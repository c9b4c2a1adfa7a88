package action

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/nonwoven-sim/internal/calc"
	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

func lineConfig(relative bool) Config {
	return Config{
		ActionsAreRelative: relative,
		InitialSetpoints:   vars.Values{"production_speed": 20, "card_delivery_speed": 10},
		SetpointBounds: vars.Bounds{
			"production_speed":    {Lower: vars.Ptr(5), Upper: vars.Ptr(40)},
			"card_delivery_speed": {Lower: vars.Ptr(5), Upper: vars.Ptr(30)},
		},
		DependentVariableBounds: vars.Bounds{
			"draft_ratio": {Upper: vars.Ptr(3)},
		},
		DependentVariableCalculations: map[string]string{"draft_ratio": "draft_ratio"},
	}
}

var disturbances = vars.Values{"temperature": 20}

func TestStepBeforeReset(t *testing.T) {
	m := NewManager(lineConfig(false), nil, nil)
	_, err := m.Step(vars.Values{"production_speed": 20, "card_delivery_speed": 10}, disturbances)
	require.ErrorIs(t, err, simerr.ErrNotReady)
}

func TestResetReportsAllFlagsTrue(t *testing.T) {
	m := NewManager(lineConfig(false), nil, nil)
	res, err := m.Reset(disturbances)
	require.NoError(t, err)

	assert.Equal(t, vars.Values{"production_speed": 20, "card_delivery_speed": 10}, res.Setpoints)
	assert.InDelta(t, 2.0, res.Dependent["draft_ratio"], 1e-12)
	assert.True(t, vars.AllTrue(res.SetpointFlags, res.DependentFlags))
	assert.Len(t, res.SetpointFlags, 4)
	assert.Equal(t, vars.Flags{"draft_ratio.upper": true}, res.DependentFlags)
}

func TestResetInitialViolation(t *testing.T) {
	cfg := lineConfig(false)
	cfg.InitialSetpoints["production_speed"] = 100
	_, err := NewManager(cfg, nil, nil).Reset(disturbances)
	require.ErrorIs(t, err, simerr.ErrInitialConstraintViolation)
	assert.Contains(t, err.Error(), "production_speed.upper")

	cfg = lineConfig(false)
	cfg.InitialSetpoints["card_delivery_speed"] = 5 // draft ratio 4
	_, err = NewManager(cfg, nil, nil).Reset(disturbances)
	require.ErrorIs(t, err, simerr.ErrInitialConstraintViolation)
	assert.Contains(t, err.Error(), "draft_ratio.upper")
}

func TestResetUnknownCalculator(t *testing.T) {
	cfg := lineConfig(false)
	cfg.DependentVariableCalculations["mystery"] = "no_such_calculator"
	_, err := NewManager(cfg, nil, nil).Reset(disturbances)
	require.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestAbsoluteCommit(t *testing.T) {
	m := NewManager(lineConfig(false), nil, nil)
	_, err := m.Reset(disturbances)
	require.NoError(t, err)

	res, err := m.Step(vars.Values{"production_speed": 21, "card_delivery_speed": 11}, disturbances)
	require.NoError(t, err)
	assert.True(t, res.Decision.Committed())
	assert.Equal(t, vars.Values{"production_speed": 21, "card_delivery_speed": 11}, res.Setpoints)
	assert.InDelta(t, 21.0/11.0, res.Dependent["draft_ratio"], 1e-12)
}

func TestRelativeCommit(t *testing.T) {
	m := NewManager(lineConfig(true), nil, nil)
	_, err := m.Reset(disturbances)
	require.NoError(t, err)

	res, err := m.Step(vars.Values{"production_speed": 2, "card_delivery_speed": 0}, disturbances)
	require.NoError(t, err)
	assert.Equal(t, 22.0, res.Setpoints["production_speed"])

	res, err = m.Step(vars.Values{"production_speed": 2, "card_delivery_speed": 0}, disturbances)
	require.NoError(t, err)
	assert.Equal(t, 24.0, res.Setpoints["production_speed"])
	assert.Equal(t, 10.0, res.Setpoints["card_delivery_speed"])
}

func TestRejectedSetpointLeavesStateUnchanged(t *testing.T) {
	m := NewManager(lineConfig(false), nil, nil)
	_, err := m.Reset(disturbances)
	require.NoError(t, err)

	res, err := m.Step(vars.Values{"production_speed": 1020, "card_delivery_speed": 1010}, disturbances)
	require.NoError(t, err)
	assert.False(t, res.Decision.Committed())
	assert.Equal(t, vars.Values{"production_speed": 20, "card_delivery_speed": 10}, res.Setpoints)
	assert.False(t, res.SetpointFlags["production_speed.upper"])
	assert.True(t, res.SetpointFlags["production_speed.lower"])
	assert.Equal(t, []string{"card_delivery_speed.upper", "production_speed.upper"}, res.Decision.Violations)
	// dependent variables are recomputed for the committed setpoints
	assert.InDelta(t, 2.0, res.Dependent["draft_ratio"], 1e-12)
}

func TestRejectedDependentLeavesStateUnchanged(t *testing.T) {
	m := NewManager(lineConfig(false), nil, nil)
	_, err := m.Reset(disturbances)
	require.NoError(t, err)

	// both setpoints in range, draft ratio 35/10 = 3.5 > 3
	res, err := m.Step(vars.Values{"production_speed": 35, "card_delivery_speed": 10}, disturbances)
	require.NoError(t, err)
	assert.False(t, res.Decision.Committed())
	assert.True(t, vars.AllTrue(res.SetpointFlags))
	assert.False(t, res.DependentFlags["draft_ratio.upper"])
	assert.Equal(t, 20.0, res.Setpoints["production_speed"])
	assert.InDelta(t, 2.0, res.Dependent["draft_ratio"], 1e-12)
}

func TestRejectedRelativeDoesNotAccumulate(t *testing.T) {
	m := NewManager(lineConfig(true), nil, nil)
	_, err := m.Reset(disturbances)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := m.Step(vars.Values{"production_speed": 100, "card_delivery_speed": 0}, disturbances)
		require.NoError(t, err)
		assert.Equal(t, 20.0, res.Setpoints["production_speed"])
	}
}

func TestCalculationFailureRejects(t *testing.T) {
	m := NewManager(lineConfig(false), nil, nil)
	_, err := m.Reset(disturbances)
	require.NoError(t, err)

	res, err := m.Step(vars.Values{"production_speed": 20, "card_delivery_speed": 0}, disturbances)
	require.NoError(t, err)
	assert.False(t, res.Decision.Committed())
	assert.False(t, res.DependentFlags["draft_ratio.upper"])
	assert.False(t, res.DependentFlags["draft_ratio.calculable"])
	assert.Equal(t, 10.0, res.Setpoints["card_delivery_speed"])
}

func TestUnboundedCalculationFailureRaisesFlag(t *testing.T) {
	cfg := lineConfig(false)
	cfg.DependentVariableBounds = vars.Bounds{}
	m := NewManager(cfg, nil, nil)
	_, err := m.Reset(disturbances)
	require.NoError(t, err)

	res, err := m.Step(vars.Values{"production_speed": 20, "card_delivery_speed": 0}, disturbances)
	require.NoError(t, err)
	assert.False(t, res.Decision.Committed())
	assert.Equal(t, []string{"draft_ratio.calculable"}, res.Decision.Violations)
	assert.False(t, vars.AllTrue(res.SetpointFlags, res.DependentFlags))
}

func TestNaNActionRejected(t *testing.T) {
	cfg := lineConfig(false)
	delete(cfg.SetpointBounds, "production_speed")
	m := NewManager(cfg, nil, nil)
	_, err := m.Reset(disturbances)
	require.NoError(t, err)

	res, err := m.Step(vars.Values{"production_speed": math.NaN(), "card_delivery_speed": 10}, disturbances)
	require.NoError(t, err)
	assert.False(t, res.Decision.Committed())
	assert.Equal(t, 20.0, res.Setpoints["production_speed"])
	assert.False(t, res.SetpointFlags["production_speed.finite"])
	assert.Contains(t, res.Decision.Violations, "production_speed.finite")
}

func TestInfiniteActionRaisesFlag(t *testing.T) {
	m := NewManager(lineConfig(false), nil, nil)
	_, err := m.Reset(disturbances)
	require.NoError(t, err)

	res, err := m.Step(vars.Values{"production_speed": 20, "card_delivery_speed": math.Inf(1)}, disturbances)
	require.NoError(t, err)
	assert.False(t, res.Decision.Committed())
	assert.False(t, res.SetpointFlags["card_delivery_speed.finite"])
	assert.False(t, res.SetpointFlags["card_delivery_speed.upper"])
	assert.Equal(t, 10.0, res.Setpoints["card_delivery_speed"])
}

func TestKeySetMismatch(t *testing.T) {
	m := NewManager(lineConfig(false), nil, nil)
	_, err := m.Reset(disturbances)
	require.NoError(t, err)

	_, err = m.Step(vars.Values{"production_speed": 20}, disturbances)
	require.ErrorIs(t, err, simerr.ErrKeySetMismatch)
	_, err = m.Step(vars.Values{"production_speed": 20, "card_delivery_speed": 10, "extra": 1}, disturbances)
	require.ErrorIs(t, err, simerr.ErrKeySetMismatch)
}

func TestCustomRegistryAndDisturbanceInputs(t *testing.T) {
	reg := calc.NewRegistry("")
	reg.Register("heat_load", calc.Func(func(in vars.Values) (float64, error) {
		return in["production_speed"] * in["temperature"], nil
	}))
	cfg := lineConfig(false)
	cfg.DependentVariableCalculations = map[string]string{"heat_load": "heat_load"}
	cfg.DependentVariableBounds = vars.Bounds{"heat_load": {Upper: vars.Ptr(500)}}

	m := NewManager(cfg, reg, nil)
	res, err := m.Reset(disturbances)
	require.NoError(t, err)
	assert.Equal(t, 400.0, res.Dependent["heat_load"])

	res, err = m.Step(vars.Values{"production_speed": 20, "card_delivery_speed": 10}, vars.Values{"temperature": 30})
	require.NoError(t, err)
	assert.Equal(t, 600.0, res.Dependent["heat_load"])
	assert.False(t, res.DependentFlags["heat_load.upper"])
	assert.False(t, res.Decision.Committed())
}

func TestDependentShadowingSetpoint(t *testing.T) {
	cfg := lineConfig(false)
	cfg.DependentVariableCalculations["production_speed"] = "expr:1"
	_, err := NewManager(cfg, nil, nil).Reset(disturbances)
	require.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestResetRestoresInitialSetpoints(t *testing.T) {
	m := NewManager(lineConfig(true), nil, nil)
	_, err := m.Reset(disturbances)
	require.NoError(t, err)
	_, err = m.Step(vars.Values{"production_speed": 5, "card_delivery_speed": 0}, disturbances)
	require.NoError(t, err)

	res, err := m.Reset(disturbances)
	require.NoError(t, err)
	assert.Equal(t, 20.0, res.Setpoints["production_speed"])
}
