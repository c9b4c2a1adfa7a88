package objective

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

func params() Parameters {
	return Parameters{
		FibreCost:       2,
		EnergyCost:      0.5,
		SellingPrice:    0.1,
		FloorWeight:     10,
		PenaltyConstant: 5,
	}
}

var (
	lineState   = vars.Values{"mass_throughput": 120, "production_speed": 20, "width": 2}
	lineOutputs = vars.Values{"line_power": 40, "unevenness": 3}
	allGood     = vars.Flags{"production_speed.upper": true}
)

func TestComputeCosts(t *testing.T) {
	c, err := ComputeCosts(lineState, lineOutputs, params())
	require.NoError(t, err)
	assert.InDelta(t, 240.0, c.Material, 1e-9)
	assert.InDelta(t, 20.0, c.Energy, 1e-9)
	assert.InDelta(t, 240.0, c.Income, 1e-9) // 0.1 * 20 * 60 * 2
	assert.InDelta(t, 30.0, c.FloorQuality, 1e-9)
	assert.InDelta(t, -20.0, c.Contribution(), 1e-9)
}

func TestBaselineRewardScalerAndWidthMultiplier(t *testing.T) {
	p := params()
	p.UnevennessScaler = &Scaler{Mean: 1, Std: 4}
	p.WidthMultiplier = vars.Ptr(2)

	r, err := BaselineReward(lineState, lineOutputs, p)
	require.NoError(t, err)
	// income 480, energy 20, material 240, floor ((3-1)/4)*10 = 5
	assert.InDelta(t, 215.0, r, 1e-9)
}

func TestMissingUnevennessHasNoQualityTerm(t *testing.T) {
	r, err := BaselineReward(lineState, vars.Values{"line_power": 40}, params())
	require.NoError(t, err)
	assert.InDelta(t, -20.0, r, 1e-9)
}

func TestMissingRequiredInput(t *testing.T) {
	_, err := BaselineReward(vars.Values{"production_speed": 20}, lineOutputs, params())
	require.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestCustomKeys(t *testing.T) {
	p := params()
	p.Keys = Keys{LinePower: "drive_power"}
	c, err := ComputeCosts(lineState, vars.Values{"drive_power": 10}, p)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, c.Energy, 1e-9)
}

func TestStepBeforeReset(t *testing.T) {
	m := NewManager(Config{RewardParameters: params()}, nil)
	_, err := m.Step(lineState, lineOutputs, nil, nil)
	require.ErrorIs(t, err, simerr.ErrNotReady)
}

func TestRewardVersusPenalty(t *testing.T) {
	p := params()
	p.FloorWeight = 0
	p.SellingPrice = 1 // income 2400
	m := NewManager(Config{
		OutputBounds:     vars.Bounds{"line_power": {Upper: vars.Ptr(50)}},
		RewardParameters: p,
	}, nil)

	res, err := m.Reset(lineState, lineOutputs, allGood, nil)
	require.NoError(t, err)
	assert.False(t, res.Penalized)
	assert.InDelta(t, 2400.0-20-240, res.Reward, 1e-9)
	assert.Equal(t, vars.Flags{"line_power.upper": true}, res.OutputFlags)

	res, err = m.Step(lineState, lineOutputs, vars.Flags{"production_speed.upper": false}, nil)
	require.NoError(t, err)
	assert.True(t, res.Penalized)
	assert.InDelta(t, -(240.0 + 20 + 5), res.Reward, 1e-9)

	res, err = m.Step(lineState, vars.Values{"line_power": 60}, allGood, vars.Flags{})
	require.NoError(t, err)
	assert.True(t, res.Penalized)
	assert.False(t, res.OutputFlags["line_power.upper"])
	assert.Less(t, res.Reward, 0.0)
}

func TestSetOutputBoundAndSnapshot(t *testing.T) {
	m := NewManager(Config{
		OutputBounds:     vars.Bounds{"line_power": {Upper: vars.Ptr(50)}},
		RewardParameters: params(),
	}, nil)
	_, err := m.Reset(lineState, lineOutputs, nil, nil)
	require.NoError(t, err)

	snap := m.OutputBounds()
	require.NoError(t, m.SetOutputBound("line_power", vars.Upper, 30))
	require.NoError(t, m.SetOutputBound("unevenness", vars.Lower, 1))
	assert.Equal(t, 50.0, *snap["line_power"].Upper, "snapshots are independent")
	assert.Equal(t, 30.0, *m.OutputBounds()["line_power"].Upper)
	assert.Equal(t, 1.0, *m.OutputBounds()["unevenness"].Lower)

	res, err := m.Step(lineState, lineOutputs, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.OutputFlags["line_power.upper"])

	require.Error(t, m.SetOutputBound("line_power", vars.Side("middle"), 1))

	_, err = m.Reset(lineState, lineOutputs, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 50.0, *m.OutputBounds()["line_power"].Upper, "reset restores initial bounds")
	assert.NotContains(t, m.OutputBounds(), "unevenness")
}

func TestNamedFunctions(t *testing.T) {
	p := params()
	p.Function = "contribution"
	p.PenaltyFunction = "constant"
	m := NewManager(Config{RewardParameters: p}, nil)

	res, err := m.Reset(lineState, lineOutputs, nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, -20.0, res.Reward, 1e-9)

	res, err = m.Step(lineState, lineOutputs, vars.Flags{"x.lower": false}, nil)
	require.NoError(t, err)
	assert.Equal(t, -5.0, res.Reward)

	p.Function = "nope"
	_, err = NewManager(Config{RewardParameters: p}, nil).Reset(lineState, lineOutputs, nil, nil)
	require.ErrorIs(t, err, simerr.ErrConfiguration)

	assert.Contains(t, Rewards(), "baseline")
	assert.Contains(t, Penalties(), "constant")
}

func TestZeroScalerStdRejected(t *testing.T) {
	p := params()
	p.UnevennessScaler = &Scaler{Mean: 0, Std: 0}
	_, err := NewManager(Config{RewardParameters: p}, nil).Reset(lineState, lineOutputs, nil, nil)
	require.ErrorIs(t, err, simerr.ErrConfiguration)
}
