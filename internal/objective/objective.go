// Package objective turns the state and sampled outputs of one step into a
// scalar reward, penalising any bound violation.
package objective

import (
	"fmt"
	"log/slog"

	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region config
// Scaler standardises the unevenness signal before weighting.
type Scaler struct {
	Mean float64 `yaml:"mean" json:"mean"`
	Std  float64 `yaml:"std" json:"std" validate:"gt=0"`
}

// Keys names the variables the economic terms read.
type Keys struct {
	MassThroughput  string `yaml:"mass_throughput,omitempty" json:"mass_throughput,omitempty"`
	LinePower       string `yaml:"line_power,omitempty" json:"line_power,omitempty"`
	ProductionSpeed string `yaml:"production_speed,omitempty" json:"production_speed,omitempty"`
	Width           string `yaml:"width,omitempty" json:"width,omitempty"`
	Unevenness      string `yaml:"unevenness,omitempty" json:"unevenness,omitempty"`
}

func (k Keys) withDefaults() Keys {
	def := func(v, d string) string {
		if v == "" {
			return d
		}
		return v
	}
	return Keys{
		MassThroughput:  def(k.MassThroughput, "mass_throughput"),
		LinePower:       def(k.LinePower, "line_power"),
		ProductionSpeed: def(k.ProductionSpeed, "production_speed"),
		Width:           def(k.Width, "width"),
		Unevenness:      def(k.Unevenness, "unevenness"),
	}
}

// Parameters is the reward_parameters block.
type Parameters struct {
	Function         string   `yaml:"function,omitempty" json:"function,omitempty"`
	PenaltyFunction  string   `yaml:"penalty_function,omitempty" json:"penalty_function,omitempty"`
	FibreCost        float64  `yaml:"fibre_cost" json:"fibre_cost"`   // per kg
	EnergyCost       float64  `yaml:"energy_cost" json:"energy_cost"` // per kWh
	SellingPrice     float64  `yaml:"selling_price" json:"selling_price"`
	WidthMultiplier  *float64 `yaml:"width_multiplier,omitempty" json:"width_multiplier,omitempty"`
	FloorWeight      float64  `yaml:"floor_weight" json:"floor_weight"`
	PenaltyConstant  float64  `yaml:"penalty_constant" json:"penalty_constant"`
	UnevennessScaler *Scaler  `yaml:"unevenness_scaler,omitempty" json:"unevenness_scaler,omitempty"`
	Keys             Keys     `yaml:"keys,omitempty" json:"keys,omitempty"`
}

func (p Parameters) widthMultiplier() float64 {
	if p.WidthMultiplier == nil {
		return 1
	}
	return *p.WidthMultiplier
}

// Config is the objective_setup section.
type Config struct {
	OutputBounds     vars.Bounds `yaml:"output_bounds" json:"output_bounds"`
	RewardParameters Parameters  `yaml:"reward_parameters" json:"reward_parameters"`
}

// Clone deep-copies the configuration.
func (c Config) Clone() Config {
	out := c
	out.OutputBounds = c.OutputBounds.Clone()
	if c.RewardParameters.WidthMultiplier != nil {
		out.RewardParameters.WidthMultiplier = vars.Ptr(*c.RewardParameters.WidthMultiplier)
	}
	if c.RewardParameters.UnevennessScaler != nil {
		s := *c.RewardParameters.UnevennessScaler
		out.RewardParameters.UnevennessScaler = &s
	}
	return out
}

// #endregion config

// #region manager
// Result is the objective of one step.
type Result struct {
	Reward      float64
	OutputFlags vars.Flags
	Penalized   bool
}

// Manager evaluates output bounds and the reward or penalty.
type Manager struct {
	initial Config
	current Config
	reward  Func
	penalty Func
	ready   bool
	logger  *slog.Logger
}

// NewManager snapshots cfg.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		initial: cfg.Clone(),
		current: cfg.Clone(),
		logger:  logger.With("component", "objective"),
	}
}

// Reset restores the initial configuration, resolves the objective functions
// and evaluates the initial state.
func (m *Manager) Reset(state, outputs vars.Values, setFlags, depFlags vars.Flags) (Result, error) {
	m.ready = false
	m.current = m.initial.Clone()
	var err error
	if m.reward, err = lookup("reward", rewards, m.current.RewardParameters.Function); err != nil {
		return Result{}, err
	}
	if m.penalty, err = lookup("penalty", penalties, m.current.RewardParameters.PenaltyFunction); err != nil {
		return Result{}, err
	}
	if s := m.current.RewardParameters.UnevennessScaler; s != nil && s.Std == 0 {
		return Result{}, fmt.Errorf("%w: unevenness_scaler.std is zero", simerr.ErrConfiguration)
	}
	m.ready = true
	return m.Step(state, outputs, setFlags, depFlags)
}

// Step checks the output bounds and returns reward(Σ, O) when every flag
// holds, otherwise -penalty(Σ, O).
func (m *Manager) Step(state, outputs vars.Values, setFlags, depFlags vars.Flags) (Result, error) {
	if !m.ready {
		return Result{}, fmt.Errorf("%w: objective step before reset", simerr.ErrNotReady)
	}
	outFlags := vars.Check(m.current.OutputBounds, outputs)
	p := m.current.RewardParameters

	if vars.AllTrue(setFlags, depFlags, outFlags) {
		r, err := m.reward(state, outputs, p)
		if err != nil {
			return Result{}, fmt.Errorf("reward: %w", err)
		}
		return Result{Reward: r, OutputFlags: outFlags}, nil
	}
	pen, err := m.penalty(state, outputs, p)
	if err != nil {
		return Result{}, fmt.Errorf("penalty: %w", err)
	}
	m.logger.Debug("penalised", "violations", vars.Violations(setFlags, depFlags, outFlags), "penalty", pen)
	return Result{Reward: -pen, OutputFlags: outFlags, Penalized: true}, nil
}

// SetOutputBound overwrites one side of an output bound, creating the
// descriptor if needed.
func (m *Manager) SetOutputBound(name string, side vars.Side, value float64) error {
	if m.current.OutputBounds == nil {
		m.current.OutputBounds = make(vars.Bounds)
	}
	b := m.current.OutputBounds[name]
	if err := b.Set(side, value); err != nil {
		return fmt.Errorf("%w: output bound %s: %v", simerr.ErrConfiguration, name, err)
	}
	m.current.OutputBounds[name] = b
	m.logger.Debug("output bound updated", "name", name, "side", side, "value", value)
	return nil
}

// OutputBounds returns a snapshot of the current output bounds.
func (m *Manager) OutputBounds() vars.Bounds {
	return m.current.OutputBounds.Clone()
}

// Close marks the manager not ready.
func (m *Manager) Close() error {
	m.ready = false
	return nil
}

// #endregion manager
