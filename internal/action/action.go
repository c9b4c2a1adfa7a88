// Package action turns proposed setpoints into committed setpoints and derived
// dependent variables, gating each update on the configured bounds.
package action

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/danielpatrickdp/nonwoven-sim/internal/calc"
	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region manager
// Manager owns the committed setpoints and the dependent-variable calculators.
type Manager struct {
	initial Config
	current Config
	calcs   *calc.Registry
	logger  *slog.Logger

	bound     map[string]calc.Calculator
	setpoints vars.Values
	ready     bool
}

// NewManager snapshots cfg. A nil registry resolves calculators from the
// built-ins and cfg.PathToDependentVariableCalculations.
func NewManager(cfg Config, calcs *calc.Registry, logger *slog.Logger) *Manager {
	if calcs == nil {
		calcs = calc.NewRegistry(cfg.PathToDependentVariableCalculations)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		initial: cfg.Clone(),
		current: cfg.Clone(),
		calcs:   calcs,
		logger:  logger.With("component", "action"),
	}
}

// Reset loads the initial setpoints, binds the calculators and checks every
// bound against the initial state. Any false flag is an
// ErrInitialConstraintViolation.
func (m *Manager) Reset(d vars.Values) (Result, error) {
	m.ready = false
	m.current = m.initial.Clone()

	bound, err := m.calcs.Bind(m.current.DependentVariableCalculations)
	if err != nil {
		return Result{}, err
	}
	for name := range bound {
		if _, clash := m.current.InitialSetpoints[name]; clash {
			return Result{}, fmt.Errorf("%w: dependent variable %q shadows a setpoint", simerr.ErrConfiguration, name)
		}
		if _, clash := d[name]; clash {
			return Result{}, fmt.Errorf("%w: dependent variable %q shadows a disturbance", simerr.ErrConfiguration, name)
		}
	}
	m.bound = bound

	s := m.current.InitialSetpoints.Clone()
	if k, nan := s.HasNaN(); nan {
		return Result{}, fmt.Errorf("%w: initial setpoint %q is NaN", simerr.ErrInitialConstraintViolation, k)
	}
	v, err := m.dependent(s, d)
	if err != nil {
		return Result{}, err
	}
	setFlags := vars.Check(m.current.SetpointBounds, s)
	depFlags := vars.Check(m.current.DependentVariableBounds, v)
	if !vars.AllTrue(setFlags, depFlags) {
		return Result{}, fmt.Errorf("%w: %s", simerr.ErrInitialConstraintViolation,
			strings.Join(vars.Violations(setFlags, depFlags), ", "))
	}

	m.setpoints = s
	m.ready = true
	m.logger.Debug("reset", "setpoints", len(s), "dependent", len(v))
	return Result{
		Setpoints:      s.Clone(),
		Dependent:      v,
		SetpointFlags:  setFlags,
		DependentFlags: depFlags,
		Decision:       Decision{Action: Commit, Reason: "initial setpoints"},
	}, nil
}

// Step applies action a against disturbances d. Relative actions are added to
// the committed setpoints, absolute actions replace them. The proposal is
// committed only if every bound flag holds. The returned dependent variables
// always belong to the committed setpoints while the flags describe the
// proposal.
func (m *Manager) Step(a, d vars.Values) (Result, error) {
	if !m.ready {
		return Result{}, fmt.Errorf("%w: action step before reset", simerr.ErrNotReady)
	}
	if !a.SameKeys(m.setpoints) {
		return Result{}, fmt.Errorf("%w: got %v, want %v", simerr.ErrKeySetMismatch, a.Keys(), m.setpoints.Keys())
	}

	potential := a.Clone()
	if m.current.ActionsAreRelative {
		potential = vars.Add(m.setpoints, a)
	}

	potentialDep, calcErr := m.dependent(potential, d)
	setFlags := vars.Check(m.current.SetpointBounds, potential)
	depFlags := vars.Check(m.current.DependentVariableBounds, potentialDep)
	decision := evaluate(potential, m.bound, setFlags, depFlags, calcErr)

	if decision.Committed() {
		m.setpoints = potential
	} else {
		m.logger.Debug("action rejected", "reason", decision.Reason)
	}

	v, err := m.dependent(m.setpoints, d)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Setpoints:      m.setpoints.Clone(),
		Dependent:      v,
		SetpointFlags:  setFlags,
		DependentFlags: depFlags,
		Decision:       decision,
	}, nil
}

// Setpoints returns a copy of the committed setpoints.
func (m *Manager) Setpoints() vars.Values {
	return m.setpoints.Clone()
}

// SetpointBounds returns a copy of the configured setpoint bounds.
func (m *Manager) SetpointBounds() vars.Bounds {
	return m.initial.SetpointBounds.Clone()
}

// Relative reports whether actions are interpreted as deltas.
func (m *Manager) Relative() bool {
	return m.initial.ActionsAreRelative
}

// Close marks the manager not ready.
func (m *Manager) Close() error {
	m.ready = false
	return nil
}

func (m *Manager) dependent(s, d vars.Values) (vars.Values, error) {
	in, err := vars.Union(d, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", simerr.ErrConfiguration, err)
	}
	return calc.CalculateAll(m.bound, in)
}

// #endregion manager

// #region evaluate
// evaluate decides whether a proposal may be committed. A non-finite setpoint
// adds a false "<name>.finite" flag and a failed dependent calculation adds a
// false "<name>.calculable" flag per calculator, so every rejection carries at
// least one false flag even when no bound covers the offending variable.
func evaluate(potential vars.Values, calcs map[string]calc.Calculator, setFlags, depFlags vars.Flags, calcErr error) Decision {
	var reason string
	if calcErr != nil {
		for name := range calcs {
			depFlags[vars.FlagKey(name, Calculable)] = false
		}
		reason = fmt.Sprintf("dependent variables: %v", calcErr)
	}
	for _, k := range potential.Keys() {
		if x := potential[k]; math.IsNaN(x) || math.IsInf(x, 0) {
			setFlags[vars.FlagKey(k, Finite)] = false
			if reason == "" {
				reason = fmt.Sprintf("setpoint %q is %v", k, x)
			}
		}
	}
	violations := vars.Violations(setFlags, depFlags)
	if len(violations) == 0 {
		return Decision{Action: Commit, Reason: "within bounds"}
	}
	if reason == "" {
		reason = fmt.Sprintf("bound violated: %s", violations[0])
	}
	return Decision{Action: Reject, Reason: reason, Violations: violations}
}

// #endregion evaluate
