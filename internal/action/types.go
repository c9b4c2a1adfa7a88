package action

import (
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region config
// Config is the action_setup section.
type Config struct {
	ActionsAreRelative                  bool              `yaml:"actions_are_relative" json:"actions_are_relative"`
	InitialSetpoints                    vars.Values       `yaml:"initial_setpoints" json:"initial_setpoints" validate:"required,min=1"`
	SetpointBounds                      vars.Bounds       `yaml:"setpoint_bounds" json:"setpoint_bounds"`
	DependentVariableBounds             vars.Bounds       `yaml:"dependent_variable_bounds" json:"dependent_variable_bounds"`
	DependentVariableCalculations       map[string]string `yaml:"dependent_variable_calculations" json:"dependent_variable_calculations"`
	PathToDependentVariableCalculations string            `yaml:"path_to_dependent_variable_calculations,omitempty" json:"path_to_dependent_variable_calculations,omitempty"`
}

// Clone deep-copies the configuration.
func (c Config) Clone() Config {
	out := c
	out.InitialSetpoints = c.InitialSetpoints.Clone()
	out.SetpointBounds = c.SetpointBounds.Clone()
	out.DependentVariableBounds = c.DependentVariableBounds.Clone()
	out.DependentVariableCalculations = make(map[string]string, len(c.DependentVariableCalculations))
	for k, v := range c.DependentVariableCalculations {
		out.DependentVariableCalculations[k] = v
	}
	return out
}

// #endregion config

// #region decision
const (
	Commit = "commit"
	Reject = "reject"
)

// Flag sides raised on a rejected proposal that no bound covers.
const (
	Finite     vars.Side = "finite"
	Calculable vars.Side = "calculable"
)

// Decision records whether a proposed setpoint update was committed.
type Decision struct {
	Action     string // "commit" | "reject"
	Reason     string
	Violations []string // false flag keys of the proposed state, sorted
}

// Committed reports whether the proposal was accepted.
func (d Decision) Committed() bool {
	return d.Action == Commit
}

// #endregion decision

// #region result
// Result is what the action manager reports after reset or step.
type Result struct {
	Setpoints      vars.Values // committed setpoints
	Dependent      vars.Values // dependent variables of the committed setpoints
	SetpointFlags  vars.Flags  // flags of the proposed setpoints
	DependentFlags vars.Flags  // flags of the proposed dependent variables
	Decision       Decision
}

// #endregion result
