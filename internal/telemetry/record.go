// Package telemetry emits one record per environment step to experiment
// tracking sinks.
package telemetry

import (
	"time"

	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// Group names of the nested log record.
const (
	GroupPerformance         = "Performance-Metrics"
	GroupActions             = "Actions"
	GroupSetpoints           = "Setpoints"
	GroupDependent           = "Dependent-Variables"
	GroupDisturbances        = "Disturbances"
	GroupOutputs             = "Outputs"
	GroupSetpointConstraint  = "Setpoint-Constraints"
	GroupDependentConstraint = "Dependent-Variable-Constraints"
	GroupOutputConstraint    = "Output-Constraints"
)

// Performance metric names.
const (
	MetricObjective    = "Objective-Value"
	MetricSetpointsMet = "Setpoint-Constraints-Met"
	MetricDependentMet = "Dependent-Variable-Constraints-Met"
	MetricOutputsMet   = "Output-Constraints-Met"
)

// #region record
// Record is the data that produced one reward. Step 0 is the reset record,
// which carries no actions.
type Record struct {
	RunID          string      `json:"run_id,omitempty"`
	Step           int         `json:"step"`
	Time           time.Time   `json:"time"`
	Reward         float64     `json:"reward"`
	Decision       string      `json:"decision,omitempty"`
	Actions        vars.Values `json:"actions"`
	Setpoints      vars.Values `json:"setpoints"`
	Dependent      vars.Values `json:"dependent_variables"`
	Disturbances   vars.Values `json:"disturbances"`
	Outputs        vars.Values `json:"outputs"`
	SetpointFlags  vars.Flags  `json:"setpoint_constraints"`
	DependentFlags vars.Flags  `json:"dependent_variable_constraints"`
	OutputFlags    vars.Flags  `json:"output_constraints"`
}

// SetpointsMet reports whether every setpoint bound held.
func (r Record) SetpointsMet() bool { return vars.AllTrue(r.SetpointFlags) }

// DependentMet reports whether every dependent-variable bound held.
func (r Record) DependentMet() bool { return vars.AllTrue(r.DependentFlags) }

// OutputsMet reports whether every output bound held.
func (r Record) OutputsMet() bool { return vars.AllTrue(r.OutputFlags) }

// Groups renders the record as the nested group map. Every leaf is a scalar;
// booleans become 0 or 1.
func (r Record) Groups() map[string]map[string]float64 {
	return map[string]map[string]float64{
		GroupPerformance: {
			MetricObjective:    r.Reward,
			MetricSetpointsMet: boolFloat(r.SetpointsMet()),
			MetricDependentMet: boolFloat(r.DependentMet()),
			MetricOutputsMet:   boolFloat(r.OutputsMet()),
		},
		GroupActions:             values(r.Actions),
		GroupSetpoints:           values(r.Setpoints),
		GroupDependent:           values(r.Dependent),
		GroupDisturbances:        values(r.Disturbances),
		GroupOutputs:             values(r.Outputs),
		GroupSetpointConstraint:  flags(r.SetpointFlags),
		GroupDependentConstraint: flags(r.DependentFlags),
		GroupOutputConstraint:    flags(r.OutputFlags),
	}
}

// Flatten joins group and leaf names with "/".
func (r Record) Flatten() map[string]float64 {
	out := make(map[string]float64)
	for g, leaves := range r.Groups() {
		for k, v := range leaves {
			out[g+"/"+k] = v
		}
	}
	return out
}

func values(v vars.Values) map[string]float64 {
	out := make(map[string]float64, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}

func flags(f vars.Flags) map[string]float64 {
	out := make(map[string]float64, len(f))
	for k, ok := range f {
		out[k] = boolFloat(ok)
	}
	return out
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// #endregion record
