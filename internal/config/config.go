// Package config loads and validates the simulator configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/nonwoven-sim/internal/action"
	"github.com/danielpatrickdp/nonwoven-sim/internal/disturbance"
	"github.com/danielpatrickdp/nonwoven-sim/internal/objective"
	"github.com/danielpatrickdp/nonwoven-sim/internal/output"
	"github.com/danielpatrickdp/nonwoven-sim/internal/scenario"
	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region sections
// GymSetup configures the agent-facing wrapper. It is carried so configs
// round-trip but the simulator does not act on it.
type GymSetup struct {
	ScaleAndConstrainActions bool    `yaml:"scale_and_constrain_actions"`
	ScaleObservations        bool    `yaml:"scale_observations"`
	ScaleRewards             bool    `yaml:"scale_rewards"`
	MaxReward                float64 `yaml:"max_reward"`
	ReturnProcessOutputs     bool    `yaml:"return_process_outputs"`
}

// EnvironmentSetup holds session-wide settings.
type EnvironmentSetup struct {
	Seed            uint64 `yaml:"seed"`
	ParallelOutputs bool   `yaml:"parallel_outputs"`
	RunName         string `yaml:"run_name,omitempty"`
}

// InfluxSetup points at an InfluxDB v2 bucket.
type InfluxSetup struct {
	URL         string `yaml:"url" validate:"required,url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org" validate:"required"`
	Bucket      string `yaml:"bucket" validate:"required"`
	Measurement string `yaml:"measurement,omitempty"`
}

// TrackingSetup selects the telemetry sinks.
type TrackingSetup struct {
	SQLitePath string       `yaml:"sqlite_path,omitempty"`
	LogLevel   string       `yaml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	LogFormat  string       `yaml:"log_format,omitempty" validate:"omitempty,oneof=text json"`
	Prometheus bool         `yaml:"prometheus,omitempty"`
	Influx     *InfluxSetup `yaml:"influx,omitempty"`
}

// #endregion sections

// #region config
// Config is the whole configuration file.
type Config struct {
	Action      action.Config      `yaml:"action_setup"`
	Disturbance disturbance.Config `yaml:"disturbance_setup"`
	Output      output.Config      `yaml:"output_setup"`
	Objective   objective.Config   `yaml:"objective_setup"`
	Scenario    scenario.Config    `yaml:"scenario_setup,omitempty"`
	Gym         GymSetup           `yaml:"gym_setup,omitempty"`
	Environment EnvironmentSetup   `yaml:"environment_setup,omitempty"`
	Tracking    TrackingSetup      `yaml:"tracking_setup,omitempty"`
}

// Load reads, resolves and validates the file at path. Relative model and
// calculator paths become absolute paths under the file's directory. Environment
// overrides are applied before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config dir %s: %w", path, err)
	}
	cfg, err := Parse(data, dir)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data, resolving relative paths against dir.
func Parse(data []byte, dir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", simerr.ErrConfiguration, err)
	}
	cfg.resolve(dir)
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) || dir == "" {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Output.PathToModels = abs(c.Output.PathToModels)
	c.Action.PathToDependentVariableCalculations = abs(c.Action.PathToDependentVariableCalculations)
}

// ApplyEnv overrides tracking and session settings from NONWOVEN_* variables.
func (c *Config) ApplyEnv() error {
	c.Tracking.SQLitePath = envOr("NONWOVEN_DB", c.Tracking.SQLitePath)
	c.Tracking.LogLevel = envOr("NONWOVEN_LOG_LEVEL", c.Tracking.LogLevel)
	c.Tracking.LogFormat = envOr("NONWOVEN_LOG_FORMAT", c.Tracking.LogFormat)
	c.Output.PathToModels = envOr("NONWOVEN_MODELS", c.Output.PathToModels)
	if v := os.Getenv("NONWOVEN_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: NONWOVEN_SEED: %v", simerr.ErrConfiguration, err)
		}
		c.Environment.Seed = seed
	}
	if url := os.Getenv("NONWOVEN_INFLUX_URL"); url != "" {
		if c.Tracking.Influx == nil {
			c.Tracking.Influx = &InfluxSetup{}
		}
		c.Tracking.Influx.URL = url
	}
	if c.Tracking.Influx != nil {
		in := c.Tracking.Influx
		in.Token = envOr("NONWOVEN_INFLUX_TOKEN", in.Token)
		in.Org = envOr("NONWOVEN_INFLUX_ORG", in.Org)
		in.Bucket = envOr("NONWOVEN_INFLUX_BUCKET", in.Bucket)
	}
	return nil
}

// #endregion config

// #region validate
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cross-section references:
// setpoint, disturbance, dependent and output names are disjoint, every bound
// names a known variable, and every scenario entry targets a known field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", simerr.ErrConfiguration, verrs.Error())
		}
		return fmt.Errorf("%w: %v", simerr.ErrConfiguration, err)
	}

	owner := make(map[string]string)
	claim := func(kind string, names []string) error {
		for _, n := range names {
			if prev, ok := owner[n]; ok {
				return fmt.Errorf("%w: %q is both a %s and a %s", simerr.ErrConfiguration, n, prev, kind)
			}
			owner[n] = kind
		}
		return nil
	}
	dependent := make([]string, 0, len(c.Action.DependentVariableCalculations))
	for n := range c.Action.DependentVariableCalculations {
		dependent = append(dependent, n)
	}
	outputs := c.Output.OutputModels.Names()
	for _, group := range []struct {
		kind  string
		names []string
	}{
		{"setpoint", c.Action.InitialSetpoints.Keys()},
		{"disturbance", c.Disturbance.Disturbances.Keys()},
		{"dependent variable", dependent},
		{"output", outputs},
	} {
		if err := claim(group.kind, group.names); err != nil {
			return err
		}
	}

	for _, check := range []struct {
		section string
		bounds  vars.Bounds
		kind    string
	}{
		{"setpoint_bounds", c.Action.SetpointBounds, "setpoint"},
		{"dependent_variable_bounds", c.Action.DependentVariableBounds, "dependent variable"},
		{"output_bounds", c.Objective.OutputBounds, "output"},
	} {
		for name, b := range check.bounds {
			if owner[name] != check.kind {
				return fmt.Errorf("%w: %s references unknown %s %q", simerr.ErrConfiguration, check.section, check.kind, name)
			}
			if b.Lower != nil && b.Upper != nil && *b.Lower > *b.Upper {
				return fmt.Errorf("%w: %s %q has lower %v above upper %v", simerr.ErrConfiguration, check.section, name, *b.Lower, *b.Upper)
			}
		}
	}

	for name := range c.Scenario.Disturbances {
		if owner[name] != "disturbance" {
			return fmt.Errorf("%w: scenario_setup.disturbances references unknown disturbance %q", simerr.ErrConfiguration, name)
		}
	}
	for name := range c.Scenario.OutputBounds {
		if owner[name] != "output" {
			return fmt.Errorf("%w: scenario_setup.output_bounds references unknown output %q", simerr.ErrConfiguration, name)
		}
	}
	for name := range c.Scenario.OutputModels {
		if owner[name] != "output" {
			return fmt.Errorf("%w: scenario_setup.output_models references unknown output %q", simerr.ErrConfiguration, name)
		}
	}
	return c.Scenario.Validate()
}

// #endregion validate

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
