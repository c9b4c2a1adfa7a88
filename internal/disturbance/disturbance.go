// Package disturbance emits the exogenous inputs of the line.
package disturbance

import (
	"fmt"
	"log/slog"

	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region config
// Config is the disturbance_setup section.
type Config struct {
	Disturbances vars.Values `yaml:"disturbances" json:"disturbances"`
}

// Clone deep-copies the configuration.
func (c Config) Clone() Config {
	return Config{Disturbances: c.Disturbances.Clone()}
}

// #endregion config

// #region manager
// Manager holds the current disturbance mapping. The scenario manager is its
// only writer between steps.
type Manager struct {
	initial Config
	current Config
	ready   bool
	logger  *slog.Logger
}

// NewManager snapshots cfg as the initial configuration.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		initial: cfg.Clone(),
		current: cfg.Clone(),
		logger:  logger.With("component", "disturbance"),
	}
}

// Reset reverts to the initial snapshot and returns a copy of it.
func (m *Manager) Reset() vars.Values {
	m.current = m.initial.Clone()
	m.ready = true
	return m.current.Disturbances.Clone()
}

// Step returns a copy of the current disturbances.
func (m *Manager) Step() (vars.Values, error) {
	if !m.ready {
		return nil, fmt.Errorf("%w: disturbance step before reset", simerr.ErrNotReady)
	}
	return m.current.Disturbances.Clone(), nil
}

// Names lists the configured disturbance names.
func (m *Manager) Names() []string {
	return m.initial.Disturbances.Keys()
}

// SetDisturbance overwrites one current disturbance value. Unknown names are
// a configuration error.
func (m *Manager) SetDisturbance(name string, value float64) error {
	if _, ok := m.current.Disturbances[name]; !ok {
		return fmt.Errorf("%w: unknown disturbance %q", simerr.ErrConfiguration, name)
	}
	m.logger.Debug("disturbance updated", "name", name, "from", m.current.Disturbances[name], "to", value)
	m.current.Disturbances[name] = value
	return nil
}

// Close marks the manager not ready.
func (m *Manager) Close() error {
	m.ready = false
	return nil
}

// #endregion manager
