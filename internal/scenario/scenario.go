// Package scenario applies time-indexed perturbations to the disturbance,
// output and objective managers between steps.
//
// Every scheduled field is either a deterministic list of [step, value] pairs,
// consumed head first, or a random descriptor that redraws the field from a
// normal distribution every trigger_interval steps starting at step 1.
package scenario

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region targets
// DisturbanceTarget receives scheduled disturbance values.
type DisturbanceTarget interface {
	SetDisturbance(name string, value float64) error
}

// ModelTarget receives scheduled output-model assignments.
type ModelTarget interface {
	SetOutputModel(output, model string) (bool, error)
	Reallocate(outputs []string) error
}

// BoundTarget receives scheduled output-bound values.
type BoundTarget interface {
	SetOutputBound(name string, side vars.Side, value float64) error
}

// #endregion targets

// #region manager
// Manager owns the pending schedules of one session.
type Manager struct {
	initial Config
	current Config
	rng     *rand.Rand
	logger  *slog.Logger
	ready   bool
}

// NewManager validates cfg and snapshots it. rng is the session random source
// used by random schedules.
func NewManager(cfg Config, rng *rand.Rand, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		initial: cfg.Clone(),
		current: cfg.Clone(),
		rng:     rng,
		logger:  logger.With("component", "scenario"),
	}, nil
}

// Reset restores every schedule. A deterministic entry at step 0 or earlier
// can never fire and is an ErrSchedulingViolation.
func (m *Manager) Reset() error {
	m.ready = false
	m.current = m.initial.Clone()
	check := func(field string, tl Timeline[float64]) error {
		if len(tl) > 0 && tl[0].Step <= 0 {
			return fmt.Errorf("%w: %s scheduled at step %d", simerr.ErrSchedulingViolation, field, tl[0].Step)
		}
		return nil
	}
	for name, s := range m.current.Disturbances {
		if err := check("disturbance "+name, s.Timeline); err != nil {
			return err
		}
	}
	for name, b := range m.current.OutputBounds {
		if b.Lower != nil {
			if err := check("output bound "+name+".lower", b.Lower.Timeline); err != nil {
				return err
			}
		}
		if b.Upper != nil {
			if err := check("output bound "+name+".upper", b.Upper.Timeline); err != nil {
				return err
			}
		}
	}
	for name, tl := range m.current.OutputModels {
		if len(tl) > 0 && tl[0].Step <= 0 {
			return fmt.Errorf("%w: output model %s scheduled at step %d", simerr.ErrSchedulingViolation, name, tl[0].Step)
		}
	}
	m.ready = true
	return nil
}

// Step applies every mutation due at step n and reports whether any fired.
// Fields are visited in name order so random draws are reproducible. Changed
// output models are reallocated before returning.
func (m *Manager) Step(n int, d DisturbanceTarget, o ModelTarget, b BoundTarget) (bool, error) {
	if !m.ready {
		return false, fmt.Errorf("%w: scenario step before reset", simerr.ErrNotReady)
	}
	fired := false

	for _, name := range sortedKeys(m.current.Disturbances) {
		s := m.current.Disturbances[name]
		v, ok := m.advance(n, &s)
		m.current.Disturbances[name] = s
		if !ok {
			continue
		}
		if err := d.SetDisturbance(name, v); err != nil {
			return fired, err
		}
		m.logger.Info("disturbance scheduled", "step", n, "name", name, "value", v)
		fired = true
	}

	for _, name := range sortedKeys(m.current.OutputBounds) {
		bs := m.current.OutputBounds[name]
		for _, sb := range []struct {
			side vars.Side
			s    *Schedule
		}{{vars.Lower, bs.Lower}, {vars.Upper, bs.Upper}} {
			if sb.s == nil {
				continue
			}
			v, ok := m.advance(n, sb.s)
			if !ok {
				continue
			}
			if err := b.SetOutputBound(name, sb.side, v); err != nil {
				return fired, err
			}
			m.logger.Info("output bound scheduled", "step", n, "name", name, "side", sb.side, "value", v)
			fired = true
		}
	}

	var changed []string
	for _, name := range sortedKeys(m.current.OutputModels) {
		tl := m.current.OutputModels[name]
		if len(tl) == 0 || tl[0].Step != n {
			continue
		}
		model := tl[0].Value
		m.current.OutputModels[name] = tl[1:]
		diff, err := o.SetOutputModel(name, model)
		if err != nil {
			return fired, err
		}
		m.logger.Info("output model scheduled", "step", n, "output", name, "model", model)
		fired = true
		if diff {
			changed = append(changed, name)
		}
	}
	if len(changed) > 0 {
		if err := o.Reallocate(changed); err != nil {
			return fired, err
		}
	}
	return fired, nil
}

// advance returns the value s assigns at step n, popping a fired
// deterministic entry.
func (m *Manager) advance(n int, s *Schedule) (float64, bool) {
	if s.Random != nil {
		if !s.Random.Fires(n) {
			return 0, false
		}
		return distuv.Normal{Mu: s.Random.Mean, Sigma: s.Random.Std, Src: m.rng}.Rand(), true
	}
	if len(s.Timeline) == 0 || s.Timeline[0].Step != n {
		return 0, false
	}
	v := s.Timeline[0].Value
	s.Timeline = s.Timeline[1:]
	return v, true
}

// Pending returns a copy of the schedules not yet consumed.
func (m *Manager) Pending() Config {
	return m.current.Clone()
}

// Close marks the manager not ready.
func (m *Manager) Close() error {
	m.ready = false
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// #endregion manager
