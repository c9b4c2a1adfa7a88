package scenario

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
)

// #region timeline
// Entry assigns Value at step Step.
type Entry[T any] struct {
	Step  int
	Value T
}

// Timeline is a deterministic schedule with strictly ascending steps,
// consumed head first.
type Timeline[T any] []Entry[T]

// UnmarshalYAML reads a list of [step, value] pairs.
func (tl *Timeline[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: schedule must be a list of [step, value] pairs", node.Line)
	}
	out := make(Timeline[T], 0, len(node.Content))
	for _, pair := range node.Content {
		if pair.Kind != yaml.SequenceNode || len(pair.Content) != 2 {
			return fmt.Errorf("line %d: schedule entry must be [step, value]", pair.Line)
		}
		var e Entry[T]
		if err := pair.Content[0].Decode(&e.Step); err != nil {
			return fmt.Errorf("line %d: step: %w", pair.Line, err)
		}
		if err := pair.Content[1].Decode(&e.Value); err != nil {
			return fmt.Errorf("line %d: value: %w", pair.Line, err)
		}
		out = append(out, e)
	}
	*tl = out
	return nil
}

// MarshalYAML writes the pairs back as a list of lists.
func (tl Timeline[T]) MarshalYAML() (any, error) {
	out := make([][]any, len(tl))
	for i, e := range tl {
		out[i] = []any{e.Step, e.Value}
	}
	return out, nil
}

// Validate checks that steps are strictly ascending.
func (tl Timeline[T]) Validate() error {
	for i := 1; i < len(tl); i++ {
		if tl[i].Step <= tl[i-1].Step {
			return fmt.Errorf("%w: schedule steps not ascending (%d after %d)",
				simerr.ErrConfiguration, tl[i].Step, tl[i-1].Step)
		}
	}
	return nil
}

// Clone copies the entries.
func (tl Timeline[T]) Clone() Timeline[T] {
	if tl == nil {
		return nil
	}
	return append(Timeline[T](nil), tl...)
}

// #endregion timeline

// #region schedule
// Random draws a new value from Normal(Mean, Std) every TriggerInterval
// steps, starting at step 1.
type Random struct {
	TriggerInterval int     `yaml:"trigger_interval"`
	Mean            float64 `yaml:"mean"`
	Std             float64 `yaml:"std"`
}

// Fires reports whether the schedule triggers at step n.
func (r Random) Fires(n int) bool {
	return n >= 1 && (n-1)%r.TriggerInterval == 0
}

// Schedule drives one real-valued field. Exactly one of Timeline and Random
// is set.
type Schedule struct {
	Timeline Timeline[float64]
	Random   *Random
}

// UnmarshalYAML accepts a pair list or a {trigger_interval, mean, std} mapping.
func (s *Schedule) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		return node.Decode(&s.Timeline)
	case yaml.MappingNode:
		var r Random
		if err := node.Decode(&r); err != nil {
			return err
		}
		s.Random = &r
		return nil
	default:
		return fmt.Errorf("line %d: schedule must be a pair list or a random mapping", node.Line)
	}
}

// MarshalYAML writes whichever form is set.
func (s Schedule) MarshalYAML() (any, error) {
	if s.Random != nil {
		return s.Random, nil
	}
	return s.Timeline, nil
}

// Validate checks ordering and the random parameters.
func (s Schedule) Validate() error {
	if s.Random != nil {
		if len(s.Timeline) > 0 {
			return fmt.Errorf("%w: schedule is both deterministic and random", simerr.ErrConfiguration)
		}
		if s.Random.TriggerInterval <= 0 {
			return fmt.Errorf("%w: trigger_interval must be positive, got %d", simerr.ErrConfiguration, s.Random.TriggerInterval)
		}
		if s.Random.Std < 0 {
			return fmt.Errorf("%w: std must be non-negative, got %v", simerr.ErrConfiguration, s.Random.Std)
		}
		return nil
	}
	return s.Timeline.Validate()
}

// Clone deep-copies the schedule.
func (s Schedule) Clone() Schedule {
	out := Schedule{Timeline: s.Timeline.Clone()}
	if s.Random != nil {
		r := *s.Random
		out.Random = &r
	}
	return out
}

// BoundSchedule schedules the two sides of an output bound independently.
type BoundSchedule struct {
	Lower *Schedule `yaml:"lower,omitempty"`
	Upper *Schedule `yaml:"upper,omitempty"`
}

// Clone deep-copies both sides.
func (b BoundSchedule) Clone() BoundSchedule {
	var out BoundSchedule
	if b.Lower != nil {
		l := b.Lower.Clone()
		out.Lower = &l
	}
	if b.Upper != nil {
		u := b.Upper.Clone()
		out.Upper = &u
	}
	return out
}

// #endregion schedule

// #region config
// Config is the scenario_setup section.
type Config struct {
	Disturbances map[string]Schedule         `yaml:"disturbances,omitempty"`
	OutputBounds map[string]BoundSchedule    `yaml:"output_bounds,omitempty"`
	OutputModels map[string]Timeline[string] `yaml:"output_models,omitempty"`
}

// Clone deep-copies every schedule.
func (c Config) Clone() Config {
	out := Config{
		Disturbances: make(map[string]Schedule, len(c.Disturbances)),
		OutputBounds: make(map[string]BoundSchedule, len(c.OutputBounds)),
		OutputModels: make(map[string]Timeline[string], len(c.OutputModels)),
	}
	for k, s := range c.Disturbances {
		out.Disturbances[k] = s.Clone()
	}
	for k, b := range c.OutputBounds {
		out.OutputBounds[k] = b.Clone()
	}
	for k, tl := range c.OutputModels {
		out.OutputModels[k] = tl.Clone()
	}
	return out
}

// Validate checks every schedule.
func (c Config) Validate() error {
	for name, s := range c.Disturbances {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("scenario disturbance %s: %w", name, err)
		}
	}
	for name, b := range c.OutputBounds {
		for side, s := range map[string]*Schedule{"lower": b.Lower, "upper": b.Upper} {
			if s == nil {
				continue
			}
			if err := s.Validate(); err != nil {
				return fmt.Errorf("scenario output bound %s.%s: %w", name, side, err)
			}
		}
	}
	for name, tl := range c.OutputModels {
		if err := tl.Validate(); err != nil {
			return fmt.Errorf("scenario output model %s: %w", name, err)
		}
	}
	return nil
}

// #endregion config
