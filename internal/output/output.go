// Package output evaluates the surrogate of every registered output on the
// current state and draws one Gaussian sample per output.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/surrogate"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region manager
// Manager is implemented by the sequential and parallel variants.
type Manager interface {
	// Reset restores the initial bindings, loads every surrogate and samples
	// the outputs for state.
	Reset(ctx context.Context, state vars.Values) (vars.Values, error)
	// Step samples one value per registered output.
	Step(ctx context.Context, state vars.Values) (vars.Values, error)
	// SetOutputModel changes the surrogate id bound to output in the current
	// configuration and reports whether it differed. The new model is not
	// loaded until Reallocate.
	SetOutputModel(output, model string) (bool, error)
	// Reallocate reloads the surrogates of the named outputs.
	Reallocate(outputs []string) error
	// Names lists the registered outputs in declaration order.
	Names() []string
	Close() error
}

// New returns the parallel variant when parallel is set, else the sequential one.
func New(cfg Config, src surrogate.Source, rng *rand.Rand, logger *slog.Logger, parallel bool) Manager {
	if parallel {
		return NewParallel(cfg, src, rng, logger)
	}
	return NewSequential(cfg, src, rng, logger)
}

// #endregion manager

// #region base
// base holds what both variants share: configuration, bound models and the
// session random source.
type base struct {
	initial Config
	current Config
	src     surrogate.Source
	rng     *rand.Rand
	logger  *slog.Logger

	models map[string]surrogate.Model
	ready  bool
}

func newBase(cfg Config, src surrogate.Source, rng *rand.Rand, logger *slog.Logger, variant string) base {
	if logger == nil {
		logger = slog.Default()
	}
	return base{
		initial: cfg.Clone(),
		current: cfg.Clone(),
		src:     src,
		rng:     rng,
		logger:  logger.With("component", "output", "variant", variant),
	}
}

func (b *base) allocate() error {
	b.ready = false
	b.current = b.initial.Clone()
	b.models = make(map[string]surrogate.Model, len(b.current.OutputModels))
	for _, a := range b.current.OutputModels {
		m, err := b.src.Load(a.Model)
		if err != nil {
			return fmt.Errorf("output %s: %w", a.Output, err)
		}
		b.models[a.Output] = m
	}
	b.ready = true
	return nil
}

func (b *base) SetOutputModel(output, model string) (bool, error) {
	for i, a := range b.current.OutputModels {
		if a.Output != output {
			continue
		}
		if a.Model == model {
			return false, nil
		}
		b.current.OutputModels[i].Model = model
		return true, nil
	}
	return false, fmt.Errorf("%w: unknown output %q", simerr.ErrConfiguration, output)
}

func (b *base) Reallocate(outputs []string) error {
	if !b.ready {
		return fmt.Errorf("%w: reallocate before reset", simerr.ErrNotReady)
	}
	for _, name := range outputs {
		id, ok := b.current.OutputModels.Model(name)
		if !ok {
			return fmt.Errorf("%w: unknown output %q", simerr.ErrConfiguration, name)
		}
		m, err := b.src.Load(id)
		if err != nil {
			return fmt.Errorf("output %s: %w", name, err)
		}
		b.models[name] = m
		b.logger.Info("output model reallocated", "output", name, "model", id)
	}
	return nil
}

func (b *base) Names() []string {
	return b.initial.OutputModels.Names()
}

func (b *base) Close() error {
	b.ready = false
	b.models = nil
	return nil
}

func (b *base) predict(ctx context.Context, output string, x vars.Values) (surrogate.Prediction, error) {
	m := b.models[output]
	var (
		p   surrogate.Prediction
		err error
	)
	if b.current.OutputsAreLatent {
		p, err = m.PredictF(ctx, x)
	} else {
		p, err = m.PredictY(ctx, x, b.current.ObservationNoiseOnly)
	}
	if err != nil {
		return p, fmt.Errorf("%w: output %s: %v", simerr.ErrSurrogateFailure, output, err)
	}
	if !finite(p.Mean) || !finite(p.Variance) || p.Variance < 0 {
		return p, fmt.Errorf("%w: output %s: invalid prediction mean=%v variance=%v",
			simerr.ErrSurrogateFailure, output, p.Mean, p.Variance)
	}
	return p, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// sample draws once from Normal(μ, √σ²). A draw is taken even for zero
// variance so every output consumes the random stream the same way.
func (b *base) sample(p surrogate.Prediction) float64 {
	return distuv.Normal{Mu: p.Mean, Sigma: math.Sqrt(p.Variance), Src: b.rng}.Rand()
}

// #endregion base

// #region sequential
// Sequential evaluates outputs in declaration order. Each sample is added to
// the state seen by the outputs after it.
type Sequential struct {
	base
}

// NewSequential creates the sequential variant.
func NewSequential(cfg Config, src surrogate.Source, rng *rand.Rand, logger *slog.Logger) *Sequential {
	return &Sequential{base: newBase(cfg, src, rng, logger, "sequential")}
}

// Reset loads every surrogate and samples the initial outputs.
func (s *Sequential) Reset(ctx context.Context, state vars.Values) (vars.Values, error) {
	if err := s.allocate(); err != nil {
		return nil, err
	}
	return s.Step(ctx, state)
}

// Step samples every output.
func (s *Sequential) Step(ctx context.Context, state vars.Values) (vars.Values, error) {
	if !s.ready {
		return nil, fmt.Errorf("%w: output step before reset", simerr.ErrNotReady)
	}
	x := state.Clone()
	out := make(vars.Values, len(s.current.OutputModels))
	for _, a := range s.current.OutputModels {
		p, err := s.predict(ctx, a.Output, x)
		if err != nil {
			return nil, err
		}
		o := s.sample(p)
		out[a.Output] = o
		x[a.Output] = o
	}
	return out, nil
}

// #endregion sequential
