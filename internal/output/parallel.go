package output

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/surrogate"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// Parallel evaluates every surrogate concurrently against the same state.
// Samples are drawn afterwards in declaration order, so with independent
// outputs it matches Sequential draw for draw.
type Parallel struct {
	base
	limit int
}

// NewParallel creates the parallel variant.
func NewParallel(cfg Config, src surrogate.Source, rng *rand.Rand, logger *slog.Logger) *Parallel {
	return &Parallel{base: newBase(cfg, src, rng, logger, "parallel"), limit: -1}
}

// SetLimit caps the number of concurrent predictions. n <= 0 means no limit.
func (p *Parallel) SetLimit(n int) {
	if n <= 0 {
		n = -1
	}
	p.limit = n
}

// Reset loads every surrogate and samples the initial outputs.
func (p *Parallel) Reset(ctx context.Context, state vars.Values) (vars.Values, error) {
	if err := p.allocate(); err != nil {
		return nil, err
	}
	return p.Step(ctx, state)
}

// Step predicts all outputs concurrently, then samples them serially.
func (p *Parallel) Step(ctx context.Context, state vars.Values) (vars.Values, error) {
	if !p.ready {
		return nil, fmt.Errorf("%w: output step before reset", simerr.ErrNotReady)
	}
	assignments := p.current.OutputModels
	preds := make([]surrogate.Prediction, len(assignments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for i, a := range assignments {
		g.Go(func() error {
			pred, err := p.predict(gctx, a.Output, state)
			if err != nil {
				return err
			}
			preds[i] = pred
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(vars.Values, len(assignments))
	for i, a := range assignments {
		out[a.Output] = p.sample(preds[i])
	}
	return out, nil
}
