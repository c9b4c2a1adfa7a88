package environment

import (
	"log/slog"

	"github.com/danielpatrickdp/nonwoven-sim/internal/calc"
	"github.com/danielpatrickdp/nonwoven-sim/internal/surrogate"
	"github.com/danielpatrickdp/nonwoven-sim/internal/telemetry"
)

// #region options
type options struct {
	logger   *slog.Logger
	tracker  telemetry.Tracker
	source   surrogate.Source
	calcs    *calc.Registry
	seed     *uint64
	parallel *bool
	runID    string
}

// Option configures an Environment.
type Option func(*options)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracker sets the telemetry sink. Defaults to telemetry.Nop.
func WithTracker(t telemetry.Tracker) Option {
	return func(o *options) { o.tracker = t }
}

// WithSource replaces the file-backed surrogate loader.
func WithSource(s surrogate.Source) Option {
	return func(o *options) { o.source = s }
}

// WithCalculators sets the dependent-variable registry, also used by
// Calculation surrogates loaded from disk.
func WithCalculators(r *calc.Registry) Option {
	return func(o *options) { o.calcs = r }
}

// WithSeed overrides environment_setup.seed.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = &seed }
}

// WithParallelOutputs overrides environment_setup.parallel_outputs.
func WithParallelOutputs(parallel bool) Option {
	return func(o *options) { o.parallel = &parallel }
}

// WithRunID tags every record with a run id.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// #endregion options
