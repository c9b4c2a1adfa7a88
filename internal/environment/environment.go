// Package environment composes the simulator managers into a step-driven
// reinforcement-learning environment.
//
// Each Step reads the disturbances, applies the action, samples the outputs,
// scores the objective and logs one record. It then advances the step index,
// lets the scenario mutate the managers for the next step and re-reads the
// disturbances so the returned state already reflects those mutations.
package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/danielpatrickdp/nonwoven-sim/internal/action"
	"github.com/danielpatrickdp/nonwoven-sim/internal/calc"
	"github.com/danielpatrickdp/nonwoven-sim/internal/config"
	"github.com/danielpatrickdp/nonwoven-sim/internal/disturbance"
	"github.com/danielpatrickdp/nonwoven-sim/internal/objective"
	"github.com/danielpatrickdp/nonwoven-sim/internal/output"
	"github.com/danielpatrickdp/nonwoven-sim/internal/scenario"
	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/surrogate"
	"github.com/danielpatrickdp/nonwoven-sim/internal/telemetry"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region phase
// Phase is the lifecycle state of an Environment.
type Phase int

const (
	Uninitialized Phase = iota
	Ready               // after Reset
	Running             // after the first Step
	Closed              // after Close or any fatal error
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// #endregion phase

// #region result
// Result is returned by Reset and Step.
type Result struct {
	Reward float64
	// State is D ∪ S ∪ V primed for the next step: committed setpoints and
	// dependent variables with the disturbances after scenario mutations.
	State   vars.Values
	Outputs vars.Values
	// OutputBounds is the objective's output-bound snapshot after scenario
	// mutations.
	OutputBounds   vars.Bounds
	StepIndex      int
	Decision       string
	SetpointFlags  vars.Flags
	DependentFlags vars.Flags
	OutputFlags    vars.Flags
}

// ConstraintsMet reports whether every flag of the scored step held.
func (r Result) ConstraintsMet() bool {
	return vars.AllTrue(r.SetpointFlags, r.DependentFlags, r.OutputFlags)
}

// #endregion result

// #region environment
// seedMix decorrelates the second PCG word from the first.
const seedMix = 0x9e3779b97f4a7c15

// Environment owns the managers, the step index and the session random source.
// It is not safe for concurrent use.
type Environment struct {
	cfg    *config.Config
	seed   uint64
	pcg    *rand.PCG
	rng    *rand.Rand
	runID  string
	logger *slog.Logger

	tracker     telemetry.Tracker
	loader      *surrogate.Loader
	action      *action.Manager
	disturbance *disturbance.Manager
	output      output.Manager
	objective   *objective.Manager
	scenario    *scenario.Manager

	phase     Phase
	n         int
	setpoints vars.Values
	dependent vars.Values
}

// New builds an environment from a validated configuration. Surrogates are
// loaded at Reset.
func New(cfg *config.Config, opts ...Option) (*Environment, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", simerr.ErrConfiguration)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracker == nil {
		o.tracker = telemetry.Nop{}
	}
	if o.calcs == nil {
		o.calcs = calc.NewRegistry(cfg.Action.PathToDependentVariableCalculations)
	}
	seed := cfg.Environment.Seed
	if o.seed != nil {
		seed = *o.seed
	}
	parallel := cfg.Environment.ParallelOutputs
	if o.parallel != nil {
		parallel = *o.parallel
	}

	e := &Environment{
		cfg:     cfg,
		seed:    seed,
		pcg:     rand.NewPCG(seed, seed^seedMix),
		runID:   o.runID,
		logger:  o.logger.With("component", "environment"),
		tracker: o.tracker,
		n:       -1,
	}
	e.rng = rand.New(e.pcg)

	src := o.source
	if src == nil {
		e.loader = surrogate.NewLoader(cfg.Output.PathToModels, o.calcs)
		src = e.loader
	}

	sc, err := scenario.NewManager(cfg.Scenario, e.rng, o.logger)
	if err != nil {
		return nil, err
	}
	e.scenario = sc
	e.action = action.NewManager(cfg.Action, o.calcs, o.logger)
	e.disturbance = disturbance.NewManager(cfg.Disturbance, o.logger)
	e.output = output.New(cfg.Output, src, e.rng, o.logger, parallel)
	e.objective = objective.NewManager(cfg.Objective, o.logger)
	return e, nil
}

// Reset starts a new session from the initial configuration. The random
// source is reseeded, so every session with the same seed and actions is
// identical.
func (e *Environment) Reset(ctx context.Context) (Result, error) {
	e.n = 0
	e.pcg.Seed(e.seed, e.seed^seedMix)

	if err := e.scenario.Reset(); err != nil {
		return Result{}, e.fail(err)
	}
	d := e.disturbance.Reset()
	ar, err := e.action.Reset(d)
	if err != nil {
		return Result{}, e.fail(err)
	}
	e.setpoints, e.dependent = ar.Setpoints, ar.Dependent

	state, err := vars.Union(d, e.setpoints, e.dependent)
	if err != nil {
		return Result{}, e.fail(fmt.Errorf("%w: %v", simerr.ErrConfiguration, err))
	}
	if k, nan := state.HasNaN(); nan {
		return Result{}, e.fail(fmt.Errorf("%w: initial state %q is NaN", simerr.ErrInitialConstraintViolation, k))
	}
	outputs, err := e.output.Reset(ctx, state)
	if err != nil {
		return Result{}, e.fail(err)
	}
	obj, err := e.objective.Reset(state, outputs, ar.SetpointFlags, ar.DependentFlags)
	if err != nil {
		return Result{}, e.fail(err)
	}
	e.emit(ctx, telemetry.Record{
		Step:           e.n,
		Reward:         obj.Reward,
		Actions:        vars.Values{},
		Setpoints:      e.setpoints,
		Dependent:      e.dependent,
		Disturbances:   d,
		Outputs:        outputs,
		SetpointFlags:  ar.SetpointFlags,
		DependentFlags: ar.DependentFlags,
		OutputFlags:    obj.OutputFlags,
	})

	res, err := e.advance(obj.Reward, outputs)
	if err != nil {
		return Result{}, e.fail(err)
	}
	res.SetpointFlags, res.DependentFlags, res.OutputFlags = ar.SetpointFlags, ar.DependentFlags, obj.OutputFlags
	e.phase = Ready
	e.logger.Info("reset", "run", e.runID, "seed", e.seed, "reward", obj.Reward)
	return res, nil
}

// Step applies action a. Bound violations are reported through flags and a
// penalised reward, never as errors. Any error other than ErrNotReady closes
// the environment.
func (e *Environment) Step(ctx context.Context, a vars.Values) (Result, error) {
	if e.phase != Ready && e.phase != Running {
		return Result{}, fmt.Errorf("%w: environment is %s", simerr.ErrNotReady, e.phase)
	}
	d, err := e.disturbance.Step()
	if err != nil {
		return Result{}, e.fail(err)
	}
	ar, err := e.action.Step(a, d)
	if err != nil {
		return Result{}, e.fail(err)
	}
	e.setpoints, e.dependent = ar.Setpoints, ar.Dependent

	state, err := vars.Union(d, e.setpoints, e.dependent)
	if err != nil {
		return Result{}, e.fail(fmt.Errorf("%w: %v", simerr.ErrConfiguration, err))
	}
	outputs, err := e.output.Step(ctx, state)
	if err != nil {
		return Result{}, e.fail(err)
	}
	obj, err := e.objective.Step(state, outputs, ar.SetpointFlags, ar.DependentFlags)
	if err != nil {
		return Result{}, e.fail(err)
	}
	e.emit(ctx, telemetry.Record{
		Step:           e.n,
		Reward:         obj.Reward,
		Decision:       ar.Decision.Action,
		Actions:        a.Clone(),
		Setpoints:      e.setpoints,
		Dependent:      e.dependent,
		Disturbances:   d,
		Outputs:        outputs,
		SetpointFlags:  ar.SetpointFlags,
		DependentFlags: ar.DependentFlags,
		OutputFlags:    obj.OutputFlags,
	})

	res, err := e.advance(obj.Reward, outputs)
	if err != nil {
		return Result{}, e.fail(err)
	}
	res.Decision = ar.Decision.Action
	res.SetpointFlags, res.DependentFlags, res.OutputFlags = ar.SetpointFlags, ar.DependentFlags, obj.OutputFlags
	e.phase = Running
	return res, nil
}

// advance moves to the next step index, runs the scenario for it and primes
// the returned state with the mutated disturbances.
func (e *Environment) advance(reward float64, outputs vars.Values) (Result, error) {
	e.n++
	if _, err := e.scenario.Step(e.n, e.disturbance, e.output, e.objective); err != nil {
		return Result{}, err
	}
	d, err := e.disturbance.Step()
	if err != nil {
		return Result{}, err
	}
	state, err := vars.Union(d, e.setpoints, e.dependent)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", simerr.ErrConfiguration, err)
	}
	return Result{
		Reward:       reward,
		State:        state,
		Outputs:      outputs,
		OutputBounds: e.objective.OutputBounds(),
		StepIndex:    e.n,
	}, nil
}

func (e *Environment) emit(ctx context.Context, rec telemetry.Record) {
	rec.RunID = e.runID
	rec.Time = time.Now().UTC()
	if err := e.tracker.Log(ctx, rec); err != nil {
		e.logger.Error("tracker", "step", rec.Step, "err", err)
	}
}

// fail closes the environment on fatal errors and returns err.
func (e *Environment) fail(err error) error {
	if !simerr.Fatal(err) {
		return err
	}
	e.logger.Error("closing after fatal error", "step", e.n, "err", err)
	if cerr := e.Close(); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

// Close closes every manager and marks the environment closed. It is safe to
// call in any state and more than once. Reset starts a new session.
func (e *Environment) Close() error {
	errs := []error{
		e.scenario.Close(),
		e.disturbance.Close(),
		e.action.Close(),
		e.output.Close(),
		e.objective.Close(),
	}
	if e.loader != nil {
		errs = append(errs, e.loader.Close())
	}
	e.n = -1
	e.phase = Closed
	return errors.Join(errs...)
}

// #endregion environment

// #region accessors
// Phase returns the lifecycle state.
func (e *Environment) Phase() Phase { return e.phase }

// StepIndex returns the index of the next step to be scored, or -1 when not ready.
func (e *Environment) StepIndex() int { return e.n }

// Seed returns the session seed.
func (e *Environment) Seed() uint64 { return e.seed }

// Setpoints returns the committed setpoints.
func (e *Environment) Setpoints() vars.Values { return e.setpoints.Clone() }

// SetpointBounds returns the configured setpoint bounds.
func (e *Environment) SetpointBounds() vars.Bounds { return e.action.SetpointBounds() }

// RelativeActions reports whether actions are deltas.
func (e *Environment) RelativeActions() bool { return e.action.Relative() }

// OutputNames lists the registered outputs.
func (e *Environment) OutputNames() []string { return e.output.Names() }

// PendingScenario returns the schedules not yet consumed.
func (e *Environment) PendingScenario() scenario.Config { return e.scenario.Pending() }

// #endregion accessors
