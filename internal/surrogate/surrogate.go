// Package surrogate provides the predictive models behind each process output.
//
// Every model exposes the same two-method capability: the latent mean and
// variance (PredictF) and the observed mean and variance (PredictY). Concrete
// models are a Gaussian-process regressor, a deterministic calculation adapter,
// and a gRPC client for models served elsewhere.
package surrogate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/grpc"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/nonwoven-sim/internal/calc"
	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region model

// Prediction is a Gaussian predictive distribution for one output.
type Prediction struct {
	Mean     float64
	Variance float64
}

// Model predicts one output from the named-input state.
type Model interface {
	// PredictF returns the latent function's mean and variance (no observation noise).
	PredictF(ctx context.Context, x vars.Values) (Prediction, error)
	// PredictY returns the observation's mean and variance. With
	// observationNoiseOnly the variance is the homoscedastic noise floor.
	PredictY(ctx context.Context, x vars.Values, observationNoiseOnly bool) (Prediction, error)
}

// Source resolves a surrogate id to a model.
type Source interface {
	Load(id string) (Model, error)
}

// Static is an in-memory Source.
type Static map[string]Model

// Load returns the model registered under id.
func (s Static) Load(id string) (Model, error) {
	m, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown surrogate %q", simerr.ErrConfiguration, id)
	}
	return m, nil
}

// #endregion model

// #region artifact

// Model classes understood by the loader.
const (
	ClassGaussianProcess = "GaussianProcess"
	ClassCalculation     = "Calculation"
	ClassRemote          = "Remote"
)

// Artifact is the YAML descriptor stored as <id>.yaml in the model directory.
type Artifact struct {
	ModelClass     string   `yaml:"model_class"`
	TrainingInputs []string `yaml:"training_inputs"`
	TrainingTarget string   `yaml:"training_target"`
	XIsScaled      bool     `yaml:"X_is_scaled"`
	YIsScaled      bool     `yaml:"y_is_scaled"`
	PCAOnInputs    bool     `yaml:"pca_on_inputs"`
	KeepYScaled    bool     `yaml:"keep_y_scaled"`

	// Gaussian process state.
	TrainingData       string      `yaml:"training_data,omitempty"`
	Kernel             KernelSpec  `yaml:"kernel,omitempty"`
	LikelihoodVariance float64     `yaml:"likelihood_variance,omitempty"`
	MeanConstant       float64     `yaml:"mean_constant,omitempty"`
	XScaler            *ScalerSpec `yaml:"x_scaler,omitempty"`
	YScaler            *ScalerSpec `yaml:"y_scaler,omitempty"`
	PCA                *PCASpec    `yaml:"pca,omitempty"`

	// Calculation adapter.
	Calculation         string  `yaml:"calculation,omitempty"`
	Variance            float64 `yaml:"variance,omitempty"`
	ObservationVariance float64 `yaml:"observation_variance,omitempty"`
	RelativeStd         float64 `yaml:"relative_std,omitempty"`

	// Remote model.
	Address     string `yaml:"address,omitempty"`
	RemoteModel string `yaml:"remote_model,omitempty"`
}

// KernelSpec holds ARD-RBF hyperparameters. A single lengthscale is shared by all dimensions.
type KernelSpec struct {
	Variance     float64   `yaml:"variance"`
	Lengthscales []float64 `yaml:"lengthscales"`
}

// ReadArtifact parses one descriptor file.
func ReadArtifact(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Artifact{}, fmt.Errorf("%w: missing surrogate artifact %s", simerr.ErrConfiguration, path)
		}
		return Artifact{}, fmt.Errorf("read %s: %w", path, err)
	}
	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return Artifact{}, fmt.Errorf("%w: unmarshal %s: %v", simerr.ErrConfiguration, path, err)
	}
	return a, nil
}

// #endregion artifact

// #region loader

// Loader builds models from artifacts in a directory, caching one model per id.
type Loader struct {
	dir      string
	calcs    *calc.Registry
	dialOpts []grpc.DialOption
	static   map[string]Model
	cache    map[string]Model
	closers  []io.Closer
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithDialOptions sets the gRPC options used for Remote artifacts.
func WithDialOptions(opts ...grpc.DialOption) LoaderOption {
	return func(l *Loader) { l.dialOpts = append(l.dialOpts, opts...) }
}

// WithModel pre-registers an in-memory model under id.
func WithModel(id string, m Model) LoaderOption {
	return func(l *Loader) { l.static[id] = m }
}

// NewLoader creates a loader for dir. calcs resolves Calculation artifacts and may be nil.
func NewLoader(dir string, calcs *calc.Registry, opts ...LoaderOption) *Loader {
	if calcs == nil {
		calcs = calc.NewRegistry("")
	}
	l := &Loader{dir: dir, calcs: calcs, static: make(map[string]Model), cache: make(map[string]Model)}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load returns the model for id, building it on first use.
func (l *Loader) Load(id string) (Model, error) {
	if m, ok := l.static[id]; ok {
		return m, nil
	}
	if m, ok := l.cache[id]; ok {
		return m, nil
	}
	if l.dir == "" {
		return nil, fmt.Errorf("%w: no model directory for surrogate %q", simerr.ErrConfiguration, id)
	}
	a, err := ReadArtifact(filepath.Join(l.dir, id+".yaml"))
	if err != nil {
		return nil, err
	}
	m, err := l.build(id, a)
	if err != nil {
		return nil, fmt.Errorf("surrogate %s: %w", id, err)
	}
	l.cache[id] = m
	if c, ok := m.(io.Closer); ok {
		l.closers = append(l.closers, c)
	}
	return m, nil
}

// LoadAll loads every *.yaml artifact in the directory, keyed by id.
func (l *Loader) LoadAll() (map[string]Model, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read model dir %s: %w", l.dir, err)
	}
	out := make(map[string]Model)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".yaml")
		m, err := l.Load(id)
		if err != nil {
			return nil, err
		}
		out[id] = m
	}
	return out, nil
}

func (l *Loader) build(id string, a Artifact) (Model, error) {
	switch a.ModelClass {
	case ClassGaussianProcess, "GPR":
		return l.buildGaussianProcess(a)
	case ClassCalculation:
		c, err := l.calcs.Lookup(a.Calculation)
		if err != nil {
			return nil, err
		}
		return NewCalculation(c, a.Variance, a.ObservationVariance, a.RelativeStd), nil
	case ClassRemote:
		name := a.RemoteModel
		if name == "" {
			name = id
		}
		return DialRemote(a.Address, name, l.dialOpts...)
	default:
		return nil, fmt.Errorf("%w: unsupported model class %q", simerr.ErrConfiguration, a.ModelClass)
	}
}

func (l *Loader) buildGaussianProcess(a Artifact) (Model, error) {
	if a.TrainingData == "" {
		return nil, fmt.Errorf("%w: training_data not set", simerr.ErrConfiguration)
	}
	path := a.TrainingData
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.dir, path)
	}
	pipe, err := newPipeline(a)
	if err != nil {
		return nil, err
	}
	X, y, err := ReadTrainingData(path, pipe.modelDim())
	if err != nil {
		return nil, err
	}
	return newGaussianProcess(a, pipe, X, y)
}

// Close releases remote connections opened by the loader.
func (l *Loader) Close() error {
	var errs []error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	l.cache = make(map[string]Model)
	return errors.Join(errs...)
}

// #endregion loader
