package surrogate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region scaler

// ScalerSpec is a fitted standard scaler: z = (x - mean) / scale.
type ScalerSpec struct {
	Mean  []float64 `yaml:"mean"`
	Scale []float64 `yaml:"scale"`
}

// StandardScaler applies a fitted ScalerSpec.
type StandardScaler struct {
	mean  []float64
	scale []float64
}

// NewStandardScaler validates spec for dim dimensions.
func NewStandardScaler(spec ScalerSpec, dim int) (*StandardScaler, error) {
	if len(spec.Mean) != dim || len(spec.Scale) != dim {
		return nil, fmt.Errorf("%w: scaler expects %d dims, got mean=%d scale=%d",
			simerr.ErrConfiguration, dim, len(spec.Mean), len(spec.Scale))
	}
	for i, s := range spec.Scale {
		if s == 0 || math.IsNaN(s) {
			return nil, fmt.Errorf("%w: scaler scale[%d] is %v", simerr.ErrConfiguration, i, s)
		}
	}
	return &StandardScaler{mean: spec.Mean, scale: spec.Scale}, nil
}

// Transform standardizes x in place.
func (s *StandardScaler) Transform(x []float64) {
	for i := range x {
		x[i] = (x[i] - s.mean[i]) / s.scale[i]
	}
}

// InverseMean maps a standardized value of dimension i back to the original scale.
func (s *StandardScaler) InverseMean(i int, z float64) float64 {
	return z*s.scale[i] + s.mean[i]
}

// InverseVariance maps a standardized variance of dimension i back to the original scale.
func (s *StandardScaler) InverseVariance(i int, v float64) float64 {
	return v * s.scale[i] * s.scale[i]
}

// #endregion scaler

// #region pca

// PCASpec is a fitted principal-component projection. Components has one row
// per retained component.
type PCASpec struct {
	Mean       []float64   `yaml:"mean"`
	Components [][]float64 `yaml:"components"`
}

// PCA projects centred inputs onto the retained components.
type PCA struct {
	mean       *mat.VecDense
	components *mat.Dense
}

// NewPCA validates spec against the input dimension.
func NewPCA(spec PCASpec, dim int) (*PCA, error) {
	k := len(spec.Components)
	if k == 0 {
		return nil, fmt.Errorf("%w: pca has no components", simerr.ErrConfiguration)
	}
	if len(spec.Mean) != dim {
		return nil, fmt.Errorf("%w: pca mean expects %d dims, got %d", simerr.ErrConfiguration, dim, len(spec.Mean))
	}
	data := make([]float64, 0, k*dim)
	for i, row := range spec.Components {
		if len(row) != dim {
			return nil, fmt.Errorf("%w: pca component %d has %d dims, want %d", simerr.ErrConfiguration, i, len(row), dim)
		}
		data = append(data, row...)
	}
	return &PCA{
		mean:       mat.NewVecDense(dim, append([]float64(nil), spec.Mean...)),
		components: mat.NewDense(k, dim, data),
	}, nil
}

// Dim is the number of retained components.
func (p *PCA) Dim() int {
	r, _ := p.components.Dims()
	return r
}

// Project returns components · (x - mean).
func (p *PCA) Project(x []float64) []float64 {
	centred := mat.NewVecDense(len(x), nil)
	centred.SubVec(mat.NewVecDense(len(x), x), p.mean)
	var out mat.VecDense
	out.MulVec(p.components, centred)
	return out.RawVector().Data
}

// #endregion pca

// #region pipeline

// pipeline maps named inputs into the model's training space and predictions
// back out to the output's physical scale.
type pipeline struct {
	inputs      []string
	xScaler     *StandardScaler
	pca         *PCA
	yScaler     *StandardScaler
	keepYScaled bool
}

func newPipeline(a Artifact) (*pipeline, error) {
	if len(a.TrainingInputs) == 0 {
		return nil, fmt.Errorf("%w: training_inputs is empty", simerr.ErrConfiguration)
	}
	p := &pipeline{inputs: a.TrainingInputs, keepYScaled: a.KeepYScaled}
	dim := len(a.TrainingInputs)
	if a.XIsScaled {
		if a.XScaler == nil {
			return nil, fmt.Errorf("%w: X_is_scaled without x_scaler", simerr.ErrConfiguration)
		}
		s, err := NewStandardScaler(*a.XScaler, dim)
		if err != nil {
			return nil, err
		}
		p.xScaler = s
	}
	if a.PCAOnInputs {
		if a.PCA == nil {
			return nil, fmt.Errorf("%w: pca_on_inputs without pca", simerr.ErrConfiguration)
		}
		pca, err := NewPCA(*a.PCA, dim)
		if err != nil {
			return nil, err
		}
		p.pca = pca
	}
	if a.YIsScaled {
		if a.YScaler == nil {
			return nil, fmt.Errorf("%w: y_is_scaled without y_scaler", simerr.ErrConfiguration)
		}
		s, err := NewStandardScaler(*a.YScaler, 1)
		if err != nil {
			return nil, err
		}
		p.yScaler = s
	}
	return p, nil
}

// modelDim is the dimension of the space the kernel operates in.
func (p *pipeline) modelDim() int {
	if p.pca != nil {
		return p.pca.Dim()
	}
	return len(p.inputs)
}

// forward extracts, scales and projects the named inputs.
func (p *pipeline) forward(x vars.Values) ([]float64, error) {
	z := make([]float64, len(p.inputs))
	for i, name := range p.inputs {
		v, ok := x[name]
		if !ok {
			return nil, fmt.Errorf("missing input %q", name)
		}
		if math.IsNaN(v) {
			return nil, fmt.Errorf("input %q is NaN", name)
		}
		z[i] = v
	}
	if p.xScaler != nil {
		p.xScaler.Transform(z)
	}
	if p.pca != nil {
		z = p.pca.Project(z)
	}
	return z, nil
}

// backward maps a prediction in training-target space to the output scale.
func (p *pipeline) backward(pred Prediction) Prediction {
	if p.yScaler == nil || p.keepYScaled {
		return pred
	}
	return Prediction{
		Mean:     p.yScaler.InverseMean(0, pred.Mean),
		Variance: p.yScaler.InverseVariance(0, pred.Variance),
	}
}

// #endregion pipeline
