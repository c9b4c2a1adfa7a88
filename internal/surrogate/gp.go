package surrogate

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/danielpatrickdp/nonwoven-sim/internal/simerr"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region gaussian-process

// GaussianProcess is an exact GP regressor with an ARD squared-exponential
// kernel and a constant mean. The posterior is conditioned once at load time.
type GaussianProcess struct {
	pipe         *pipeline
	variance     float64
	lengthscales []float64
	noise        float64
	meanConst    float64

	x     *mat.Dense
	chol  mat.Cholesky
	alpha *mat.VecDense
}

// NewGaussianProcess conditions a GP on training inputs X (rows in model space)
// and targets y.
func NewGaussianProcess(a Artifact, X *mat.Dense, y []float64) (*GaussianProcess, error) {
	pipe, err := newPipeline(a)
	if err != nil {
		return nil, err
	}
	return newGaussianProcess(a, pipe, X, y)
}

func newGaussianProcess(a Artifact, pipe *pipeline, X *mat.Dense, y []float64) (*GaussianProcess, error) {
	n, d := X.Dims()
	if n != len(y) {
		return nil, fmt.Errorf("%w: %d training rows but %d targets", simerr.ErrConfiguration, n, len(y))
	}
	if d != pipe.modelDim() {
		return nil, fmt.Errorf("%w: training data has %d columns, model expects %d", simerr.ErrConfiguration, d, pipe.modelDim())
	}
	if a.Kernel.Variance <= 0 {
		return nil, fmt.Errorf("%w: kernel variance must be positive", simerr.ErrConfiguration)
	}
	if a.LikelihoodVariance < 0 {
		return nil, fmt.Errorf("%w: likelihood_variance must be non-negative", simerr.ErrConfiguration)
	}
	ls, err := expandLengthscales(a.Kernel.Lengthscales, d)
	if err != nil {
		return nil, err
	}

	gp := &GaussianProcess{
		pipe:         pipe,
		variance:     a.Kernel.Variance,
		lengthscales: ls,
		noise:        a.LikelihoodVariance,
		meanConst:    a.MeanConstant,
		x:            X,
	}

	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			k := gp.kernel(X.RawRowView(i), X.RawRowView(j))
			if i == j {
				k += gp.noise + 1e-10
			}
			K.SetSym(i, j, k)
		}
	}
	if ok := gp.chol.Factorize(K); !ok {
		return nil, fmt.Errorf("%w: training covariance is not positive definite", simerr.ErrConfiguration)
	}

	centred := mat.NewVecDense(n, nil)
	for i, v := range y {
		centred.SetVec(i, v-gp.meanConst)
	}
	gp.alpha = mat.NewVecDense(n, nil)
	if err := gp.chol.SolveVecTo(gp.alpha, centred); err != nil {
		return nil, fmt.Errorf("%w: solve weights: %v", simerr.ErrConfiguration, err)
	}
	return gp, nil
}

// PredictF returns the posterior of the latent function.
func (gp *GaussianProcess) PredictF(_ context.Context, x vars.Values) (Prediction, error) {
	z, err := gp.pipe.forward(x)
	if err != nil {
		return Prediction{}, err
	}
	return gp.pipe.backward(gp.latent(z)), nil
}

// PredictY adds the Gaussian likelihood noise to the latent posterior.
func (gp *GaussianProcess) PredictY(_ context.Context, x vars.Values, observationNoiseOnly bool) (Prediction, error) {
	z, err := gp.pipe.forward(x)
	if err != nil {
		return Prediction{}, err
	}
	p := gp.latent(z)
	if observationNoiseOnly {
		p.Variance = gp.noise
	} else {
		p.Variance += gp.noise
	}
	return gp.pipe.backward(p), nil
}

func (gp *GaussianProcess) latent(z []float64) Prediction {
	n, _ := gp.x.Dims()
	kstar := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		kstar.SetVec(i, gp.kernel(z, gp.x.RawRowView(i)))
	}
	mean := mat.Dot(kstar, gp.alpha) + gp.meanConst

	w := mat.NewVecDense(n, nil)
	variance := gp.variance
	if err := gp.chol.SolveVecTo(w, kstar); err == nil {
		variance -= mat.Dot(kstar, w)
	}
	return Prediction{Mean: mean, Variance: math.Max(variance, 0)}
}

func (gp *GaussianProcess) kernel(a, b []float64) float64 {
	var sq float64
	for i := range a {
		d := (a[i] - b[i]) / gp.lengthscales[i]
		sq += d * d
	}
	return gp.variance * math.Exp(-0.5*sq)
}

func expandLengthscales(ls []float64, d int) ([]float64, error) {
	switch len(ls) {
	case 1:
		out := make([]float64, d)
		for i := range out {
			out[i] = ls[0]
		}
		ls = out
	case d:
		ls = append([]float64(nil), ls...)
	default:
		return nil, fmt.Errorf("%w: %d lengthscales for %d dims", simerr.ErrConfiguration, len(ls), d)
	}
	for i, l := range ls {
		if l <= 0 {
			return nil, fmt.Errorf("%w: lengthscale %d must be positive", simerr.ErrConfiguration, i)
		}
	}
	return ls, nil
}

// #endregion gaussian-process

// #region training-data

// ReadTrainingData parses a CSV with a header row, dim input columns and the
// target in the last column.
func ReadTrainingData(path string, dim int) (*mat.Dense, []float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open training data %s: %v", simerr.ErrConfiguration, path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = dim + 1
	r.TrimLeadingSpace = true
	if _, err := r.Read(); err != nil {
		return nil, nil, fmt.Errorf("%w: read header of %s: %v", simerr.ErrConfiguration, path, err)
	}

	var data, y []float64
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", simerr.ErrConfiguration, path, err)
		}
		for i, field := range rec {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %s line %d column %d: %v", simerr.ErrConfiguration, path, line, i+1, err)
			}
			if i == dim {
				y = append(y, v)
			} else {
				data = append(data, v)
			}
		}
	}
	if len(y) == 0 {
		return nil, nil, fmt.Errorf("%w: %s has no training rows", simerr.ErrConfiguration, path)
	}
	return mat.NewDense(len(y), dim, data), y, nil
}

// #endregion training-data
