package surrogate

import (
	"context"

	"github.com/danielpatrickdp/nonwoven-sim/internal/calc"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// Calculation wraps a deterministic calculator as a surrogate. The latent
// variance is either fixed or proportional to the mean (relativeStd·μ)².
type Calculation struct {
	calc        calc.Calculator
	variance    float64
	obsVariance float64
	relativeStd float64
}

// NewCalculation builds a deterministic surrogate. All variances may be zero.
func NewCalculation(c calc.Calculator, variance, obsVariance, relativeStd float64) *Calculation {
	return &Calculation{calc: c, variance: variance, obsVariance: obsVariance, relativeStd: relativeStd}
}

// PredictF evaluates the calculator.
func (c *Calculation) PredictF(_ context.Context, x vars.Values) (Prediction, error) {
	mean, err := c.calc.Calculate(x)
	if err != nil {
		return Prediction{}, err
	}
	sd := c.relativeStd * mean
	return Prediction{Mean: mean, Variance: c.variance + sd*sd}, nil
}

// PredictY adds the observation variance.
func (c *Calculation) PredictY(ctx context.Context, x vars.Values, observationNoiseOnly bool) (Prediction, error) {
	p, err := c.PredictF(ctx, x)
	if err != nil {
		return Prediction{}, err
	}
	if observationNoiseOnly {
		p.Variance = c.obsVariance
	} else {
		p.Variance += c.obsVariance
	}
	return p, nil
}
