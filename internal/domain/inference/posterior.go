package inference

// Posterior is the fitted mean-field approximation over (slope, intercept).
type Posterior struct {
	Mean   []float64 `json:"mean"`
	StdDev []float64 `json:"std_dev"`
}

// Prediction is the posterior predictive distribution at one input.
type Prediction struct {
	X        float64 `json:"x"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// Predict returns the Gaussian posterior predictive at x for a linear model
// with observation variance likVariance.
func (p Posterior) Predict(x, likVariance float64) Prediction {
	w, b := p.Mean[0], p.Mean[1]
	sw, sb := p.StdDev[0], p.StdDev[1]
	return Prediction{
		X:        x,
		Mean:     w*x + b,
		Variance: likVariance + x*x*sw*sw + sb*sb,
	}
}
