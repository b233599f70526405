// Package linear implements the Bayesian linear regression model
//
//	p((x,y), z) = Normal(y | x*z0 + z1, likVariance) * Normal(z | 0, priorVariance)
//
// with known variances. Data rows carry the output in column 0 and the input
// in column 1; latent vectors are (slope, intercept).
package linear

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Default model configuration constants.
const (
	DefaultLikVariance   = 0.01
	DefaultPriorVariance = 0.01

	numVars = 2
	colY    = 0
	colX    = 1
)

// Model is a Bayesian linear model over (slope, intercept).
type Model struct {
	LikVariance   float64
	PriorVariance float64

	// scale multiplies the log-likelihood, e.g. N/M for minibatches.
	scale float64
}

// Option applies a configuration option to the Model.
type Option func(*Model)

// WithLikVariance sets the variance of the normal likelihood.
func WithLikVariance(v float64) Option {
	return func(m *Model) {
		if v > 0 {
			m.LikVariance = v
		}
	}
}

// WithPriorVariance sets the variance of the normal prior on the weights.
func WithPriorVariance(v float64) Option {
	return func(m *Model) {
		if v > 0 {
			m.PriorVariance = v
		}
	}
}

// New creates a Model with the default variances.
func New(opts ...Option) *Model {
	m := &Model{
		LikVariance:   DefaultLikVariance,
		PriorVariance: DefaultPriorVariance,
		scale:         1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NumVars returns the number of latent variables.
func (m *Model) NumVars() int { return numVars }

// Validate checks that both variances are usable.
func (m *Model) Validate() error {
	for _, v := range []float64{m.LikVariance, m.PriorVariance} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %v", ErrInvalidVariance, v)
		}
	}
	return nil
}

// SetLikelihoodScale sets the factor applied to the log-likelihood term.
// Non-positive values reset it to 1.
func (m *Model) SetLikelihoodScale(s float64) {
	if s <= 0 {
		s = 1
	}
	m.scale = s
}

func (m *Model) likScale() float64 {
	if m.scale <= 0 {
		return 1
	}
	return m.scale
}

// LogProb returns [log p(xs, zs[0,:]), ..., log p(xs, zs[S-1,:])].
func (m *Model) LogProb(xs, zs mat.Matrix) []float64 {
	n, _ := xs.Dims()
	s, _ := zs.Dims()

	lik := distuv.Normal{Sigma: math.Sqrt(m.LikVariance)}
	prior := distuv.Normal{Mu: 0, Sigma: math.Sqrt(m.PriorVariance)}
	scale := m.likScale()

	out := make([]float64, s)
	for j := 0; j < s; j++ {
		w, b := zs.At(j, 0), zs.At(j, 1)

		var logLik float64
		for i := 0; i < n; i++ {
			lik.Mu = xs.At(i, colX)*w + b
			logLik += lik.LogProb(xs.At(i, colY))
		}
		out[j] = scale*logLik + prior.LogProb(w) + prior.LogProb(b)
	}
	return out
}

// Gradient returns the gradient of log p(xs, z) with respect to z.
func (m *Model) Gradient(xs mat.Matrix, z []float64) []float64 {
	n, _ := xs.Dims()
	w, b := z[0], z[1]

	var gw, gb float64
	for i := 0; i < n; i++ {
		x := xs.At(i, colX)
		r := xs.At(i, colY) - (x*w + b)
		gw += r * x
		gb += r
	}
	scale := m.likScale() / m.LikVariance
	return []float64{
		scale*gw - w/m.PriorVariance,
		scale*gb - b/m.PriorVariance,
	}
}

// ExactPosterior returns the conjugate Gaussian posterior over (slope,
// intercept) given all rows of xs. The likelihood scale is ignored.
func (m *Model) ExactPosterior(xs mat.Matrix) ([]float64, *mat.SymDense, error) {
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	n, _ := xs.Dims()

	var sxx, sx, sxy, sy float64
	for i := 0; i < n; i++ {
		x, y := xs.At(i, colX), xs.At(i, colY)
		sxx += x * x
		sx += x
		sxy += x * y
		sy += y
	}

	invLik, invPrior := 1/m.LikVariance, 1/m.PriorVariance
	precision := mat.NewSymDense(numVars, []float64{
		sxx*invLik + invPrior, sx * invLik,
		sx * invLik, float64(n)*invLik + invPrior,
	})

	var chol mat.Cholesky
	if ok := chol.Factorize(precision); !ok {
		return nil, nil, ErrSingularPosterior
	}

	cov := mat.NewSymDense(numVars, nil)
	if err := chol.InverseTo(cov); err != nil {
		return nil, nil, fmt.Errorf("invert posterior precision: %w", err)
	}

	var mean mat.VecDense
	if err := chol.SolveVecTo(&mean, mat.NewVecDense(numVars, []float64{sxy * invLik, sy * invLik})); err != nil {
		return nil, nil, fmt.Errorf("solve posterior mean: %w", err)
	}
	return []float64{mean.AtVec(0), mean.AtVec(1)}, cov, nil
}
