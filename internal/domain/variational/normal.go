// Package variational provides the mean-field Normal family used to
// approximate the posterior over latent variables.
package variational

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MeanFieldNormal is a fully factorised Normal with per-dimension mean Mu
// and scale softplus(Rho).
type MeanFieldNormal struct {
	Mu  []float64
	Rho []float64
}

// New returns a k-dimensional family with Mu and Rho drawn from N(0, 1).
func New(k int, src rand.Source) *MeanFieldNormal {
	std := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	q := &MeanFieldNormal{Mu: make([]float64, k), Rho: make([]float64, k)}
	for i := 0; i < k; i++ {
		q.Mu[i] = std.Rand()
		q.Rho[i] = std.Rand()
	}
	return q
}

// Dim returns the number of latent dimensions.
func (q *MeanFieldNormal) Dim() int { return len(q.Mu) }

// Mean returns a copy of the per-dimension means.
func (q *MeanFieldNormal) Mean() []float64 {
	return append([]float64(nil), q.Mu...)
}

// StdDev returns the per-dimension standard deviations.
func (q *MeanFieldNormal) StdDev() []float64 {
	out := make([]float64, len(q.Rho))
	for i, r := range q.Rho {
		out[i] = Softplus(r)
	}
	return out
}

// Sample draws n latent vectors z = mu + sigma*eps. It returns the n x k
// samples and the standard normal noise that produced them.
func (q *MeanFieldNormal) Sample(n int, src rand.Source) (zs, eps *mat.Dense) {
	k := q.Dim()
	std := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	sigma := q.StdDev()

	zs = mat.NewDense(n, k, nil)
	eps = mat.NewDense(n, k, nil)
	for s := 0; s < n; s++ {
		for i := 0; i < k; i++ {
			e := std.Rand()
			eps.Set(s, i, e)
			zs.Set(s, i, q.Mu[i]+sigma[i]*e)
		}
	}
	return zs, eps
}

// LogProb returns log q(z).
func (q *MeanFieldNormal) LogProb(z []float64) float64 {
	var lp float64
	for i, sigma := range q.StdDev() {
		lp += distuv.Normal{Mu: q.Mu[i], Sigma: sigma}.LogProb(z[i])
	}
	return lp
}

// Entropy returns the differential entropy of q.
func (q *MeanFieldNormal) Entropy() float64 {
	var h float64
	for _, sigma := range q.StdDev() {
		h += distuv.Normal{Sigma: sigma}.Entropy()
	}
	return h
}

// Params returns the flattened parameter vector (Mu followed by Rho).
func (q *MeanFieldNormal) Params() []float64 {
	out := make([]float64, 0, 2*q.Dim())
	out = append(out, q.Mu...)
	return append(out, q.Rho...)
}

// SetParams overwrites Mu and Rho from a vector laid out like Params.
func (q *MeanFieldNormal) SetParams(p []float64) {
	k := q.Dim()
	copy(q.Mu, p[:k])
	copy(q.Rho, p[k:2*k])
}

// Softplus returns log(1 + exp(x)) without overflowing for large x.
func Softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

// Sigmoid is the derivative of Softplus.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// InverseSoftplus returns rho such that Softplus(rho) == sigma.
func InverseSoftplus(sigma float64) float64 {
	if sigma > 30 {
		return sigma
	}
	return math.Log(math.Expm1(sigma))
}
