package inference

import "math"

// Adam optimizer defaults.
const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

// adam minimises a flat parameter vector with bias-corrected moment estimates.
type adam struct {
	beta1   float64
	beta2   float64
	epsilon float64

	m []float64 // first moment
	v []float64 // second moment
	t int
}

func newAdam(n int) *adam {
	return &adam{
		beta1:   adamBeta1,
		beta2:   adamBeta2,
		epsilon: adamEpsilon,
		m:       make([]float64, n),
		v:       make([]float64, n),
	}
}

// step updates params in place along -grad.
func (a *adam) step(params, grad []float64, lr float64) {
	a.t++
	bias1 := 1 - math.Pow(a.beta1, float64(a.t))
	bias2 := 1 - math.Pow(a.beta2, float64(a.t))

	for i, g := range grad {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g

		mHat := a.m[i] / bias1
		vHat := a.v[i] / bias2
		params[i] -= lr * mHat / (math.Sqrt(vHat) + a.epsilon)
	}
}

// learningRate applies staircase exponential decay.
func learningRate(base float64, iter, decaySteps int, decayRate float64) float64 {
	if decaySteps <= 0 || decayRate <= 0 || decayRate == 1 {
		return base
	}
	return base * math.Pow(decayRate, float64(iter/decaySteps))
}
