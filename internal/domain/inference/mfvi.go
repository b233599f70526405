// Package inference fits a mean-field Normal approximation to the posterior
// of a model by stochastic maximisation of the evidence lower bound (ELBO).
package inference

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/mfvi/internal/domain/dataset"
	"github.com/okian/mfvi/internal/domain/variational"
	"github.com/okian/mfvi/pkg/logger"
	"github.com/okian/mfvi/pkg/metrics"

	"gonum.org/v1/gonum/mat"
)

// Model evaluates log p(xs, z) for every row z of zs.
type Model interface {
	NumVars() int
	LogProb(xs, zs mat.Matrix) []float64
}

// Differentiable models expose the gradient of log p(xs, z) in z.
type Differentiable interface {
	Gradient(xs mat.Matrix, z []float64) []float64
}

// Scalable models accept a factor on the likelihood, used to keep minibatch
// estimates unbiased for the full data set.
type Scalable interface {
	SetLikelihoodScale(s float64)
}

// Data hands out minibatches of observations.
type Data interface {
	Len() int
	Sample(n int) mat.Matrix
}

// Progress is a reported checkpoint of a run.
type Progress struct {
	Iter         int           `json:"iter"`
	Loss         float64       `json:"loss"`
	Mean         []float64     `json:"mean"`
	StdDev       []float64     `json:"std_dev"`
	LearningRate float64       `json:"learning_rate"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// Result summarises a finished run.
type Result struct {
	Posterior  Posterior     `json:"posterior"`
	Trace      []Progress    `json:"trace"`
	FinalLoss  float64       `json:"final_loss"`
	FinalELBO  float64       `json:"final_elbo"`
	Iterations int           `json:"iterations"`
	Estimator  Estimator     `json:"estimator"`
	Duration   time.Duration `json:"duration_ns"`
}

// MFVI runs mean-field variational inference for one model, family and data set.
type MFVI struct {
	model Model
	q     *variational.MeanFieldNormal
	data  Data

	logger logger.Logger
}

// New wires a model, a variational family and a data source.
func New(model Model, q *variational.MeanFieldNormal, data Data, opts ...Option) *MFVI {
	v := &MFVI{
		model: model,
		q:     q,
		data:  data,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = logger.Get().Named("mfvi")
	}
	return v
}

// Variational returns the family being fitted.
func (v *MFVI) Variational() *variational.MeanFieldNormal { return v.q }

// Run optimises the variational parameters for o.NIter steps.
func (v *MFVI) Run(ctx context.Context, o Options) (Result, error) {
	if o.LearningRate == 0 {
		o.LearningRate = DefaultLearningRate
	}
	if o.Estimator == "" {
		o.Estimator = EstimatorReparam
	}
	if o.NPrint <= 0 {
		o.NPrint = o.NIter
	}
	if err := o.Validate(); err != nil {
		return Result{}, err
	}
	if v.q.Dim() != v.model.NumVars() {
		return Result{}, fmt.Errorf("%w: family has %d, model has %d", ErrDimension, v.q.Dim(), v.model.NumVars())
	}

	grad, differentiable := v.model.(Differentiable)
	if o.Estimator == EstimatorReparam && !differentiable {
		v.logger.Warn(ctx, "model has no gradient; falling back to score-function estimator")
		o.Estimator = EstimatorScore
	}

	if s, ok := v.model.(Scalable); ok {
		scale := 1.0
		if n := v.data.Len(); o.NData > 0 && o.NData < n {
			scale = float64(n) / float64(o.NData)
		}
		s.SetLikelihoodScale(scale)
		defer s.SetLikelihoodScale(1)
	}

	src := dataset.NewSource(o.Seed)
	opt := newAdam(len(v.q.Params()))
	start := time.Now()

	res := Result{Estimator: o.Estimator}
	for iter := 1; iter <= o.NIter; iter++ {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("inference cancelled at iter %d: %w", iter, err)
		}

		stepStart := time.Now()
		xs := v.data.Sample(o.NData)
		zs, eps := v.q.Sample(o.NMinibatch, src)
		logp := v.model.LogProb(xs, zs)

		var elbo float64
		var g []float64
		if o.Estimator == EstimatorReparam {
			elbo, g = v.reparamGradient(xs, zs, eps, logp, grad)
		} else {
			elbo, g = v.scoreGradient(zs, logp)
		}
		loss := -elbo
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			metrics.RecordInferenceDivergence()
			return res, fmt.Errorf("%w at iter %d", ErrDiverged, iter)
		}

		// Adam minimises the loss, so feed it -grad(ELBO).
		for i := range g {
			g[i] = -g[i]
		}
		lr := learningRate(o.LearningRate, iter-1, o.DecaySteps, o.DecayRate)
		params := v.q.Params()
		opt.step(params, g, lr)
		v.q.SetParams(params)

		metrics.RecordInferenceIterationLatency(float64(time.Since(stepStart).Microseconds()) / 1000)

		res.Iterations = iter
		res.FinalLoss = loss
		res.FinalELBO = elbo

		if iter%o.NPrint == 0 || iter == o.NIter {
			p := Progress{
				Iter:         iter,
				Loss:         loss,
				Mean:         v.q.Mean(),
				StdDev:       v.q.StdDev(),
				LearningRate: lr,
				Elapsed:      time.Since(start),
			}
			res.Trace = append(res.Trace, p)
			v.logger.Info(ctx, "mfvi progress",
				logger.Int("iter", iter),
				logger.Float64("loss", loss),
				logger.Any("mean", p.Mean),
				logger.Any("std_dev", p.StdDev),
			)
			metrics.UpdateInferenceLoss(loss)
			if o.Progress != nil {
				o.Progress(p)
			}
		}
	}

	res.Posterior = Posterior{Mean: v.q.Mean(), StdDev: v.q.StdDev()}
	res.Duration = time.Since(start)
	return res, nil
}

// reparamGradient estimates the ELBO and its gradient with respect to
// (mu, rho) through z = mu + softplus(rho)*eps.
func (v *MFVI) reparamGradient(xs mat.Matrix, zs, eps *mat.Dense, logp []float64, model Differentiable) (float64, []float64) {
	k := v.q.Dim()
	s := len(logp)
	sigma := v.q.StdDev()
	g := make([]float64, 2*k)

	var mean float64
	for j := 0; j < s; j++ {
		mean += logp[j]
		dz := model.Gradient(xs, zs.RawRowView(j))
		for i := 0; i < k; i++ {
			g[i] += dz[i]
			g[k+i] += dz[i] * eps.At(j, i)
		}
	}
	inv := 1 / float64(s)
	for i := 0; i < k; i++ {
		dSigma := variational.Sigmoid(v.q.Rho[i])
		g[i] *= inv
		// d/drho of E[log p] plus d/drho of the entropy term log(sigma).
		g[k+i] = g[k+i]*inv*dSigma + dSigma/sigma[i]
	}
	return mean*inv + v.q.Entropy(), g
}

// scoreGradient estimates the ELBO and its gradient with the score-function
// identity, using a leave-one-out baseline when more than one sample is drawn.
func (v *MFVI) scoreGradient(zs *mat.Dense, logp []float64) (float64, []float64) {
	k := v.q.Dim()
	s := len(logp)
	sigma := v.q.StdDev()

	f := make([]float64, s)
	var sum float64
	for j := 0; j < s; j++ {
		f[j] = logp[j] - v.q.LogProb(zs.RawRowView(j))
		sum += f[j]
	}

	g := make([]float64, 2*k)
	for j := 0; j < s; j++ {
		weight := f[j]
		if s > 1 {
			weight -= (sum - f[j]) / float64(s-1)
		}
		for i := 0; i < k; i++ {
			d := zs.At(j, i) - v.q.Mu[i]
			sd := sigma[i]
			g[i] += weight * d / (sd * sd)
			g[k+i] += weight * (d*d/(sd*sd*sd) - 1/sd) * variational.Sigmoid(v.q.Rho[i])
		}
	}
	inv := 1 / float64(s)
	for i := range g {
		g[i] *= inv
	}
	return sum * inv, g
}
