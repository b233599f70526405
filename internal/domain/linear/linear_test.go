package linear_test

import (
	"errors"
	"math"
	"testing"

	"github.com/okian/mfvi/internal/domain/linear"
	. "github.com/smartystreets/goconvey/convey"
	"gonum.org/v1/gonum/mat"
)

func gaussLogPdf(x, mu, variance float64) float64 {
	d := x - mu
	return -0.5*math.Log(2*math.Pi*variance) - d*d/(2*variance)
}

func closedForm(lik, prior float64, xs *mat.Dense, w, b float64) float64 {
	n, _ := xs.Dims()
	var total float64
	for i := 0; i < n; i++ {
		total += gaussLogPdf(xs.At(i, 0), xs.At(i, 1)*w+b, lik)
	}
	return total + gaussLogPdf(w, 0, prior) + gaussLogPdf(b, 0, prior)
}

func TestModel_LogProb(t *testing.T) {
	Convey("Given a linear model and a small data table", t, func() {
		m := linear.New(linear.WithLikVariance(0.04), linear.WithPriorVariance(0.5))
		xs := mat.NewDense(3, 2, []float64{
			0.1, -1.0,
			0.3, 0.0,
			0.55, 1.0,
		})
		zs := mat.NewDense(3, 2, []float64{
			0.2, 0.3,
			0.0, 0.0,
			-1.5, 2.0,
		})

		Convey("When evaluating the log joint for every sample", func() {
			got := m.LogProb(xs, zs)

			Convey("Then each value should match the closed-form Gaussian expression", func() {
				So(len(got), ShouldEqual, 3)
				for j := 0; j < 3; j++ {
					want := closedForm(0.04, 0.5, xs, zs.At(j, 0), zs.At(j, 1))
					So(got[j], ShouldAlmostEqual, want, 1e-9)
				}
			})

			Convey("And the sample closest to the data should score highest", func() {
				So(got[0], ShouldBeGreaterThan, got[1])
				So(got[1], ShouldBeGreaterThan, got[2])
			})
		})

		Convey("When the likelihood is scaled", func() {
			base := m.LogProb(xs, zs)
			m.SetLikelihoodScale(2)
			scaled := m.LogProb(xs, zs)

			Convey("Then only the likelihood term should double", func() {
				prior := gaussLogPdf(0.2, 0, 0.5) + gaussLogPdf(0.3, 0, 0.5)
				So(scaled[0]-prior, ShouldAlmostEqual, 2*(base[0]-prior), 1e-9)
			})
		})
	})
}

func TestModel_Gradient(t *testing.T) {
	Convey("Given a linear model with default variances", t, func() {
		m := linear.New()
		xs := mat.NewDense(4, 2, []float64{
			0.2, -0.5,
			0.25, -0.25,
			0.35, 0.25,
			0.4, 0.5,
		})
		z := []float64{0.1, 0.2}

		Convey("The analytic gradient should match central finite differences", func() {
			grad := m.Gradient(xs, z)
			const h = 1e-6
			for k := 0; k < 2; k++ {
				plus := append([]float64(nil), z...)
				minus := append([]float64(nil), z...)
				plus[k] += h
				minus[k] -= h
				fp := m.LogProb(xs, mat.NewDense(1, 2, plus))[0]
				fm := m.LogProb(xs, mat.NewDense(1, 2, minus))[0]
				So(grad[k], ShouldAlmostEqual, (fp-fm)/(2*h), 1e-3)
			}
		})
	})
}

func TestModel_ExactPosterior(t *testing.T) {
	Convey("Given noiseless data on the line y = 0.5x + 0.25", t, func() {
		rows := make([]float64, 0, 40)
		for i := 0; i < 20; i++ {
			x := -1 + float64(i)/10
			rows = append(rows, 0.5*x+0.25, x)
		}
		xs := mat.NewDense(20, 2, rows)

		Convey("With a weak prior the posterior mean should recover the line", func() {
			m := linear.New(linear.WithLikVariance(0.01), linear.WithPriorVariance(100))
			mean, cov, err := m.ExactPosterior(xs)
			So(err, ShouldBeNil)
			So(mean[0], ShouldAlmostEqual, 0.5, 1e-3)
			So(mean[1], ShouldAlmostEqual, 0.25, 1e-3)
			So(cov.At(0, 0), ShouldBeGreaterThan, 0)
			So(cov.At(1, 1), ShouldBeGreaterThan, 0)
		})

		Convey("The gradient should vanish at the exact posterior mean", func() {
			m := linear.New()
			mean, _, err := m.ExactPosterior(xs)
			So(err, ShouldBeNil)
			grad := m.Gradient(xs, mean)
			So(grad[0], ShouldAlmostEqual, 0, 1e-6)
			So(grad[1], ShouldAlmostEqual, 0, 1e-6)
		})
	})

	Convey("Given a model with an invalid variance", t, func() {
		m := &linear.Model{LikVariance: 0, PriorVariance: 1}
		_, _, err := m.ExactPosterior(mat.NewDense(1, 2, []float64{1, 1}))
		So(errors.Is(err, linear.ErrInvalidVariance), ShouldBeTrue)
	})
}
