package variational_test

import (
	"math"
	"testing"

	"github.com/okian/mfvi/internal/domain/dataset"
	"github.com/okian/mfvi/internal/domain/variational"
	. "github.com/smartystreets/goconvey/convey"
	"gonum.org/v1/gonum/stat"
)

func TestMeanFieldNormal(t *testing.T) {
	Convey("Given a two-dimensional family with known parameters", t, func() {
		q := &variational.MeanFieldNormal{
			Mu:  []float64{1.5, -2},
			Rho: []float64{variational.InverseSoftplus(0.5), variational.InverseSoftplus(2)},
		}

		Convey("Its standard deviations should invert the softplus", func() {
			sd := q.StdDev()
			So(sd[0], ShouldAlmostEqual, 0.5, 1e-12)
			So(sd[1], ShouldAlmostEqual, 2, 1e-12)
		})

		Convey("Its entropy should be the sum of Gaussian entropies", func() {
			want := 0.5*math.Log(2*math.Pi*math.E*0.25) + 0.5*math.Log(2*math.Pi*math.E*4)
			So(q.Entropy(), ShouldAlmostEqual, want, 1e-12)
		})

		Convey("Its log density at the mean should be the Gaussian peak", func() {
			want := -math.Log(2*math.Pi) - math.Log(0.5) - math.Log(2)
			So(q.LogProb([]float64{1.5, -2}), ShouldAlmostEqual, want, 1e-12)
		})

		Convey("Samples should be mu + sigma*eps and match the moments", func() {
			zs, eps := q.Sample(20000, dataset.NewSource(7))
			So(zs.At(3, 0), ShouldAlmostEqual, 1.5+0.5*eps.At(3, 0), 1e-12)

			col := make([]float64, 20000)
			for i := range col {
				col[i] = zs.At(i, 1)
			}
			So(stat.Mean(col, nil), ShouldAlmostEqual, -2, 0.1)
			So(stat.StdDev(col, nil), ShouldAlmostEqual, 2, 0.1)
		})

		Convey("Params should round-trip through SetParams", func() {
			p := q.Params()
			p[0] = 9
			q.SetParams(p)
			So(q.Mu[0], ShouldEqual, 9)
			So(q.Params(), ShouldResemble, p)
		})
	})

	Convey("Given a randomly initialised family", t, func() {
		a := variational.New(2, dataset.NewSource(42))
		b := variational.New(2, dataset.NewSource(42))

		Convey("The same seed should give the same starting point", func() {
			So(a.Params(), ShouldResemble, b.Params())
		})
	})
}

func TestSoftplus(t *testing.T) {
	Convey("Softplus should stay finite for large inputs", t, func() {
		So(variational.Softplus(1000), ShouldEqual, 1000)
		So(variational.Softplus(0), ShouldAlmostEqual, math.Ln2, 1e-12)
		So(variational.Sigmoid(0), ShouldEqual, 0.5)
	})
}
