package dataset_test

import (
	"errors"
	"testing"

	"github.com/okian/mfvi/internal/domain/dataset"
	. "github.com/smartystreets/goconvey/convey"
)

func TestBuildToy(t *testing.T) {
	Convey("Given the default toy options", t, func() {
		opts := dataset.DefaultToyOptions()

		Convey("When building the toy dataset", func() {
			data, err := dataset.BuildToy(opts)
			So(err, ShouldBeNil)
			table := data.Table()

			Convey("Then it should hold n_data rows of (y, x)", func() {
				r, c := table.Dims()
				So(r, ShouldEqual, 40)
				So(c, ShouldEqual, 2)
			})

			Convey("And inputs should be two rescaled clusters", func() {
				So(table.At(0, 1), ShouldAlmostEqual, -1.0, 1e-12)
				So(table.At(19, 1), ShouldAlmostEqual, -0.5, 1e-12)
				So(table.At(20, 1), ShouldAlmostEqual, 0.5, 1e-12)
				So(table.At(39, 1), ShouldAlmostEqual, 1.0, 1e-12)
			})

			Convey("And outputs should follow the line within a few noise widths", func() {
				for i := 0; i < 40; i++ {
					x := table.At(i, 1)*4 + 4
					So(table.At(i, 0), ShouldAlmostEqual, 0.075*x, 0.5)
				}
			})

			Convey("And the same seed should reproduce the same table", func() {
				again, err := dataset.BuildToy(opts)
				So(err, ShouldBeNil)
				So(again.Points(), ShouldResemble, data.Points())
			})
		})

		Convey("When noise is disabled", func() {
			opts.NoiseStd = 0
			data, err := dataset.BuildToy(opts)
			So(err, ShouldBeNil)

			Convey("Then every output should lie exactly on the line", func() {
				for _, p := range data.Points() {
					So(p[0], ShouldAlmostEqual, 0.075*(p[1]*4+4), 1e-12)
				}
			})
		})

		Convey("When n_data is too small", func() {
			opts.NData = 2
			_, err := dataset.BuildToy(opts)

			Convey("Then it should be rejected", func() {
				So(errors.Is(err, dataset.ErrInvalidOptions), ShouldBeTrue)
			})
		})
	})
}

func TestData_Sample(t *testing.T) {
	Convey("Given a five-row table", t, func() {
		data, err := dataset.FromPoints([][2]float64{
			{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4},
		})
		So(err, ShouldBeNil)

		Convey("A non-positive size should return the whole table", func() {
			r, _ := data.Sample(0).Dims()
			So(r, ShouldEqual, 5)
		})

		Convey("Sequential minibatches should wrap around the end", func() {
			first := data.Sample(3)
			second := data.Sample(3)

			So(first.At(0, 0), ShouldEqual, 0)
			So(first.At(2, 0), ShouldEqual, 2)
			So(second.At(0, 0), ShouldEqual, 3)
			So(second.At(1, 0), ShouldEqual, 4)
			So(second.At(2, 0), ShouldEqual, 0)
		})
	})

	Convey("Given no points", t, func() {
		_, err := dataset.FromPoints(nil)
		So(errors.Is(err, dataset.ErrEmpty), ShouldBeTrue)
	})
}
