package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with custom options", func() {
			m := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithLatencyBuckets([]float64{1, 10}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then its collectors should be registered under the namespace", func() {
				m.fitsSubmitted.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				var found bool
				for _, f := range families {
					if f.GetName() == "test_unit_fits_submitted_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "test")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When registering two managers on the same registry", func() {
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then the duplicate registration should panic", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics", t, func() {
		Convey("Fit lifecycle recorders should move their counters", func() {
			before := testutil.ToFloat64(globalManager.fitsCompleted)
			RecordFitSubmitted()
			RecordFitDuplicate()
			RecordFitCompleted(12.5)
			RecordFitFailed()
			AddFitsRunning(1)
			AddFitsRunning(-1)
			So(testutil.ToFloat64(globalManager.fitsCompleted), ShouldEqual, before+1)
			So(testutil.ToFloat64(globalManager.fitsRunning), ShouldEqual, 0)
		})

		Convey("Gauges should hold the last value", func() {
			UpdateInferenceLoss(-42.5)
			UpdateQueueSize(3)
			UpdateQueueCapacity(10)
			UpdateRepositoryFits(7)
			So(testutil.ToFloat64(globalManager.lastLoss), ShouldEqual, -42.5)
			So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 3)
			So(testutil.ToFloat64(globalManager.repositoryFits), ShouldEqual, 7)
		})

		Convey("Labelled recorders should not panic", func() {
			So(func() {
				RecordHTTPRequest("fits", "POST", "202")
				RecordHTTPRequestDuration("fits", "POST", "202", 1.5)
				RecordErrorByComponent("worker", "inference_error")
				RecordErrorByEndpoint("fits", "GET", "not_found")
				RecordInferenceIterationLatency(0.2)
				RecordInferenceDivergence()
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateQueueUtilization(0.3)
				UpdateWorkerCount(4)
				RecordWorkerProcessingLatency(100)
				RecordRepositoryWriteLatency(0.1)
				RecordRepositoryQueryLatency(0.1)
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.3)
			}, ShouldNotPanic)
		})

		Convey("The custom registry should be gatherable", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			So(len(families), ShouldBeGreaterThan, 0)
		})
	})
}
