package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/mfvi/internal/config"
	"github.com/okian/mfvi/internal/domain/model"
	"github.com/okian/mfvi/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
}

func TestServiceEndToEnd(t *testing.T) {
	convey.Convey("Given the wired service and mux", t, func() {
		cfg := config.New()
		cfg.WorkerCount = 2
		cfg.NIter = 200

		svc := newService(cfg, logger.Get())
		convey.So(svc.Start(context.Background()), convey.ShouldBeNil)
		srv := httptest.NewServer(newMux(svc, cfg))
		convey.Reset(func() {
			srv.Close()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = svc.Stop(ctx)
		})

		convey.Convey("When a fit is submitted over HTTP", func() {
			resp, err := http.Post(srv.URL+"/fits", "application/json", strings.NewReader(`{"request_id":"e2e"}`))
			convey.So(err, convey.ShouldBeNil)
			var ack struct {
				ID string `json:"id"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&ack)
			_ = resp.Body.Close()

			var fit model.Fit
			deadline := time.Now().Add(10 * time.Second)
			for time.Now().Before(deadline) {
				r, err := http.Get(srv.URL + "/fits/" + ack.ID)
				if err == nil {
					_ = json.NewDecoder(r.Body).Decode(&fit)
					_ = r.Body.Close()
				}
				if fit.Status.Terminal() {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}

			convey.Convey("Then it should succeed with config defaults applied", func() {
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusAccepted)
				convey.So(fit.Status, convey.ShouldEqual, model.StatusSucceeded)
				convey.So(fit.Iterations, convey.ShouldEqual, 200)
				convey.So(fit.Request.Seed, convey.ShouldEqual, uint64(42))
			})

			convey.Convey("Then it should be ranked and predictable", func() {
				lb, err := http.Get(srv.URL + "/leaderboard?limit=5")
				convey.So(err, convey.ShouldBeNil)
				defer func() { _ = lb.Body.Close() }()
				convey.So(lb.StatusCode, convey.ShouldEqual, http.StatusOK)

				pr, err := http.Post(srv.URL+"/fits/"+ack.ID+"/predict", "application/json", strings.NewReader(`{"x":[0.5]}`))
				convey.So(err, convey.ShouldBeNil)
				defer func() { _ = pr.Body.Close() }()
				convey.So(pr.StatusCode, convey.ShouldEqual, http.StatusOK)
			})
		})

		convey.Convey("When the health and metrics endpoints are scraped", func() {
			health, err := http.Get(srv.URL + "/healthz")
			convey.So(err, convey.ShouldBeNil)
			_ = health.Body.Close()
			m, err := http.Get(srv.URL + "/metrics")
			convey.So(err, convey.ShouldBeNil)
			_ = m.Body.Close()

			convey.Convey("Then both should answer", func() {
				convey.So(health.StatusCode, convey.ShouldEqual, http.StatusOK)
				convey.So(m.StatusCode, convey.ShouldEqual, http.StatusOK)
			})
		})

		convey.Convey("When service metrics are mirrored", func() {
			convey.So(func() { updateServiceMetrics(context.Background(), svc) }, convey.ShouldNotPanic)
		})
	})
}
