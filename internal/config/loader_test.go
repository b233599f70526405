package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/mfvi/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.NIter, convey.ShouldEqual, 250)
				convey.So(cfg.NMinibatch, convey.ShouldEqual, 5)
				convey.So(cfg.LikVariance, convey.ShouldEqual, 0.01)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("MFVI_ADDR", ":8080")
			_ = os.Setenv("MFVI_N_ITER", "500")
			_ = os.Setenv("MFVI_PRIOR_VARIANCE", "0.5")
			_ = os.Setenv("MFVI_SEED", "7")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.NIter, convey.ShouldEqual, 500)
				convey.So(cfg.PriorVariance, convey.ShouldEqual, 0.5)
				convey.So(cfg.Seed, convey.ShouldEqual, uint64(7))
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := writeTempConfig(t, `
addr: ":9090"
n_minibatch: 10
db_path: "fits.db"
toy_n_data: 80
`)
			_ = os.Setenv("MFVI_CONFIG", path)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from the YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.NMinibatch, convey.ShouldEqual, 10)
				convey.So(cfg.DBPath, convey.ShouldEqual, "fits.db")
				convey.So(cfg.ToyNData, convey.ShouldEqual, 80)
			})
		})

		convey.Convey("When env vars and the YAML file disagree", func() {
			path := writeTempConfig(t, "n_iter: 300\n")
			_ = os.Setenv("MFVI_CONFIG", path)
			_ = os.Setenv("MFVI_N_ITER", "900")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then env vars should win", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.NIter, convey.ShouldEqual, 900)
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("MFVI_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a loaded value is invalid", func() {
			_ = os.Setenv("MFVI_LIK_VARIANCE", "-1")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then it should return an invalid config error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		for _, tc := range []struct{ key, value string }{
			{"MFVI_LEARNING_RATE", "-1"},
			{"MFVI_DECAY_RATE", "1.5"},
			{"MFVI_DECAY_STEPS", "-1"},
			{"MFVI_ESTIMATOR", "bogus"},
			{"MFVI_N_PRINT", "-1"},
			{"MFVI_N_DATA", "-1"},
			{"MFVI_TOY_N_DATA", "2"},
			{"MFVI_TOY_NOISE_STD", "-0.5"},
		} {
			convey.Convey("When "+tc.key+" is set to "+tc.value, func() {
				_ = os.Setenv(tc.key, tc.value)
				defer clearConfigEnvVars()

				_, err := config.Load(ctx)

				convey.Convey("Then the load should fail before any fit is accepted", func() {
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}
	})
}

func clearConfigEnvVars() {
	for _, key := range []string{
		"MFVI_CONFIG", "MFVI_ADDR", "MFVI_N_ITER", "MFVI_PRIOR_VARIANCE",
		"MFVI_SEED", "MFVI_LIK_VARIANCE", "MFVI_LEARNING_RATE", "MFVI_DECAY_RATE",
		"MFVI_DECAY_STEPS", "MFVI_ESTIMATOR", "MFVI_N_PRINT", "MFVI_N_DATA",
		"MFVI_TOY_N_DATA", "MFVI_TOY_NOISE_STD",
	} {
		_ = os.Unsetenv(key)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
