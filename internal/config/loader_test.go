package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/stakerank/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading with defaults and only the secret set", func() {
			_ = os.Setenv("STAKERANK_SYNC_SECRET", "s")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.SyncSecret, convey.ShouldEqual, "s")
				convey.So(cfg.RecomputeWorkers, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When the secret is missing", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("STAKERANK_SYNC_SECRET", "s")
			_ = os.Setenv("STAKERANK_ADDR", ":8080")
			_ = os.Setenv("STAKERANK_RECOMPUTE_WORKERS", "4")
			_ = os.Setenv("STAKERANK_SYNC_RATE_LIMIT", "2.5")
			_ = os.Setenv("STAKERANK_STORE_DRIVER", "postgres")
			_ = os.Setenv("STAKERANK_POSTGRES_DSN", "postgres://u:p@db/stakerank")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.RecomputeWorkers, convey.ShouldEqual, 4)
				convey.So(cfg.SyncRateLimit, convey.ShouldEqual, 2.5)
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StorePostgres)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
sync_secret: from-file
max_batch_size: 500
lock_backend: redis
redis_addr: "redis:6379"
reconcile_cron: "*/30 * * * * *"
`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("STAKERANK_CONFIG", tmpFile)
			_ = os.Setenv("STAKERANK_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.SyncSecret, convey.ShouldEqual, "from-file")
				convey.So(cfg.MaxBatchSize, convey.ShouldEqual, 500)
				convey.So(cfg.LockBackend, convey.ShouldEqual, config.LockRedis)
				convey.So(cfg.ReconcileCron, convey.ShouldEqual, "*/30 * * * * *")
				convey.So(cfg.MaxPageLimit, convey.ShouldEqual, 100)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("STAKERANK_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("STAKERANK_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("STAKERANK_SYNC_SECRET", "s")
			_ = os.Setenv("STAKERANK_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("STAKERANK_SYNC_SECRET", "s")
			_ = os.Setenv("STAKERANK_MAX_BATCH_SIZE", "lots")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"STAKERANK_CONFIG",
		"STAKERANK_ADDR",
		"STAKERANK_SYNC_SECRET",
		"STAKERANK_RECOMPUTE_WORKERS",
		"STAKERANK_SYNC_RATE_LIMIT",
		"STAKERANK_STORE_DRIVER",
		"STAKERANK_POSTGRES_DSN",
		"STAKERANK_MAX_BATCH_SIZE",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "stakerank-config-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	if err := tmpFile.Close(); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
