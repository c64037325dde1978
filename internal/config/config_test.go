package config_test

import (
	"errors"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/stakerank/internal/config"
)

func validConfig() *config.Config {
	cfg := config.New()
	cfg.SyncSecret = "secret"
	return cfg
}

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.LockBackend, convey.ShouldEqual, config.LockLocal)
			convey.So(cfg.DefaultPageLimit, convey.ShouldEqual, 50)
			convey.So(cfg.MaxPageLimit, convey.ShouldEqual, 100)
			convey.So(cfg.StoreTimeout().Seconds(), convey.ShouldEqual, 5)
		})

		convey.Convey("Then it is only missing the secret", func() {
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "sync_secret")
			convey.So(validConfig().Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given an otherwise valid config", t, func() {
		cfg := validConfig()

		convey.Convey("Postgres requires a DSN", func() {
			cfg.StoreDriver = config.StorePostgres
			convey.So(cfg.Validate().Error(), convey.ShouldContainSubstring, "postgres_dsn")
			cfg.PostgresDSN = "postgres://u:p@localhost/db"
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Unknown drivers and backends are rejected", func() {
			cfg.StoreDriver = "sqlite"
			cfg.LockBackend = "zookeeper"
			err := cfg.Validate()
			convey.So(err.Error(), convey.ShouldContainSubstring, "store_driver")
			convey.So(err.Error(), convey.ShouldContainSubstring, "lock_backend")
		})

		convey.Convey("Page limits must be consistent", func() {
			cfg.DefaultPageLimit = 200
			convey.So(cfg.Validate().Error(), convey.ShouldContainSubstring, "default_page_limit")
		})

		convey.Convey("The page limit cannot be raised above 100", func() {
			cfg.MaxPageLimit = 500
			convey.So(cfg.Validate().Error(), convey.ShouldContainSubstring, "max_page_limit must be between 1 and 100")
			cfg.MaxPageLimit = 100
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("The reconcile schedule must parse", func() {
			cfg.ReconcileCron = "every five minutes"
			convey.So(cfg.Validate().Error(), convey.ShouldContainSubstring, "reconcile_cron")
			cfg.ReconcileCron = ""
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Log level must be known", func() {
			cfg.LogLevel = "verbose"
			convey.So(cfg.Validate().Error(), convey.ShouldContainSubstring, "log_level")
		})
	})
}
