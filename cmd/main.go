package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/stakerank/internal/adapters/http/api"
	"github.com/okian/stakerank/internal/adapters/http/swagger"
	"github.com/okian/stakerank/internal/adapters/lock"
	workerpool "github.com/okian/stakerank/internal/adapters/mq/worker"
	"github.com/okian/stakerank/internal/adapters/repository"
	"github.com/okian/stakerank/internal/adapters/repository/migrations"
	app "github.com/okian/stakerank/internal/app"
	"github.com/okian/stakerank/internal/config"
	"github.com/okian/stakerank/internal/domain/auth"
	"github.com/okian/stakerank/pkg/logger"
	"github.com/okian/stakerank/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
	}

	metrics.GetRegistry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "stakerank exited", logger.Error(err))
		os.Exit(1)
	}
}

// run serves until ctx is cancelled, then drains HTTP and stops the service.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("store", cfg.StoreDriver),
			logger.String("lock", cfg.LockBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := a.svc.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "service stop failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// application is the fully wired process.
type application struct {
	svc     *app.Service
	handler http.Handler
	closers []func() error
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Get().Warn(context.Background(), "close failed", logger.Error(err))
		}
	}
}

// build wires store, lock, service and HTTP routes from cfg.
func build(ctx context.Context, cfg *config.Config) (*application, error) {
	a := &application{}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	locker, closeLocker, err := openLocker(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	if closeLocker != nil {
		a.closers = append(a.closers, closeLocker)
	}

	authz, err := auth.NewAuthorizer(cfg.SyncSecret)
	if err != nil {
		a.close()
		return nil, err
	}

	retry := workerpool.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RecomputeMaxAttempts
	retry.InitialDelay = cfg.RecomputeBackoff()

	a.svc = app.New(store, authz,
		app.WithLogger(logger.Named("service")),
		app.WithLocker(locker),
		app.WithStoreTimeout(cfg.StoreTimeout()),
		app.WithMaxBatchSize(cfg.MaxBatchSize),
		app.WithQueryLimits(cfg.DefaultPageLimit, cfg.MaxPageLimit),
		app.WithQueueSize(cfg.RecomputeQueueSize),
		app.WithWorkerCount(cfg.RecomputeWorkers),
		app.WithRetry(retry),
		app.WithReconcileSchedule(cfg.ReconcileCron),
	)

	mux := http.NewServeMux()
	swagger.Register(mux)
	apiServer := api.NewServer(a.svc,
		api.WithLogger(logger.Named("api")),
		api.WithWriteRateLimit(cfg.SyncRateLimit, cfg.SyncRateBurst),
		api.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)
	apiServer.Register(mux)
	a.handler = apiServer.Handler(mux)
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pg, err := repository.OpenPostgres(ctx, cfg.PostgresDSN,
			repository.WithMaxOpenConns(cfg.PostgresMaxConns),
			repository.WithQueryDebug(cfg.LogLevel == "debug"))
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			group, err := migrations.Up(ctx, pg.DB())
			if err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			if !group.IsZero() {
				logger.Get().Info(ctx, "applied migrations", logger.String("group", group.String()))
			}
		}
		return pg, nil
	default:
		return repository.NewMemoryStore(ctx), nil
	}
}

func openLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func() error, error) {
	if cfg.LockBackend != config.LockRedis {
		return lock.NewLocalLocker(), nil, nil
	}
	client, err := lock.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	return lock.NewRedisLocker(client, lock.WithTTL(cfg.LockTTL())), client.Close, nil
}
