package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/okian/stakerank/internal/syncload"
	"github.com/okian/stakerank/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "sync-load",
		Usage: "push generated stake data to stakerank and verify the leaderboard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:9080", Usage: "base URL of the service"},
			&cli.StringFlag{Name: "secret", EnvVars: []string{"STAKERANK_SYNC_SECRET"}, Usage: "sync bearer credential"},
			&cli.IntFlag{Name: "squads", Value: 500, Usage: "number of squads"},
			&cli.IntFlag{Name: "members", Value: 10_000, Usage: "number of members"},
			&cli.IntFlag{Name: "batch", Value: 500, Usage: "records per sync request"},
			&cli.IntFlag{Name: "workers", Value: runtime.NumCPU(), Usage: "concurrent sync requests"},
			&cli.IntFlag{Name: "rounds", Value: 3, Usage: "times every record is re-synced"},
			&cli.Int64Flag{Name: "seed", Usage: "generator seed (0 uses the clock)"},
			&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second, Usage: "HTTP request timeout"},
			&cli.BoolFlag{Name: "verbose", Usage: "log every batch"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("verbose") {
				logger.SetLevelString("debug") //nolint:errcheck
			}
			_, err := syncload.Run(c.Context, &syncload.Config{
				BaseURL:   c.String("url"),
				Secret:    c.String("secret"),
				Squads:    c.Int("squads"),
				Members:   c.Int("members"),
				BatchSize: c.Int("batch"),
				Workers:   c.Int("workers"),
				Rounds:    c.Int("rounds"),
				Seed:      c.Int64("seed"),
				Timeout:   c.Duration("timeout"),
				Verbose:   c.Bool("verbose"),
			})
			return err
		},
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Get().Error(ctx, "sync load failed", logger.Error(err))
		os.Exit(1)
	}
}
