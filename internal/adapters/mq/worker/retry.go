package worker

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/okian/stakerank/internal/domain/leaderboard"
	"github.com/okian/stakerank/pkg/logger"
	"github.com/okian/stakerank/pkg/metrics"
)

// RetryConfig defines how a failed recomputation is retried.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterEnabled bool
}

// DefaultRetryConfig returns production retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}

// withBackoff runs fn until it succeeds, attempts run out, the error is not
// retryable, or ctx is done.
func withBackoff(ctx context.Context, cfg RetryConfig, log logger.Logger, operation string, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				log.Info(ctx, "operation succeeded after retries",
					logger.String("operation", operation),
					logger.Int("attempts", attempt))
			}
			return nil
		}
		if !leaderboard.IsRetryable(lastErr) || attempt == attempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		metrics.RecordRecomputeRetry()
		log.Warn(ctx, "operation failed, retrying",
			logger.String("operation", operation),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", attempts),
			logger.Duration("retry_in", delay),
			logger.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s failed: %w", operation, lastErr)
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.JitterEnabled {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}
	return time.Duration(delay)
}
