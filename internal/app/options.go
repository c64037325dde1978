package service

import (
	"time"

	"github.com/okian/stakerank/internal/adapters/lock"
	workerpool "github.com/okian/stakerank/internal/adapters/mq/worker"
	"github.com/okian/stakerank/internal/domain/leaderboard"
	"github.com/okian/stakerank/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLocker sets the lock used to serialize same-type recomputations.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithStoreTimeout bounds every store interaction.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithMaxBatchSize caps the number of records accepted per sync.
func WithMaxBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// WithQueueSize sets the capacity of the background recompute queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of background recompute workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithRetry sets the retry policy for background recomputations.
func WithRetry(cfg workerpool.RetryConfig) Option {
	return func(s *Service) {
		s.retry = cfg
	}
}

// WithReconcileSchedule enables periodic recomputation of every type. The
// schedule uses cron syntax with a leading seconds field.
func WithReconcileSchedule(schedule string) Option {
	return func(s *Service) {
		s.reconcileSpec = schedule
	}
}

// WithQueryLimits sets the default and maximum page size.
func WithQueryLimits(defaultLimit, maxLimit int) Option {
	return func(s *Service) {
		s.limits = leaderboard.QueryLimits{DefaultLimit: defaultLimit, MaxLimit: maxLimit}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
