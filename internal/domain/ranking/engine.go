package ranking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/stakerank/internal/adapters/lock"
	"github.com/okian/stakerank/internal/domain/leaderboard"
	"github.com/okian/stakerank/pkg/logger"
	"github.com/okian/stakerank/pkg/metrics"
)

const defaultTimeout = 10 * time.Second

// Ranker applies the policy to every entry of a type in one atomic step.
type Ranker interface {
	RecomputeRanks(ctx context.Context, t leaderboard.EntryType) (int, error)
}

// Result describes a completed recomputation.
type Result struct {
	Type     leaderboard.EntryType
	Ranked   int
	Duration time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout bounds a single recomputation, lock wait included.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger overrides the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine recomputes ranks for one type at a time. Recomputations of the same
// type are serialized through the locker; different types run independently.
type Engine struct {
	ranker  Ranker
	locker  lock.Locker
	timeout time.Duration
	log     logger.Logger
	now     func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(ranker Ranker, locker lock.Locker, opts ...Option) *Engine {
	e := &Engine{
		ranker:  ranker,
		locker:  locker,
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Named("ranking")
	}
	return e
}

// Recompute assigns fresh dense ranks to every entry of type t.
func (e *Engine) Recompute(ctx context.Context, t leaderboard.EntryType) (Result, error) {
	if !t.Valid() {
		return Result{}, fmt.Errorf("ranking.Recompute: unknown type %q", t)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := e.now()
	release, err := e.locker.Acquire(ctx, "rank:"+t.String())
	if err != nil {
		metrics.RecordRecomputeFailure(t.String())
		return Result{}, e.wrap(t, "acquire lock", err)
	}
	defer release()

	locked := e.now()
	metrics.RecordRecomputeLockWait(t.String(), float64(locked.Sub(start).Milliseconds()))

	ranked, err := e.ranker.RecomputeRanks(ctx, t)
	if err != nil {
		metrics.RecordRecomputeFailure(t.String())
		e.log.Error(ctx, "rank recomputation failed", logger.String("type", t.String()), logger.Error(err))
		return Result{}, e.wrap(t, "apply ranks", err)
	}

	finished := e.now()
	elapsed := finished.Sub(locked)
	metrics.RecordRecompute(t.String(), float64(elapsed.Milliseconds()), finished.Unix())
	metrics.UpdateEntries(t.String(), ranked)
	e.log.Debug(ctx, "ranks recomputed",
		logger.String("type", t.String()),
		logger.Int("ranked", ranked),
		logger.Duration("elapsed", elapsed))

	return Result{Type: t, Ranked: ranked, Duration: elapsed}, nil
}

func (e *Engine) wrap(t leaderboard.EntryType, step string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("ranking.Recompute(%s): %s: %w: %w", t, step, leaderboard.ErrTimeout, err)
	}
	return fmt.Errorf("ranking.Recompute(%s): %s: %w", t, step, err)
}
