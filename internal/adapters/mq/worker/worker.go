// Package worker runs background rank recomputations pulled from the queue.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/stakerank/internal/adapters/mq/queue"
	"github.com/okian/stakerank/internal/domain/leaderboard"
	"github.com/okian/stakerank/internal/domain/ranking"
	"github.com/okian/stakerank/pkg/logger"
	"github.com/okian/stakerank/pkg/metrics"
)

const (
	defaultWorkerCount  = 2
	poolShutdownTimeout = 30 * time.Second
)

// Recomputer recomputes the ranks of one type.
type Recomputer interface {
	Recompute(ctx context.Context, t leaderboard.EntryType) (ranking.Result, error)
}

// Queue defines how workers receive requests.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Request
}

// Pending releases a coalesced request key once a worker picks it up, so
// requests arriving during the recomputation schedule a fresh one.
type Pending interface {
	Unrecord(ctx context.Context, id string)
}

// ResultHook observes the outcome of every processed request.
type ResultHook func(r queue.Request, res ranking.Result, err error)

// Worker processes recompute requests until its context ends or the queue closes.
type Worker interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue      Queue
	recomputer Recomputer
	pending    Pending
	retry      RetryConfig
	hook       ResultHook
	name       string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, r Recomputer, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      q,
		recomputer: r,
		retry:      DefaultRetryConfig(),
		name:       "worker",
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	requests := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-requests:
			if !ok {
				return
			}
			if err := w.process(ctx, r); err != nil {
				w.logger.Error(ctx, "recompute request failed",
					logger.String("worker", w.name),
					logger.String("type", r.Type.String()),
					logger.String("reason", r.Reason),
					logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker, abandoning any in-flight retry wait.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out", logger.String("worker", w.name))
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, r queue.Request) error {
	if w.pending != nil {
		w.pending.Unrecord(ctx, r.DedupeKey())
	}

	var res ranking.Result
	err := withBackoff(ctx, w.retry, w.logger, "recompute "+r.Type.String(), func() error {
		var err error
		res, err = w.recomputer.Recompute(ctx, r.Type)
		if err != nil {
			return &leaderboard.RecomputeFailure{Types: []leaderboard.EntryType{r.Type}, Cause: err}
		}
		return nil
	})
	if err != nil {
		metrics.RecordErrorByType("recompute_error", "high")
	}
	if w.hook != nil {
		w.hook(r, res, err)
	}
	return err
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers sharing opts.
func NewPool(workerCount int, q Queue, r Recomputer, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(q, r, workerOpts...)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue and waits for every worker to stop.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for _, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	metrics.UpdateWorkerCount(0)
	return firstErr
}
