// Package service wires the store, rank engine and background recomputation
// into the operations served by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"

	"github.com/okian/stakerank/internal/adapters/lock"
	"github.com/okian/stakerank/internal/adapters/mq/queue"
	workerpool "github.com/okian/stakerank/internal/adapters/mq/worker"
	"github.com/okian/stakerank/internal/adapters/repository"
	"github.com/okian/stakerank/internal/domain/auth"
	"github.com/okian/stakerank/internal/domain/dedupe"
	"github.com/okian/stakerank/internal/domain/leaderboard"
	"github.com/okian/stakerank/internal/domain/ranking"
	"github.com/okian/stakerank/pkg/logger"
	"github.com/okian/stakerank/pkg/metrics"
)

// Default service configuration.
const (
	defaultStoreTimeout = 5 * time.Second
	defaultMaxBatchSize = 1000
	defaultQueueSize    = 64
	defaultWorkerCount  = 2
	reconcileRunTimeout = 25 * time.Second
)

// Service implements the API dependencies for the leaderboard system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	authz    *auth.Authorizer
	locker   lock.Locker
	engine   *ranking.Engine
	pending  dedupe.Deduper
	requests queue.Queue
	workers  *workerpool.Pool
	fanout   pond.Pool
	cron     *cron.Cron

	// Configuration
	storeTimeout  time.Duration
	maxBatchSize  int
	queueSize     int
	workerCount   int
	retry         workerpool.RetryConfig
	reconcileSpec string
	limits        leaderboard.QueryLimits

	// State
	started        bool
	cancel         context.CancelFunc
	lastSyncUnix   atomic.Int64
	syncedBatches  atomic.Int64
	mergedRecords  atomic.Int64
	bgRecomputes   atomic.Int64
	bgFailures     atomic.Int64
	lastRecomputes sync.Map // leaderboard.EntryType -> time.Time

	now    func() time.Time
	logger logger.Logger
}

// SyncResult is returned by a successful Sync.
type SyncResult struct {
	Updated    int                     `json:"updated"`
	Recomputed []leaderboard.EntryType `json:"recomputed"`
}

// New constructs a Service over store. Writes are authorized by authz.
func New(store repository.Store, authz *auth.Authorizer, opts ...Option) *Service {
	s := &Service{
		store:        store,
		authz:        authz,
		locker:       lock.NewLocalLocker(),
		storeTimeout: defaultStoreTimeout,
		maxBatchSize: defaultMaxBatchSize,
		queueSize:    defaultQueueSize,
		workerCount:  defaultWorkerCount,
		retry:        workerpool.DefaultRetryConfig(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}

	s.engine = ranking.NewEngine(store, s.locker,
		ranking.WithTimeout(s.storeTimeout),
		ranking.WithLogger(s.logger.Named("ranking")),
	)
	s.pending = dedupe.NewInMemoryDeduper(dedupe.WithClock(s.now))
	s.fanout = pond.NewPool(len(leaderboard.Types))
	return s
}

// Start launches the background recompute workers and, if configured, the
// reconciliation schedule.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting leaderboard service...")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.requests = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.workers = workerpool.NewPool(s.workerCount, s.requests, s.engine,
		workerpool.WithRetry(s.retry),
		workerpool.WithPending(s.pending),
		workerpool.WithLogger(s.logger.Named("worker")),
		workerpool.WithResultHook(s.observeBackground),
	)
	s.workers.Start(runCtx)

	if s.reconcileSpec != "" {
		c, err := s.setupScheduler(runCtx, s.reconcileSpec)
		if err != nil {
			cancel()
			_ = s.workers.Shutdown(ctx)
			return fmt.Errorf("service.Start: reconcile schedule %q: %w", s.reconcileSpec, err)
		}
		s.cron = c
		s.cron.Start()
	}

	s.cancel = cancel
	s.started = true
	s.logger.Info(ctx, "leaderboard service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.String("reconcile", s.reconcileSpec),
	)
	return nil
}

// Stop gracefully shuts down background work. The store is left open; its
// owner closes it.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping leaderboard service...")

	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
	err := s.workers.Shutdown(ctx)
	s.cancel()

	s.started = false
	s.logger.Info(ctx, "leaderboard service stopped")
	return err
}

// Health reports whether the store is reachable.
func (s *Service) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		return &leaderboard.InternalFailure{Op: "service.Health", Cause: timeoutCause(err)}
	}
	return nil
}

// Stats is a point-in-time view of the service.
type Stats struct {
	Started         bool                                `json:"started"`
	Entries         map[leaderboard.EntryType]int       `json:"entries"`
	QueueLength     int                                 `json:"queueLength"`
	PendingRequests int64                               `json:"pendingRecomputes"`
	PendingSince    map[leaderboard.EntryType]time.Time `json:"pendingSince,omitempty"`
	WorkerCount     int                                 `json:"workerCount"`
	SyncedBatches   int64                               `json:"syncedBatches"`
	MergedRecords   int64                               `json:"mergedRecords"`
	LastSync        *time.Time                          `json:"lastSync,omitempty"`
	LastRecompute   map[leaderboard.EntryType]time.Time `json:"lastRecompute"`
	BackgroundRuns  int64                               `json:"backgroundRecomputes"`
	BackgroundFails int64                               `json:"backgroundFailures"`
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	started, requests, workers := s.started, s.requests, s.workers
	s.mu.RUnlock()

	st := Stats{
		Started:         started,
		Entries:         make(map[leaderboard.EntryType]int, len(leaderboard.Types)),
		PendingRequests: s.pending.Size(),
		PendingSince:    make(map[leaderboard.EntryType]time.Time),
		SyncedBatches:   s.syncedBatches.Load(),
		MergedRecords:   s.mergedRecords.Load(),
		LastRecompute:   make(map[leaderboard.EntryType]time.Time),
		BackgroundRuns:  s.bgRecomputes.Load(),
		BackgroundFails: s.bgFailures.Load(),
	}
	if started {
		st.QueueLength = requests.Len(ctx)
		st.WorkerCount = workers.Size()
	}
	for _, t := range leaderboard.Types {
		if at, ok := s.pending.PendingSince(queue.Request{Type: t}.DedupeKey()); ok {
			st.PendingSince[t] = at.UTC()
		}
	}
	if unix := s.lastSyncUnix.Load(); unix > 0 {
		t := time.Unix(unix, 0).UTC()
		st.LastSync = &t
	}
	s.lastRecomputes.Range(func(k, v any) bool {
		st.LastRecompute[k.(leaderboard.EntryType)] = v.(time.Time)
		return true
	})

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	for _, t := range leaderboard.Types {
		n, err := s.store.Count(ctx, leaderboard.Filter{Type: t})
		if err != nil {
			return Stats{}, &leaderboard.InternalFailure{Op: "service.GetStats", Cause: timeoutCause(err)}
		}
		st.Entries[t] = n
		metrics.UpdateEntries(t.String(), n)
	}
	return st, nil
}

// scheduleRecompute queues a background recomputation of t unless one is
// already pending. Returns false if the request could not be queued.
func (s *Service) scheduleRecompute(ctx context.Context, t leaderboard.EntryType, reason string) bool {
	s.mu.RLock()
	requests := s.requests
	s.mu.RUnlock()
	if requests == nil {
		return false
	}

	r := queue.Request{Type: t, Reason: reason, RequestedAt: s.now()}
	if s.pending.SeenAndRecord(ctx, r.DedupeKey()) {
		metrics.RecordRecomputeCoalesced()
		return true
	}
	if !requests.Enqueue(context.WithoutCancel(ctx), r) {
		s.pending.Unrecord(ctx, r.DedupeKey())
		s.logger.Warn(ctx, "failed to schedule background recompute",
			logger.String("type", t.String()), logger.String("reason", reason))
		return false
	}
	return true
}

func (s *Service) observeBackground(r queue.Request, res ranking.Result, err error) {
	s.bgRecomputes.Add(1)
	if err != nil {
		s.bgFailures.Add(1)
		return
	}
	s.lastRecomputes.Store(res.Type, s.now().UTC())
	s.logger.Info(context.Background(), "background recompute finished",
		logger.String("type", r.Type.String()),
		logger.String("reason", r.Reason),
		logger.Int("ranked", res.Ranked))
}

// setupScheduler enqueues a recompute of every type on each tick.
func (s *Service) setupScheduler(ctx context.Context, schedule string) (*cron.Cron, error) {
	cl := cronLogger{log: s.logger.Named("cron")}
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cl)))
	_, err := c.AddFunc(schedule, func() {
		rctx, cancel := context.WithTimeout(ctx, reconcileRunTimeout)
		defer cancel()
		s.Reconcile(rctx)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Reconcile schedules a recomputation of every type. It bounds how long ranks
// can stay stale after a merge whose recomputation never ran.
func (s *Service) Reconcile(ctx context.Context) {
	for _, t := range leaderboard.Types {
		s.scheduleRecompute(ctx, t, "reconcile")
	}
}

// timeoutCause tags deadline errors with leaderboard.ErrTimeout.
func timeoutCause(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, leaderboard.ErrTimeout) {
		return fmt.Errorf("%w: %w", leaderboard.ErrTimeout, err)
	}
	return err
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(context.Background(), msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(context.Background(), msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
