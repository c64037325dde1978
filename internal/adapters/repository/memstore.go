package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/stakerank/internal/domain/leaderboard"
	"github.com/okian/stakerank/internal/domain/ranking"
	"github.com/okian/stakerank/pkg/metrics"
)

// view is an immutable, read-ordered copy of the table. A new view is
// published after every successful mutation so readers never observe a
// half-applied batch or recomputation.
type view struct {
	all    []leaderboard.Entry
	byType map[leaderboard.EntryType][]leaderboard.Entry
}

func (v *view) slice(f leaderboard.Filter) []leaderboard.Entry {
	if f.All() {
		return v.all
	}
	return v.byType[f.Type]
}

// MemoryStore is an in-process Store. Writes take an exclusive lock and
// publish a fresh view; reads work on the last published view.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[leaderboard.Key]leaderboard.Entry
	closed  bool

	current atomic.Pointer[view]

	metricsUpdateInterval time.Duration
	wg                    sync.WaitGroup
	stopChan              chan struct{}
	stopOnce              sync.Once
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		entries:               make(map[leaderboard.Key]leaderboard.Entry),
		metricsUpdateInterval: 5 * time.Second,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(&view{byType: map[leaderboard.EntryType][]leaderboard.Entry{}})
	s.startMetricsUpdater(ctx)
	return s
}

// Upsert implements Store.Upsert.
func (s *MemoryStore) Upsert(ctx context.Context, records []leaderboard.StatRecord, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	// Nothing has been written yet; a cancelled caller gets all-or-nothing.
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, r := range records {
		if !r.Type.Valid() {
			return 0, fmt.Errorf("%w: %q", ErrUnknownType, r.Type)
		}
	}

	for _, r := range records {
		key := r.Key()
		next := r.Entry(at)
		next.MemberCount = cloneInt64(r.MemberCount)
		next.TwitterHandle = cloneString(r.TwitterHandle)
		if prev, ok := s.entries[key]; ok {
			next.Rank = prev.Rank
		}
		s.entries[key] = next
	}
	s.publish()
	return len(records), nil
}

// RecomputeRanks implements Store.RecomputeRanks.
func (s *MemoryStore) RecomputeRanks(ctx context.Context, t leaderboard.EntryType) (int, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var keys []ranking.RankKey
	for k, e := range s.entries {
		if k.Type == t {
			keys = append(keys, ranking.RankKey{Pubkey: e.Pubkey, TotalStaked: e.TotalStaked})
		}
	}
	for _, a := range ranking.Assign(keys) {
		k := leaderboard.Key{Type: t, Pubkey: a.Pubkey}
		e := s.entries[k]
		e.Rank = a.Rank
		s.entries[k] = e
	}
	s.publish()
	return len(keys), nil
}

// Page implements Store.Page. The slice and the total are read from one
// published view.
func (s *MemoryStore) Page(ctx context.Context, q leaderboard.Query) ([]leaderboard.Entry, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if !validPage(q) {
		return nil, 0, ErrInvalidQuery
	}
	rows := s.current.Load().slice(q.Filter)
	total := len(rows)
	if q.Offset >= total {
		return []leaderboard.Entry{}, total, nil
	}
	end := total
	if q.Limit < total-q.Offset {
		end = q.Offset + q.Limit
	}
	out := make([]leaderboard.Entry, end-q.Offset)
	copy(out, rows[q.Offset:end])
	return out, total, nil
}

// Count implements Store.Count.
func (s *MemoryStore) Count(ctx context.Context, f leaderboard.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(s.current.Load().slice(f)), nil
}

// Get implements Store.Get.
func (s *MemoryStore) Get(ctx context.Context, key leaderboard.Key) (leaderboard.Entry, error) {
	if err := ctx.Err(); err != nil {
		return leaderboard.Entry{}, err
	}
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return leaderboard.Entry{}, leaderboard.ErrNotFound
	}
	return e, nil
}

// Ping implements Store.Ping.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

// Close stops the background metrics updater. Further writes fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stopChan)
	})
	s.wg.Wait()
	return nil
}

// publish rebuilds the read view. Caller must hold the write lock.
func (s *MemoryStore) publish() {
	all := make([]leaderboard.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return readLess(all[i], all[j]) })

	byType := make(map[leaderboard.EntryType][]leaderboard.Entry, len(leaderboard.Types))
	for _, e := range all {
		byType[e.Type] = append(byType[e.Type], e)
	}
	s.current.Store(&view{all: all, byType: byType})
}

func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics()
			}
		}
	}()
}

func (s *MemoryStore) updateMetrics() {
	v := s.current.Load()
	for _, t := range leaderboard.Types {
		metrics.UpdateEntries(t.String(), len(v.byType[t]))
	}
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
