package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"

	"github.com/okian/stakerank/internal/domain/leaderboard"
	"github.com/okian/stakerank/pkg/logger"
	"github.com/okian/stakerank/pkg/metrics"
)

var errNotRun = errors.New("recomputation did not run")

// Sync authorizes, validates and merges a batch of stat records, then
// recomputes ranks for every type the batch touched.
//
// Errors:
//   - *leaderboard.AuthorizationError: nothing was done.
//   - *leaderboard.ValidationError: nothing was written.
//   - *leaderboard.MergeFailure: the batch was not persisted; resubmit it.
//   - *leaderboard.RecomputeFailure: the batch is persisted but ranks of the
//     listed types are stale; a background retry has been scheduled.
func (s *Service) Sync(ctx context.Context, credential string, records []leaderboard.StatRecord) (SyncResult, error) {
	const op = "service.Sync"

	if err := s.authz.Check(credential); err != nil {
		metrics.RecordSyncRejected("unauthorized")
		metrics.RecordSyncBatch("unauthorized")
		return SyncResult{}, err
	}
	if err := leaderboard.ValidateBatch(records, s.maxBatchSize); err != nil {
		metrics.RecordSyncRejected("validation")
		metrics.RecordSyncBatch("invalid")
		return SyncResult{}, err
	}

	start := s.now()
	mctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	updated, err := s.store.Upsert(mctx, records, start.UTC())
	cancel()
	metrics.RecordMergeLatency(float64(s.now().Sub(start).Milliseconds()))
	if err != nil {
		metrics.RecordMergeFailure()
		metrics.RecordSyncBatch("merge_failed")
		metrics.RecordErrorByType("merge_error", "high")
		s.logger.Error(ctx, "merge failed",
			logger.String("op", op),
			logger.Int("records", len(records)),
			logger.Error(err))
		return SyncResult{}, &leaderboard.MergeFailure{Records: len(records), Cause: timeoutCause(err)}
	}

	metrics.RecordRecordsMerged(updated)
	metrics.UpdateLastSync(start.Unix())
	s.lastSyncUnix.Store(start.Unix())
	s.syncedBatches.Add(1)
	s.mergedRecords.Add(int64(updated))

	recomputed, failed, cause := s.recomputeTypes(ctx, touchedTypes(records))
	if len(failed) > 0 {
		for _, t := range failed {
			s.scheduleRecompute(ctx, t, "sync")
		}
		metrics.RecordSyncBatch("recompute_failed")
		s.logger.Warn(ctx, "merge succeeded but recompute failed",
			logger.String("op", op),
			logger.Int("updated", updated),
			logger.Any("types", failed),
			logger.Error(cause))
		return SyncResult{Updated: updated, Recomputed: recomputed},
			&leaderboard.RecomputeFailure{Updated: updated, Types: failed, Cause: cause}
	}

	metrics.RecordSyncBatch("ok")
	s.logger.Info(ctx, "batch synced",
		logger.Int("updated", updated),
		logger.Any("recomputed", recomputed))
	return SyncResult{Updated: updated, Recomputed: recomputed}, nil
}

// Recompute recomputes ranks for types (every type when empty) without
// merging anything. It is the retry path after a RecomputeFailure.
func (s *Service) Recompute(ctx context.Context, credential string, types []leaderboard.EntryType) ([]leaderboard.EntryType, error) {
	if err := s.authz.Check(credential); err != nil {
		return nil, err
	}
	if len(types) == 0 {
		types = leaderboard.Types
	}

	var vs []leaderboard.Violation
	seen := make(map[leaderboard.EntryType]bool, len(types))
	unique := make([]leaderboard.EntryType, 0, len(types))
	for i, t := range types {
		if !t.Valid() {
			vs = append(vs, leaderboard.Violation{Index: i, Field: "types",
				Message: fmt.Sprintf("must be one of squad, member (got %q)", t)})
			continue
		}
		if !seen[t] {
			seen[t] = true
			unique = append(unique, t)
		}
	}
	if len(vs) > 0 {
		return nil, &leaderboard.ValidationError{Violations: vs}
	}

	recomputed, failed, cause := s.recomputeTypes(ctx, unique)
	if len(failed) > 0 {
		for _, t := range failed {
			s.scheduleRecompute(ctx, t, "manual")
		}
		return recomputed, &leaderboard.RecomputeFailure{Types: failed, Cause: cause}
	}
	return recomputed, nil
}

// recomputeTypes runs one recomputation per type concurrently. Types are
// independent, so a failure of one does not affect the others.
func (s *Service) recomputeTypes(ctx context.Context, types []leaderboard.EntryType) (done, failed []leaderboard.EntryType, cause error) {
	errs := make([]error, len(types))
	for i := range errs {
		errs[i] = errNotRun
	}

	group := s.fanout.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, t := range types {
		group.Submit(func() {
			_, err := s.engine.Recompute(groupCtx, t)
			errs[i] = err
			if err == nil {
				s.lastRecomputes.Store(t, s.now().UTC())
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		s.logger.Warn(ctx, "recompute group encountered error", logger.Error(err))
	}

	var causes []error
	for i, t := range types {
		if errs[i] != nil {
			failed = append(failed, t)
			causes = append(causes, errs[i])
			continue
		}
		done = append(done, t)
	}
	return done, failed, errors.Join(causes...)
}

// touchedTypes lists the distinct types in records, in leaderboard.Types order.
func touchedTypes(records []leaderboard.StatRecord) []leaderboard.EntryType {
	present := make(map[leaderboard.EntryType]bool, len(leaderboard.Types))
	for _, r := range records {
		present[r.Type] = true
	}
	var out []leaderboard.EntryType
	for _, t := range leaderboard.Types {
		if present[t] {
			out = append(out, t)
		}
	}
	return out
}
