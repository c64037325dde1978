package syncload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/okian/stakerank/pkg/logger"
)

// pageSize is the page size used when reading the leaderboard back.
const pageSize = 100

// Run generates the population, syncs it cfg.Rounds times and verifies the
// leaderboard the service serves afterwards.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Named("syncload")
	start := time.Now()
	stats := &Stats{}

	client := NewClient(cfg.BaseURL, cfg.Secret, cfg.Timeout)
	gen := NewGenerator(cfg.Seed)

	log.Info(ctx, "starting sync load",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("runID", client.RunID()),
		logger.Int64("seed", gen.Seed()),
		logger.Int("squads", cfg.Squads),
		logger.Int("members", cfg.Members),
		logger.Int("batchSize", cfg.BatchSize),
		logger.Int("workers", cfg.Workers),
		logger.Int("rounds", cfg.Rounds))

	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	records := gen.Population(cfg.Squads, cfg.Members)
	stats.RecordsGenerated = len(records)

	pool := pond.NewPool(cfg.Workers)
	defer pool.StopAndWait()

	for round := 1; round <= cfg.Rounds; round++ {
		if round > 1 {
			for i := range records {
				gen.Restake(&records[i])
			}
		}
		if err := syncRound(ctx, pool, client, records, cfg, stats, log); err != nil {
			return stats, fmt.Errorf("round %d: %w", round, err)
		}
		log.Info(ctx, "round completed", logger.Int("round", round), logger.Int("batches", stats.BatchesSent))
	}

	if stats.RecomputeFailed > 0 {
		if err := client.Recompute(ctx); err != nil {
			return stats, fmt.Errorf("final recompute: %w", err)
		}
	}

	expected := make(map[string]map[string]int64, 2)
	for _, r := range records {
		if expected[r.Type] == nil {
			expected[r.Type] = make(map[string]int64)
		}
		expected[r.Type][r.Pubkey] = r.TotalStaked
	}
	for _, typ := range []string{"squad", "member"} {
		n, err := verifyType(ctx, client, typ, expected[typ])
		stats.EntriesVerified += n
		if err != nil {
			return stats, fmt.Errorf("verify %s: %w", typ, err)
		}
	}

	stats.Duration = time.Since(start)
	log.Info(ctx, "sync load completed",
		logger.Int("records", stats.RecordsGenerated),
		logger.Int("batches", stats.BatchesSent),
		logger.Int("recomputeFailures", stats.RecomputeFailed),
		logger.Int("verified", stats.EntriesVerified),
		logger.Duration("duration", stats.Duration))
	return stats, nil
}

func syncRound(ctx context.Context, pool pond.Pool, client *Client, records []Record, cfg *Config, stats *Stats, log logger.Logger) error {
	var sent, failed, recomputeFailed atomic.Int64
	group := pool.NewGroupContext(ctx)

	for lo := 0; lo < len(records); lo += cfg.BatchSize {
		batch := records[lo:min(lo+cfg.BatchSize, len(records))]
		group.SubmitErr(func() error {
			err := client.Sync(group.Context(), batch)
			sent.Add(1)
			switch {
			case err == nil:
			case isRecomputeFailure(err):
				recomputeFailed.Add(1)
			default:
				failed.Add(1)
				return err
			}
			if cfg.Verbose {
				log.Debug(ctx, "batch synced", logger.Int("size", len(batch)))
			}
			return nil
		})
	}

	err := group.Wait()
	stats.BatchesSent += int(sent.Load())
	stats.BatchesFailed += int(failed.Load())
	stats.RecomputeFailed += int(recomputeFailed.Load())
	return err
}

// isRecomputeFailure reports whether err is the merged-but-not-ranked outcome.
// The batch is persisted in that case; only ranking must be retried.
func isRecomputeFailure(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	var body struct {
		Code string `json:"code"`
	}
	return json.Unmarshal([]byte(se.Body), &body) == nil && body.Code == "recompute_failed"
}
