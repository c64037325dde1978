// Package repository defines the entity store contract and its implementations.
package repository

import (
	"context"
	"time"

	"github.com/okian/stakerank/internal/domain/leaderboard"
)

// Store is the durable table of leaderboard entries keyed by (type, pubkey).
//
// Page and Count take the same Filter type so a caller can (and must) use one
// filter value for both; total counts are only meaningful under the predicate
// that produced the page.
type Store interface {
	// Upsert merges records keyed by (type, pubkey). Existing rows get their
	// name, total_staked, member_count, twitter_handle and updated_at
	// overwritten; new rows are inserted unranked. Rank is never touched.
	// The batch is applied atomically. Returns the number of records merged.
	Upsert(ctx context.Context, records []leaderboard.StatRecord, at time.Time) (int, error)

	// RecomputeRanks assigns dense ranks 1..N to every entry of type t using
	// the ranking policy. All ranks of the type change together or not at all.
	// Returns the number of ranked entries.
	RecomputeRanks(ctx context.Context, t leaderboard.EntryType) (int, error)

	// Page returns entries matching q.Filter in read order, sliced to
	// [q.Offset, q.Offset+q.Limit), together with the number of entries
	// matching q.Filter. Both come from the same snapshot.
	Page(ctx context.Context, q leaderboard.Query) ([]leaderboard.Entry, int, error)

	// Count returns the number of entries matching f.
	Count(ctx context.Context, f leaderboard.Filter) (int, error)

	// Get returns a single entry. Returns leaderboard.ErrNotFound if absent.
	Get(ctx context.Context, key leaderboard.Key) (leaderboard.Entry, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
