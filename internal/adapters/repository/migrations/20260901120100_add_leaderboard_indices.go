package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		stmts := []string{
			`CREATE INDEX IF NOT EXISTS idx_leaderboard_entries_type_rank ON leaderboard_entries (type, rank);`,
			`CREATE INDEX IF NOT EXISTS idx_leaderboard_entries_type_stake ON leaderboard_entries (type, total_staked DESC, pubkey COLLATE "C");`,
		}
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create leaderboard index: %w", err)
			}
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		for _, idx := range []string{"idx_leaderboard_entries_type_stake", "idx_leaderboard_entries_type_rank"} {
			if _, err := db.ExecContext(ctx, "DROP INDEX IF EXISTS "+idx); err != nil {
				return fmt.Errorf("failed to drop leaderboard index %s: %w", idx, err)
			}
		}
		return nil
	})
}
