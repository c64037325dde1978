package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS leaderboard_entries (
				type TEXT NOT NULL CHECK (type IN ('squad', 'member')),
				pubkey TEXT NOT NULL,
				name TEXT NOT NULL,
				total_staked BIGINT NOT NULL CHECK (total_staked >= 0),
				member_count BIGINT CHECK (member_count >= 0),
				twitter_handle TEXT,
				rank INTEGER NOT NULL DEFAULT 0,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (type, pubkey)
			);
		`)
		if err != nil {
			return fmt.Errorf("failed to create leaderboard_entries table: %w", err)
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS leaderboard_entries;`)
		if err != nil {
			return fmt.Errorf("failed to drop leaderboard_entries table: %w", err)
		}
		return nil
	})
}
