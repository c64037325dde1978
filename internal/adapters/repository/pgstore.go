package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/okian/stakerank/internal/domain/leaderboard"
	"github.com/okian/stakerank/internal/domain/ranking"
	"github.com/okian/stakerank/pkg/logger"
)

const rankLockPrefix = "stakerank:rank:"

// recomputeSQL rewrites every rank of one type in a single statement.
const recomputeSQL = `UPDATE leaderboard_entries AS le
SET rank = r.position
FROM (
	SELECT pubkey, ROW_NUMBER() OVER (ORDER BY ` + ranking.OrderClause + `) AS position
	FROM leaderboard_entries
	WHERE type = ?
) AS r
WHERE le.type = ? AND le.pubkey = r.pubkey`

// PostgresStore is a Store backed by PostgreSQL through bun.
type PostgresStore struct {
	db           *bun.DB
	maxOpenConns int
	debug        bool
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	s := &PostgresStore{maxOpenConns: 16}
	for _, opt := range opts {
		opt(s)
	}
	sqldb.SetMaxOpenConns(s.maxOpenConns)
	sqldb.SetMaxIdleConns(s.maxOpenConns)

	db := bun.NewDB(sqldb, pgdialect.New())
	if s.debug {
		db.AddQueryHook(queryLogger{})
	}
	s.db = db

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository.OpenPostgres: ping: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle for migrations.
func (s *PostgresStore) DB() *bun.DB { return s.db }

// Upsert implements Store.Upsert. The whole batch is one INSERT ... ON
// CONFLICT statement, so it commits or fails as a unit.
func (s *PostgresStore) Upsert(ctx context.Context, records []leaderboard.StatRecord, at time.Time) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	rows := make([]EntryModel, len(records))
	for i, r := range records {
		if !r.Type.Valid() {
			return 0, fmt.Errorf("%w: %q", ErrUnknownType, r.Type)
		}
		rows[i] = modelFromRecord(r, at)
	}

	_, err := s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (type, pubkey) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("total_staked = EXCLUDED.total_staked").
		Set("member_count = EXCLUDED.member_count").
		Set("twitter_handle = EXCLUDED.twitter_handle").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("repository.Upsert: %w", err)
	}
	return len(rows), nil
}

// RecomputeRanks implements Store.RecomputeRanks. A transaction-scoped
// advisory lock serializes recomputations of the same type across every
// process sharing the database.
func (s *PostgresStore) RecomputeRanks(ctx context.Context, t leaderboard.EntryType) (int, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	var ranked int64
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", rankLockPrefix+t.String()); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
		res, err := tx.ExecContext(ctx, recomputeSQL, t.String(), t.String())
		if err != nil {
			return err
		}
		ranked, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("repository.RecomputeRanks(%s): %w", t, err)
	}
	return int(ranked), nil
}

// Page implements Store.Page. The page and its total run in one read-only
// repeatable-read transaction so both see the same snapshot.
func (s *PostgresStore) Page(ctx context.Context, q leaderboard.Query) ([]leaderboard.Entry, int, error) {
	if !validPage(q) {
		return nil, 0, ErrInvalidQuery
	}
	var (
		rows  []EntryModel
		total int
	)
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := s.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		err := applyFilter(tx.NewSelect().Model(&rows), q.Filter).
			OrderExpr(readOrderSQL).
			Limit(q.Limit).
			Offset(q.Offset).
			Scan(ctx)
		if err != nil {
			return err
		}
		total, err = applyFilter(tx.NewSelect().Model((*EntryModel)(nil)), q.Filter).Count(ctx)
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("repository.Page: %w", err)
	}
	out := make([]leaderboard.Entry, len(rows))
	for i, r := range rows {
		out[i] = r.entry()
	}
	return out, total, nil
}

// Count implements Store.Count.
func (s *PostgresStore) Count(ctx context.Context, f leaderboard.Filter) (int, error) {
	n, err := applyFilter(s.db.NewSelect().Model((*EntryModel)(nil)), f).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("repository.Count: %w", err)
	}
	return n, nil
}

// Get implements Store.Get.
func (s *PostgresStore) Get(ctx context.Context, key leaderboard.Key) (leaderboard.Entry, error) {
	var row EntryModel
	err := s.db.NewSelect().
		Model(&row).
		Where("le.type = ?", key.Type.String()).
		Where("le.pubkey = ?", key.Pubkey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return leaderboard.Entry{}, leaderboard.ErrNotFound
		}
		return leaderboard.Entry{}, fmt.Errorf("repository.Get: %w", err)
	}
	return row.entry(), nil
}

// Ping implements Store.Ping.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.Close.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// applyFilter is shared by Page and Count so both see the same predicate.
func applyFilter(q *bun.SelectQuery, f leaderboard.Filter) *bun.SelectQuery {
	if f.All() {
		return q
	}
	return q.Where("le.type = ?", f.Type.String())
}

type queryLogger struct{}

func (queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (queryLogger) AfterQuery(ctx context.Context, e *bun.QueryEvent) {
	fields := []logger.Field{
		logger.String("query", e.Query),
		logger.Duration("elapsed", time.Since(e.StartTime)),
	}
	if e.Err != nil && !errors.Is(e.Err, sql.ErrNoRows) {
		fields = append(fields, logger.Error(e.Err))
	}
	logger.Get().Debug(ctx, "sql", fields...)
}
