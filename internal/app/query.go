package service

import (
	"context"
	"errors"

	"github.com/okian/stakerank/internal/domain/leaderboard"
	"github.com/okian/stakerank/pkg/metrics"
)

// Leaderboard returns one page of entries with pagination metadata. The page
// and its total are computed under the same filter.
func (s *Service) Leaderboard(ctx context.Context, params leaderboard.QueryParams) (leaderboard.Page, error) {
	const op = "service.Leaderboard"

	q, err := leaderboard.ParseQuery(params, s.limits)
	if err != nil {
		return leaderboard.Page{}, err
	}

	start := s.now()
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	entries, total, err := s.store.Page(ctx, q)
	if err != nil {
		return leaderboard.Page{}, &leaderboard.InternalFailure{Op: op, Cause: timeoutCause(err)}
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}

	metrics.RecordQueryLatency(float64(s.now().Sub(start).Milliseconds()))
	metrics.RecordQueryResultSize(len(entries))
	return leaderboard.Page{
		Entries:    entries,
		Pagination: leaderboard.NewPagination(total, q.Limit, q.Offset),
	}, nil
}

// Entry returns a single entry by its composite key.
func (s *Service) Entry(ctx context.Context, rawType, pubkey string) (leaderboard.Entry, error) {
	const op = "service.Entry"

	t, err := leaderboard.ParseType(rawType)
	if err != nil {
		return leaderboard.Entry{}, err
	}
	if pubkey == "" {
		return leaderboard.Entry{}, &leaderboard.ValidationError{Violations: []leaderboard.Violation{
			{Index: -1, Field: "pubkey", Message: "must not be empty"},
		}}
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	e, err := s.store.Get(ctx, leaderboard.Key{Type: t, Pubkey: pubkey})
	if err != nil {
		if errors.Is(err, leaderboard.ErrNotFound) {
			return leaderboard.Entry{}, err
		}
		return leaderboard.Entry{}, &leaderboard.InternalFailure{Op: op, Cause: timeoutCause(err)}
	}
	return e, nil
}
