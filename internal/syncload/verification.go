package syncload

import (
	"context"
	"fmt"
)

// verifyType reads every page of typ and checks it against expected stakes.
// It returns the number of entries read.
func verifyType(ctx context.Context, client *Client, typ string, expected map[string]int64) (int, error) {
	var entries []Entry
	for offset := 0; ; offset += pageSize {
		p, err := client.Leaderboard(ctx, typ, pageSize, offset)
		if err != nil {
			return len(entries), err
		}
		if p.Pagination.Total != len(expected) {
			return len(entries), fmt.Errorf("total %d, expected %d", p.Pagination.Total, len(expected))
		}
		if want := offset+pageSize < p.Pagination.Total; p.Pagination.HasMore != want {
			return len(entries), fmt.Errorf("hasMore %v at offset %d, expected %v", p.Pagination.HasMore, offset, want)
		}
		entries = append(entries, p.Entries...)
		if !p.Pagination.HasMore {
			break
		}
	}
	return len(entries), checkRanking(entries, expected)
}

// checkRanking verifies dense ranks 1..N, stake-descending order with the
// pubkey tie-break, and that every stake matches what was synced last.
func checkRanking(entries []Entry, expected map[string]int64) error {
	if len(entries) != len(expected) {
		return fmt.Errorf("read %d entries, expected %d", len(entries), len(expected))
	}
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if e.Rank == nil {
			return fmt.Errorf("%s is unranked", e.Pubkey)
		}
		if *e.Rank != i+1 {
			return fmt.Errorf("position %d has rank %d", i+1, *e.Rank)
		}
		want, ok := expected[e.Pubkey]
		if !ok {
			return fmt.Errorf("unexpected entry %s", e.Pubkey)
		}
		if e.TotalStaked != want {
			return fmt.Errorf("%s has stake %d, expected %d", e.Pubkey, e.TotalStaked, want)
		}
		if _, dup := seen[e.Pubkey]; dup {
			return fmt.Errorf("%s listed twice", e.Pubkey)
		}
		seen[e.Pubkey] = struct{}{}
		if i > 0 {
			prev := entries[i-1]
			if prev.TotalStaked < e.TotalStaked ||
				(prev.TotalStaked == e.TotalStaked && prev.Pubkey >= e.Pubkey) {
				return fmt.Errorf("%s (%d) ordered after %s (%d)", e.Pubkey, e.TotalStaked, prev.Pubkey, prev.TotalStaked)
			}
		}
	}
	return nil
}
