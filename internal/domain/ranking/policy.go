// Package ranking owns the rank ordering policy and the engine that applies it.
//
// Ordering: total_staked DESC, then pubkey ASC (byte-wise). The tie-break
// makes the order total and deterministic so ranks never flicker between
// recomputations over unchanged data. Ranks are dense: 1..N per type.
package ranking

import "sort"

// OrderClause is the ordering policy expressed as SQL for stores that rank in
// the database. It must stay equivalent to Less.
const OrderClause = `total_staked DESC, pubkey COLLATE "C" ASC`

// RankKey is the subset of an entry the policy orders by.
type RankKey struct {
	Pubkey      string
	TotalStaked int64
}

// Assignment is the rank computed for one pubkey.
type Assignment struct {
	Pubkey string
	Rank   int
}

// Less returns true if a ranks before b.
func Less(a, b RankKey) bool {
	if a.TotalStaked != b.TotalStaked {
		return a.TotalStaked > b.TotalStaked
	}
	return a.Pubkey < b.Pubkey
}

// Assign orders keys by the policy and assigns dense ranks starting at 1.
// The input slice is not modified.
func Assign(keys []RankKey) []Assignment {
	sorted := make([]RankKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	out := make([]Assignment, len(sorted))
	for i, k := range sorted {
		out[i] = Assignment{Pubkey: k.Pubkey, Rank: i + 1}
	}
	return out
}
