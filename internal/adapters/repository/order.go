package repository

import (
	"github.com/okian/stakerank/internal/domain/leaderboard"
	"github.com/okian/stakerank/internal/domain/ranking"
)

// readOrderSQL is the page ordering used by SQL stores. It must stay
// equivalent to readLess: ranked entries first by rank, unranked entries
// (merged but not yet recomputed) last, with deterministic tie-breaks.
const readOrderSQL = `CASE WHEN rank > 0 THEN 0 ELSE 1 END ASC, rank ASC, type ASC, ` + ranking.OrderClause

// readLess orders entries for paginated reads.
func readLess(a, b leaderboard.Entry) bool {
	if a.Ranked() != b.Ranked() {
		return a.Ranked()
	}
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return ranking.Less(
		ranking.RankKey{Pubkey: a.Pubkey, TotalStaked: a.TotalStaked},
		ranking.RankKey{Pubkey: b.Pubkey, TotalStaked: b.TotalStaked},
	)
}

func validPage(q leaderboard.Query) bool {
	return q.Limit >= 1 && q.Offset >= 0 && (q.Filter.All() || q.Filter.Type.Valid())
}
