package repository

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/okian/stakerank/internal/domain/leaderboard"
)

// EntryModel is the leaderboard_entries row.
type EntryModel struct {
	bun.BaseModel `bun:"table:leaderboard_entries,alias:le"`

	Type          string    `bun:"type,pk"`
	Pubkey        string    `bun:"pubkey,pk"`
	Name          string    `bun:"name,notnull"`
	TotalStaked   int64     `bun:"total_staked,notnull"`
	MemberCount   *int64    `bun:"member_count"`
	TwitterHandle *string   `bun:"twitter_handle"`
	Rank          int       `bun:"rank,notnull,default:0"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

func modelFromRecord(r leaderboard.StatRecord, at time.Time) EntryModel {
	return EntryModel{
		Type:          r.Type.String(),
		Pubkey:        r.Pubkey,
		Name:          r.Name,
		TotalStaked:   r.TotalStaked,
		MemberCount:   r.MemberCount,
		TwitterHandle: r.TwitterHandle,
		UpdatedAt:     at.UTC(),
	}
}

func (m EntryModel) entry() leaderboard.Entry {
	return leaderboard.Entry{
		Type:          leaderboard.EntryType(m.Type),
		Pubkey:        m.Pubkey,
		Name:          m.Name,
		TotalStaked:   m.TotalStaked,
		MemberCount:   m.MemberCount,
		TwitterHandle: m.TwitterHandle,
		Rank:          m.Rank,
		UpdatedAt:     m.UpdatedAt,
	}
}
