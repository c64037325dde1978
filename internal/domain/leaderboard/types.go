// Package leaderboard contains the domain model shared by ingestion, ranking
// and queries: entries, incoming stat records, read requests and the error
// taxonomy.
package leaderboard

import (
	"encoding/json"
	"time"
)

// EntryType partitions the ranking space. Ranks never compare across types.
type EntryType string

// Known entry types.
const (
	TypeSquad  EntryType = "squad"
	TypeMember EntryType = "member"
)

// Types lists every entry type in a stable order.
var Types = []EntryType{TypeMember, TypeSquad}

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	return t == TypeSquad || t == TypeMember
}

func (t EntryType) String() string { return string(t) }

// Entry is one ranked participant.
type Entry struct {
	Type          EntryType `json:"type"`
	Pubkey        string    `json:"pubkey"`
	Name          string    `json:"name"`
	TotalStaked   int64     `json:"total_staked"`
	MemberCount   *int64    `json:"member_count,omitempty"`
	TwitterHandle *string   `json:"twitter_handle,omitempty"`
	// Rank is 0 until the first recomputation that covers the entry.
	Rank      int       `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the composite identity of the entry.
func (e Entry) Key() Key { return Key{Type: e.Type, Pubkey: e.Pubkey} }

// Ranked reports whether the entry has been assigned a rank.
func (e Entry) Ranked() bool { return e.Rank > 0 }

// MarshalJSON renders an unranked entry with "rank": null.
func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	var rank *int
	if e.Rank > 0 {
		r := e.Rank
		rank = &r
	}
	return json.Marshal(struct {
		plain
		Rank *int `json:"rank"`
	}{plain: plain(e), Rank: rank})
}

// UnmarshalJSON accepts both numeric and null ranks.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type plain Entry
	aux := struct {
		*plain
		Rank *int `json:"rank"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Rank = 0
	if aux.Rank != nil {
		e.Rank = *aux.Rank
	}
	return nil
}

// Key is the composite (type, pubkey) identity of an entry.
type Key struct {
	Type   EntryType
	Pubkey string
}

// StatRecord is a single incoming stat update from the background job.
type StatRecord struct {
	Type          EntryType `json:"type"`
	Pubkey        string    `json:"pubkey"`
	Name          string    `json:"name"`
	TotalStaked   int64     `json:"total_staked"`
	MemberCount   *int64    `json:"member_count,omitempty"`
	TwitterHandle *string   `json:"twitter_handle,omitempty"`
}

// Key returns the composite identity the record merges into.
func (r StatRecord) Key() Key { return Key{Type: r.Type, Pubkey: r.Pubkey} }

// Entry converts the record into an unranked entry stamped with at.
func (r StatRecord) Entry(at time.Time) Entry {
	return Entry{
		Type:          r.Type,
		Pubkey:        r.Pubkey,
		Name:          r.Name,
		TotalStaked:   r.TotalStaked,
		MemberCount:   r.MemberCount,
		TwitterHandle: r.TwitterHandle,
		UpdatedAt:     at,
	}
}

// Filter restricts reads to a single type. The zero value matches all types.
type Filter struct {
	Type EntryType
}

// All reports whether the filter matches every type.
func (f Filter) All() bool { return f.Type == "" }

// Match reports whether e satisfies the filter.
func (f Filter) Match(e Entry) bool { return f.All() || e.Type == f.Type }

// Query is a validated leaderboard read request.
type Query struct {
	Filter Filter
	Limit  int
	Offset int
}

// Pagination is the metadata returned alongside a page.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// NewPagination derives pagination metadata. total must be counted under the
// same filter as the page it describes. HasMore is offset+limit < total,
// evaluated without overflowing for offsets near math.MaxInt.
func NewPagination(total, limit, offset int) Pagination {
	return Pagination{
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset < total && limit < total-offset,
	}
}

// Page is the result of a leaderboard query.
type Page struct {
	Entries    []Entry    `json:"entries"`
	Pagination Pagination `json:"pagination"`
}
