package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/okian/stakerank/internal/domain/leaderboard"
)

// storeFactory returns a fresh, empty store for one contract case.
type storeFactory func(t *testing.T) Store

func squad(pubkey, name string, stake, members int64) leaderboard.StatRecord {
	return leaderboard.StatRecord{Type: leaderboard.TypeSquad, Pubkey: pubkey, Name: name, TotalStaked: stake, MemberCount: &members}
}

func member(pubkey, name string, stake int64) leaderboard.StatRecord {
	return leaderboard.StatRecord{Type: leaderboard.TypeMember, Pubkey: pubkey, Name: name, TotalStaked: stake}
}

func mustUpsert(t *testing.T, s Store, records ...leaderboard.StatRecord) {
	t.Helper()
	if _, err := s.Upsert(context.Background(), records, time.Now()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func mustRecompute(t *testing.T, s Store, typ leaderboard.EntryType) int {
	t.Helper()
	n, err := s.RecomputeRanks(context.Background(), typ)
	if err != nil {
		t.Fatalf("recompute %s: %v", typ, err)
	}
	return n
}

func page(t *testing.T, s Store, f leaderboard.Filter, limit, offset int) []leaderboard.Entry {
	t.Helper()
	entries, total, err := s.Page(context.Background(), leaderboard.Query{Filter: f, Limit: limit, Offset: offset})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if c, err := s.Count(context.Background(), f); err != nil || c != total {
		t.Fatalf("page total %d disagrees with count %d (err %v)", total, c, err)
	}
	return entries
}

func pubkeys(entries []leaderboard.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Pubkey
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// runStoreContract exercises the behaviour every Store must share.
func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("UpsertInsertsUnranked", func(t *testing.T) {
		s := newStore(t)
		n, err := s.Upsert(context.Background(), []leaderboard.StatRecord{squad("S1", "Alpha", 500, 3)}, time.Now())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 merged, got %d", n)
		}
		e, err := s.Get(context.Background(), leaderboard.Key{Type: leaderboard.TypeSquad, Pubkey: "S1"})
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if e.Ranked() {
			t.Errorf("expected unranked entry, got rank %d", e.Rank)
		}
		if e.MemberCount == nil || *e.MemberCount != 3 {
			t.Errorf("expected member_count 3, got %v", e.MemberCount)
		}
	})

	t.Run("UpsertOverwritesAndKeepsRank", func(t *testing.T) {
		s := newStore(t)
		mustUpsert(t, s, squad("S1", "Alpha", 500, 3), squad("S2", "Beta", 300, 2))
		mustRecompute(t, s, leaderboard.TypeSquad)

		mustUpsert(t, s, squad("S2", "Beta Prime", 900, 4))
		e, err := s.Get(context.Background(), leaderboard.Key{Type: leaderboard.TypeSquad, Pubkey: "S2"})
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if e.Name != "Beta Prime" || e.TotalStaked != 900 {
			t.Errorf("expected overwritten fields, got %+v", e)
		}
		if e.Rank != 2 {
			t.Errorf("upsert must not touch rank: expected 2, got %d", e.Rank)
		}
		if c, _ := s.Count(context.Background(), leaderboard.Filter{}); c != 2 {
			t.Errorf("expected 2 entries, got %d", c)
		}
	})

	t.Run("UpsertClearsOptionalFields", func(t *testing.T) {
		s := newStore(t)
		handle := "@alpha"
		r := squad("S1", "Alpha", 500, 3)
		r.TwitterHandle = &handle
		mustUpsert(t, s, r)

		mustUpsert(t, s, leaderboard.StatRecord{Type: leaderboard.TypeSquad, Pubkey: "S1", Name: "Alpha", TotalStaked: 10})
		e, _ := s.Get(context.Background(), r.Key())
		if e.TwitterHandle != nil || e.MemberCount != nil {
			t.Errorf("expected optional fields cleared, got %+v", e)
		}
	})

	t.Run("SameKeyDifferentTypesAreDistinct", func(t *testing.T) {
		s := newStore(t)
		mustUpsert(t, s, squad("K", "Squad K", 10, 1), member("K", "Member K", 20))
		if c, _ := s.Count(context.Background(), leaderboard.Filter{}); c != 2 {
			t.Errorf("expected 2 entries, got %d", c)
		}
	})

	t.Run("RecomputeDenseRanksWithTieBreak", func(t *testing.T) {
		s := newStore(t)
		mustUpsert(t, s,
			squad("S1", "A", 500, 1),
			squad("S2", "B", 300, 1),
			squad("S4", "D", 300, 1),
			squad("S3", "C", 0, 1),
			member("M1", "m", 1000),
		)
		if n := mustRecompute(t, s, leaderboard.TypeSquad); n != 4 {
			t.Errorf("expected 4 ranked, got %d", n)
		}

		got := page(t, s, leaderboard.Filter{Type: leaderboard.TypeSquad}, 10, 0)
		if want := []string{"S1", "S2", "S4", "S3"}; !equalStrings(pubkeys(got), want) {
			t.Fatalf("expected order %v, got %v", want, pubkeys(got))
		}
		for i, e := range got {
			if e.Rank != i+1 {
				t.Errorf("expected rank %d for %s, got %d", i+1, e.Pubkey, e.Rank)
			}
		}

		m, _ := s.Get(context.Background(), leaderboard.Key{Type: leaderboard.TypeMember, Pubkey: "M1"})
		if m.Ranked() {
			t.Errorf("squad recompute must not rank members, got %d", m.Rank)
		}
	})

	t.Run("RecomputeIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		mustUpsert(t, s, member("a", "a", 5), member("b", "b", 5), member("c", "c", 7))
		mustRecompute(t, s, leaderboard.TypeMember)
		first := page(t, s, leaderboard.Filter{Type: leaderboard.TypeMember}, 10, 0)
		mustRecompute(t, s, leaderboard.TypeMember)
		second := page(t, s, leaderboard.Filter{Type: leaderboard.TypeMember}, 10, 0)
		for i := range first {
			if first[i].Pubkey != second[i].Pubkey || first[i].Rank != second[i].Rank {
				t.Errorf("ranks changed between recomputations at %d: %+v vs %+v", i, first[i], second[i])
			}
		}
	})

	t.Run("FailedRecomputeKeepsPriorRanks", func(t *testing.T) {
		s := newStore(t)
		mustUpsert(t, s, squad("S1", "A", 500, 1), squad("S2", "B", 300, 1), squad("S3", "C", 100, 1))
		mustRecompute(t, s, leaderboard.TypeSquad)
		mustUpsert(t, s, squad("S3", "C", 900, 1))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := s.RecomputeRanks(ctx, leaderboard.TypeSquad); err == nil {
			t.Fatal("expected recompute with a cancelled context to fail")
		}

		got := page(t, s, leaderboard.Filter{Type: leaderboard.TypeSquad}, 10, 0)
		want := map[string]int{"S1": 1, "S2": 2, "S3": 3}
		for _, e := range got {
			if e.Rank != want[e.Pubkey] {
				t.Errorf("expected %s to keep rank %d, got %d", e.Pubkey, want[e.Pubkey], e.Rank)
			}
		}
		s3, _ := s.Get(context.Background(), leaderboard.Key{Type: leaderboard.TypeSquad, Pubkey: "S3"})
		if s3.TotalStaked != 900 {
			t.Errorf("expected merged stake 900, got %d", s3.TotalStaked)
		}
	})

	t.Run("PageTotalAndOffsetPastEnd", func(t *testing.T) {
		s := newStore(t)
		mustUpsert(t, s, member("a", "a", 1), member("b", "b", 2), squad("S1", "s", 3, 1))
		entries, total, err := s.Page(context.Background(), leaderboard.Query{
			Filter: leaderboard.Filter{Type: leaderboard.TypeMember}, Limit: 10, Offset: math.MaxInt,
		})
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		if len(entries) != 0 || total != 2 {
			t.Errorf("expected empty page with total 2, got %d entries and total %d", len(entries), total)
		}
	})

	t.Run("RecomputeEmptyType", func(t *testing.T) {
		s := newStore(t)
		if n := mustRecompute(t, s, leaderboard.TypeMember); n != 0 {
			t.Errorf("expected 0 ranked, got %d", n)
		}
	})

	t.Run("PagesAreContiguousAndCounted", func(t *testing.T) {
		s := newStore(t)
		var batch []leaderboard.StatRecord
		for i := 0; i < 25; i++ {
			batch = append(batch, member(fmt.Sprintf("m%02d", i), "m", int64(i*10)))
		}
		mustUpsert(t, s, batch...)
		mustRecompute(t, s, leaderboard.TypeMember)

		f := leaderboard.Filter{Type: leaderboard.TypeMember}
		seen := 0
		for offset := 0; offset < 25; offset += 10 {
			for _, e := range page(t, s, f, 10, offset) {
				seen++
				if e.Rank != seen {
					t.Errorf("expected rank %d, got %d", seen, e.Rank)
				}
			}
		}
		if seen != 25 {
			t.Errorf("expected 25 entries across pages, got %d", seen)
		}
		if c, _ := s.Count(context.Background(), f); c != 25 {
			t.Errorf("expected count 25, got %d", c)
		}
		if got := page(t, s, f, 10, 100); len(got) != 0 {
			t.Errorf("expected empty page past the end, got %d", len(got))
		}
	})

	t.Run("AllTypesInterleaveByRank", func(t *testing.T) {
		s := newStore(t)
		mustUpsert(t, s, squad("S1", "s", 100, 1), squad("S2", "s", 50, 1), member("M1", "m", 10))
		mustRecompute(t, s, leaderboard.TypeSquad)
		mustRecompute(t, s, leaderboard.TypeMember)
		mustUpsert(t, s, member("M2", "late", 1))

		got := page(t, s, leaderboard.Filter{}, 10, 0)
		want := []string{"M1", "S1", "S2", "M2"}
		if !equalStrings(pubkeys(got), want) {
			t.Errorf("expected %v, got %v", want, pubkeys(got))
		}
		if c, _ := s.Count(context.Background(), leaderboard.Filter{}); c != 4 {
			t.Errorf("expected count 4, got %d", c)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), leaderboard.Key{Type: leaderboard.TypeSquad, Pubkey: "nope"})
		if !errors.Is(err, leaderboard.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("InvalidPageQuery", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.Page(context.Background(), leaderboard.Query{Limit: 0})
		if !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("expected ErrInvalidQuery, got %v", err)
		}
	})

	t.Run("ConcurrentUpsertAndRecompute", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					r := member(fmt.Sprintf("w%d-%d", w, i), "m", int64(i))
					if _, err := s.Upsert(context.Background(), []leaderboard.StatRecord{r}, time.Now()); err != nil {
						t.Errorf("upsert: %v", err)
						return
					}
					if _, err := s.RecomputeRanks(context.Background(), leaderboard.TypeMember); err != nil {
						t.Errorf("recompute: %v", err)
						return
					}
				}
			}(w)
		}
		wg.Wait()

		mustRecompute(t, s, leaderboard.TypeMember)
		got := page(t, s, leaderboard.Filter{Type: leaderboard.TypeMember}, 100, 0)
		if len(got) != 80 {
			t.Fatalf("expected 80 members, got %d", len(got))
		}
		for i, e := range got {
			if e.Rank != i+1 {
				t.Fatalf("ranks not contiguous at %d: %d", i, e.Rank)
			}
		}
	})
}
