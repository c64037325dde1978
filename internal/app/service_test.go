package service_test

import (
	"context"
	"errors"
	"io"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/stakerank/internal/adapters/repository"
	workerpool "github.com/okian/stakerank/internal/adapters/mq/worker"
	service "github.com/okian/stakerank/internal/app"
	"github.com/okian/stakerank/internal/domain/auth"
	"github.com/okian/stakerank/internal/domain/leaderboard"
	"github.com/okian/stakerank/pkg/logger"
)

const secret = "sync-secret"

func init() {
	if err := logger.InitWithWriter(io.Discard); err != nil {
		panic(err)
	}
}

// flakyStore wraps a MemoryStore and injects failures.
type flakyStore struct {
	*repository.MemoryStore
	failUpsert      atomic.Bool
	recomputeFails  atomic.Int32
	recomputeCalls  atomic.Int32
	mu              sync.Mutex
	recomputedTypes []leaderboard.EntryType
	block           chan struct{}
	onCount         func()
}

func (f *flakyStore) Count(ctx context.Context, filter leaderboard.Filter) (int, error) {
	if f.onCount != nil {
		f.onCount()
	}
	return f.MemoryStore.Count(ctx, filter)
}

func (f *flakyStore) Upsert(ctx context.Context, records []leaderboard.StatRecord, at time.Time) (int, error) {
	if f.failUpsert.Load() {
		return 0, errors.New("connection reset")
	}
	return f.MemoryStore.Upsert(ctx, records, at)
}

func (f *flakyStore) RecomputeRanks(ctx context.Context, t leaderboard.EntryType) (int, error) {
	f.recomputeCalls.Add(1)
	f.mu.Lock()
	f.recomputedTypes = append(f.recomputedTypes, t)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.recomputeFails.Load() > 0 {
		f.recomputeFails.Add(-1)
		return 0, errors.New("deadlock detected")
	}
	return f.MemoryStore.RecomputeRanks(ctx, t)
}

func newStore(t *testing.T) *flakyStore {
	m := repository.NewMemoryStore(context.Background())
	t.Cleanup(func() { _ = m.Close() })
	return &flakyStore{MemoryStore: m}
}

func newService(t *testing.T, store repository.Store, opts ...service.Option) *service.Service {
	authz, err := auth.NewAuthorizer(secret)
	if err != nil {
		t.Fatalf("authorizer: %v", err)
	}
	opts = append([]service.Option{
		service.WithLogger(logger.Nop()),
		service.WithStoreTimeout(time.Second),
		service.WithRetry(workerpool.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}),
	}, opts...)
	return service.New(store, authz, opts...)
}

func squad(pubkey string, stake int64) leaderboard.StatRecord {
	return leaderboard.StatRecord{Type: leaderboard.TypeSquad, Pubkey: pubkey, Name: "Squad " + pubkey, TotalStaked: stake}
}

func member(pubkey string, stake int64) leaderboard.StatRecord {
	return leaderboard.StatRecord{Type: leaderboard.TypeMember, Pubkey: pubkey, Name: "Member " + pubkey, TotalStaked: stake}
}

func ranksOf(p leaderboard.Page) map[string]int {
	out := make(map[string]int, len(p.Entries))
	for _, e := range p.Entries {
		out[e.Pubkey] = e.Rank
	}
	return out
}

func TestService_SyncAndQuery(t *testing.T) {
	Convey("Given a service over an empty store", t, func() {
		store := newStore(t)
		svc := newService(t, store)
		ctx := context.Background()
		squads := leaderboard.QueryParams{Type: "squad", Limit: "10", Offset: "0"}

		Convey("When A=100 and B=200 are synced", func() {
			res, err := svc.Sync(ctx, secret, []leaderboard.StatRecord{squad("A", 100), squad("B", 200)})
			So(err, ShouldBeNil)
			So(res.Updated, ShouldEqual, 2)
			So(res.Recomputed, ShouldResemble, []leaderboard.EntryType{leaderboard.TypeSquad})

			page, err := svc.Leaderboard(ctx, squads)
			So(err, ShouldBeNil)

			Convey("Then B ranks 1 and A ranks 2", func() {
				So(page.Entries[0].Pubkey, ShouldEqual, "B")
				So(ranksOf(page), ShouldResemble, map[string]int{"B": 1, "A": 2})
				So(page.Pagination, ShouldResemble, leaderboard.Pagination{Total: 2, Limit: 10, Offset: 0, HasMore: false})
			})

			Convey("And A is resubmitted with 300", func() {
				_, err := svc.Sync(ctx, secret, []leaderboard.StatRecord{squad("A", 300)})
				So(err, ShouldBeNil)
				page, err := svc.Leaderboard(ctx, squads)
				So(err, ShouldBeNil)

				Convey("Then A ranks 1 and B ranks 2 without duplicating A", func() {
					So(ranksOf(page), ShouldResemble, map[string]int{"A": 1, "B": 2})
					So(page.Pagination.Total, ShouldEqual, 2)
				})
			})

			Convey("And the same batch is submitted again", func() {
				_, err := svc.Sync(ctx, secret, []leaderboard.StatRecord{squad("A", 100), squad("B", 200)})
				So(err, ShouldBeNil)
				again, err := svc.Leaderboard(ctx, squads)
				So(err, ShouldBeNil)

				Convey("Then nothing changes", func() {
					So(ranksOf(again), ShouldResemble, ranksOf(page))
					So(again.Pagination.Total, ShouldEqual, 2)
				})
			})

			Convey("And the page is limited to one entry", func() {
				page, err := svc.Leaderboard(ctx, leaderboard.QueryParams{Type: "squad", Limit: "1", Offset: "0"})
				So(err, ShouldBeNil)

				Convey("Then exactly one entry is returned and more are available", func() {
					So(page.Entries, ShouldHaveLength, 1)
					So(page.Pagination.HasMore, ShouldBeTrue)
					So(page.Pagination.Total, ShouldEqual, 2)
				})
			})

			Convey("And the offset is the largest int", func() {
				page, err := svc.Leaderboard(ctx, leaderboard.QueryParams{Type: "squad", Limit: "10", Offset: strconv.Itoa(math.MaxInt)})
				So(err, ShouldBeNil)

				Convey("Then the page is empty and nothing more is reported", func() {
					So(page.Entries, ShouldBeEmpty)
					So(page.Pagination, ShouldResemble, leaderboard.Pagination{Total: 2, Limit: 10, Offset: math.MaxInt, HasMore: false})
				})
			})

			Convey("And a merge lands while the page is being read", func() {
				store.onCount = func() {
					_, _ = store.MemoryStore.Upsert(ctx, []leaderboard.StatRecord{squad("C", 50)}, time.Now())
				}
				page, err := svc.Leaderboard(ctx, squads)
				So(err, ShouldBeNil)

				Convey("Then the total describes the same snapshot as the entries", func() {
					So(page.Pagination.Total, ShouldEqual, len(page.Entries))
				})
			})

			Convey("And a later recomputation fails after stakes change", func() {
				store.recomputeFails.Store(1)
				_, err := svc.Sync(ctx, secret, []leaderboard.StatRecord{squad("A", 300)})
				var rErr *leaderboard.RecomputeFailure
				So(errors.As(err, &rErr), ShouldBeTrue)

				after, err := svc.Leaderboard(ctx, squads)
				So(err, ShouldBeNil)

				Convey("Then the previous ranks are still served next to the new stake", func() {
					So(ranksOf(after), ShouldResemble, map[string]int{"B": 1, "A": 2})
					a, err := svc.Entry(ctx, "squad", "A")
					So(err, ShouldBeNil)
					So(a.TotalStaked, ShouldEqual, 300)
					So(a.Rank, ShouldEqual, 2)
				})
			})

			Convey("And a sync arrives with a bad credential", func() {
				for _, cred := range []string{"", "wrong"} {
					_, err := svc.Sync(ctx, cred, []leaderboard.StatRecord{squad("A", 999), squad("C", 1)})
					var authErr *leaderboard.AuthorizationError
					So(errors.As(err, &authErr), ShouldBeTrue)
				}
				after, err := svc.Leaderboard(ctx, squads)
				So(err, ShouldBeNil)

				Convey("Then the store is unchanged", func() {
					So(after, ShouldResemble, page)
				})
			})

			Convey("And members are synced", func() {
				_, err := svc.Sync(ctx, secret, []leaderboard.StatRecord{member("m1", 5), member("m2", 50)})
				So(err, ShouldBeNil)

				Convey("Then the type filter and the all view agree with their totals", func() {
					members, err := svc.Leaderboard(ctx, leaderboard.QueryParams{Type: "member"})
					So(err, ShouldBeNil)
					So(members.Pagination.Total, ShouldEqual, 2)
					So(members.Pagination.Limit, ShouldEqual, leaderboard.DefaultLimit)
					So(ranksOf(members), ShouldResemble, map[string]int{"m2": 1, "m1": 2})

					all, err := svc.Leaderboard(ctx, leaderboard.QueryParams{})
					So(err, ShouldBeNil)
					So(all.Pagination.Total, ShouldEqual, 4)
					So(all.Entries, ShouldHaveLength, 4)
					for _, e := range all.Entries[:2] {
						So(e.Rank, ShouldEqual, 1)
					}
				})
			})
		})
	})
}

func TestService_SyncRejections(t *testing.T) {
	Convey("Given a service", t, func() {
		store := newStore(t)
		svc := newService(t, store, service.WithMaxBatchSize(3))
		ctx := context.Background()

		Convey("When a batch has one invalid record", func() {
			bad := squad("", -5)
			_, err := svc.Sync(ctx, secret, []leaderboard.StatRecord{squad("A", 1), bad, member("m", 1)})

			Convey("Then every violation is reported and nothing is written", func() {
				var vErr *leaderboard.ValidationError
				So(errors.As(err, &vErr), ShouldBeTrue)
				So(len(vErr.Violations), ShouldBeGreaterThanOrEqualTo, 2)
				for _, v := range vErr.Violations {
					So(v.Index, ShouldEqual, 1)
				}
				n, _ := store.Count(ctx, leaderboard.Filter{})
				So(n, ShouldEqual, 0)
			})
		})

		Convey("When a batch is too large", func() {
			_, err := svc.Sync(ctx, secret, []leaderboard.StatRecord{squad("A", 1), squad("B", 1), squad("C", 1), squad("D", 1)})

			Convey("Then it is rejected as a whole", func() {
				var vErr *leaderboard.ValidationError
				So(errors.As(err, &vErr), ShouldBeTrue)
				So(vErr.Violations[0].Index, ShouldEqual, -1)
			})
		})

		Convey("When the merge fails", func() {
			store.failUpsert.Store(true)
			_, err := svc.Sync(ctx, secret, []leaderboard.StatRecord{squad("A", 1)})

			Convey("Then a retryable MergeFailure is returned and no recompute runs", func() {
				var mErr *leaderboard.MergeFailure
				So(errors.As(err, &mErr), ShouldBeTrue)
				So(leaderboard.IsRetryable(err), ShouldBeTrue)
				So(store.recomputeCalls.Load(), ShouldEqual, 0)
			})
		})
	})
}

func TestService_RecomputeFailure(t *testing.T) {
	Convey("Given a started service whose recomputations fail once", t, func() {
		store := newStore(t)
		svc := newService(t, store)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		store.recomputeFails.Store(1)
		res, err := svc.Sync(ctx, secret, []leaderboard.StatRecord{squad("A", 100), squad("B", 200)})

		Convey("Then the merge is reported as done but ranks as stale", func() {
			var rErr *leaderboard.RecomputeFailure
			So(errors.As(err, &rErr), ShouldBeTrue)
			So(rErr.Updated, ShouldEqual, 2)
			So(rErr.Types, ShouldResemble, []leaderboard.EntryType{leaderboard.TypeSquad})
			So(res.Updated, ShouldEqual, 2)

			var mErr *leaderboard.MergeFailure
			So(errors.As(err, &mErr), ShouldBeFalse)

			e, err := svc.Entry(ctx, "squad", "A")
			So(err, ShouldBeNil)
			So(e.TotalStaked, ShouldEqual, 100)
		})

		Convey("Then the background retry eventually ranks the entries", func() {
			deadline := time.Now().Add(2 * time.Second)
			var page leaderboard.Page
			for time.Now().Before(deadline) {
				page, err = svc.Leaderboard(ctx, leaderboard.QueryParams{Type: "squad"})
				So(err, ShouldBeNil)
				if len(page.Entries) == 2 && page.Entries[0].Ranked() {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
			So(ranksOf(page), ShouldResemble, map[string]int{"B": 1, "A": 2})
		})

		Convey("Then a recompute-only retry also fixes the ranks", func() {
			done, err := svc.Recompute(ctx, secret, []leaderboard.EntryType{leaderboard.TypeSquad})
			So(err, ShouldBeNil)
			So(done, ShouldResemble, []leaderboard.EntryType{leaderboard.TypeSquad})
			e, err := svc.Entry(ctx, "squad", "B")
			So(err, ShouldBeNil)
			So(e.Rank, ShouldEqual, 1)
		})
	})
}

func TestService_Recompute(t *testing.T) {
	Convey("Given a service", t, func() {
		store := newStore(t)
		svc := newService(t, store)
		ctx := context.Background()

		Convey("When recomputing without a credential", func() {
			_, err := svc.Recompute(ctx, "", nil)

			Convey("Then it is unauthorized", func() {
				var authErr *leaderboard.AuthorizationError
				So(errors.As(err, &authErr), ShouldBeTrue)
				So(store.recomputeCalls.Load(), ShouldEqual, 0)
			})
		})

		Convey("When recomputing with no types", func() {
			done, err := svc.Recompute(ctx, secret, nil)

			Convey("Then every type is recomputed", func() {
				So(err, ShouldBeNil)
				So(done, ShouldHaveLength, len(leaderboard.Types))
			})
		})

		Convey("When recomputing an unknown type", func() {
			_, err := svc.Recompute(ctx, secret, []leaderboard.EntryType{"guild"})

			Convey("Then it is a validation error", func() {
				var vErr *leaderboard.ValidationError
				So(errors.As(err, &vErr), ShouldBeTrue)
			})
		})
	})
}

func TestService_Reads(t *testing.T) {
	Convey("Given a service with data", t, func() {
		store := newStore(t)
		svc := newService(t, store, service.WithQueryLimits(2, 5))
		ctx := context.Background()
		_, err := svc.Sync(ctx, secret, []leaderboard.StatRecord{squad("A", 1), squad("B", 2), squad("C", 3)})
		So(err, ShouldBeNil)

		Convey("When query parameters are malformed", func() {
			_, err := svc.Leaderboard(ctx, leaderboard.QueryParams{Type: "guild", Limit: "500", Offset: "-1"})

			Convey("Then each violation is listed", func() {
				var vErr *leaderboard.ValidationError
				So(errors.As(err, &vErr), ShouldBeTrue)
				So(vErr.Violations, ShouldHaveLength, 3)
			})
		})

		Convey("When the limit is omitted", func() {
			page, err := svc.Leaderboard(ctx, leaderboard.QueryParams{})

			Convey("Then the configured default applies", func() {
				So(err, ShouldBeNil)
				So(page.Entries, ShouldHaveLength, 2)
				So(page.Pagination.HasMore, ShouldBeTrue)
			})
		})

		Convey("When the offset is past the end", func() {
			page, err := svc.Leaderboard(ctx, leaderboard.QueryParams{Offset: "10"})

			Convey("Then the page is empty but counted", func() {
				So(err, ShouldBeNil)
				So(page.Entries, ShouldNotBeNil)
				So(page.Entries, ShouldBeEmpty)
				So(page.Pagination.Total, ShouldEqual, 3)
				So(page.Pagination.HasMore, ShouldBeFalse)
			})
		})

		Convey("When looking up entries", func() {
			e, err := svc.Entry(ctx, "squad", "C")
			So(err, ShouldBeNil)
			_, missing := svc.Entry(ctx, "member", "C")
			_, badType := svc.Entry(ctx, "guild", "C")

			Convey("Then lookups resolve by type and pubkey", func() {
				So(e.Rank, ShouldEqual, 1)
				So(errors.Is(missing, leaderboard.ErrNotFound), ShouldBeTrue)
				var vErr *leaderboard.ValidationError
				So(errors.As(badType, &vErr), ShouldBeTrue)
			})
		})

		Convey("When stats are requested", func() {
			st, err := svc.GetStats(ctx)

			Convey("Then they reflect the store", func() {
				So(err, ShouldBeNil)
				So(st.Entries[leaderboard.TypeSquad], ShouldEqual, 3)
				So(st.Entries[leaderboard.TypeMember], ShouldEqual, 0)
				So(st.SyncedBatches, ShouldEqual, 1)
				So(st.MergedRecords, ShouldEqual, 3)
				So(st.LastSync, ShouldNotBeNil)
				So(st.Started, ShouldBeFalse)
				So(st.WorkerCount, ShouldEqual, 0)
				So(st.PendingSince, ShouldBeEmpty)
			})
		})

		Convey("When health is checked", func() {
			So(svc.Health(ctx), ShouldBeNil)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service with a reconcile schedule", t, func() {
		store := newStore(t)
		svc := newService(t, store, service.WithReconcileSchedule("@every 1s"))
		ctx := context.Background()

		Convey("When started twice and stopped twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			st, err := svc.GetStats(ctx)
			So(err, ShouldBeNil)
			So(st.Started, ShouldBeTrue)
			So(st.WorkerCount, ShouldEqual, 2)
			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)
		})

		Convey("When reconciling manually", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()
			_, _ = svc.Sync(ctx, secret, []leaderboard.StatRecord{member("m", 1)})
			before := store.recomputeCalls.Load()
			svc.Reconcile(ctx)

			Convey("Then every type is recomputed in the background", func() {
				deadline := time.Now().Add(2 * time.Second)
				for time.Now().Before(deadline) && store.recomputeCalls.Load() < before+int32(len(leaderboard.Types)) {
					time.Sleep(5 * time.Millisecond)
				}
				So(store.recomputeCalls.Load(), ShouldBeGreaterThanOrEqualTo, before+int32(len(leaderboard.Types)))
			})
		})

		Convey("When the schedule is invalid", func() {
			bad := newService(t, store, service.WithReconcileSchedule("not a schedule"))

			Convey("Then start fails", func() {
				So(bad.Start(ctx), ShouldNotBeNil)
			})
		})
	})
}

func TestService_PendingStats(t *testing.T) {
	Convey("Given a started service with one busy worker", t, func() {
		store := newStore(t)
		store.block = make(chan struct{})
		svc := newService(t, store, service.WithWorkerCount(1))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		defer close(store.block)

		svc.Reconcile(ctx)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) && store.recomputeCalls.Load() < 1 {
			time.Sleep(time.Millisecond)
		}
		So(store.recomputeCalls.Load(), ShouldEqual, 1)

		Convey("Then the queued type is reported as pending", func() {
			st, err := svc.GetStats(ctx)
			So(err, ShouldBeNil)
			So(st.WorkerCount, ShouldEqual, 1)
			So(st.PendingRequests, ShouldEqual, 1)
			So(st.PendingSince, ShouldHaveLength, 1)
			_, ok := st.PendingSince[leaderboard.Types[1]]
			So(ok, ShouldBeTrue)
		})
	})
}
