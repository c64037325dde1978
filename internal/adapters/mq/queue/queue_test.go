package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/okian/stakerank/internal/domain/leaderboard"
)

func request(t leaderboard.EntryType) Request {
	return Request{Type: t, Reason: "test", RequestedAt: time.Now()}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if !q.Enqueue(ctx, request(leaderboard.TypeSquad)) {
		t.Fatal("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r := <-q.Dequeue(dctx)
	if r.Type != leaderboard.TypeSquad {
		t.Errorf("expected squad request, got %v", r.Type)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, request(leaderboard.TypeSquad)) || !q.Enqueue(ctx, request(leaderboard.TypeMember)) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, request(leaderboard.TypeSquad)) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if q.Enqueue(ctx, request(leaderboard.TypeSquad)) {
		t.Error("expected enqueue with cancelled context to fail")
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	q.Enqueue(ctx, request(leaderboard.TypeMember))
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}
	if q.Enqueue(ctx, request(leaderboard.TypeSquad)) {
		t.Error("expected enqueue after close to fail")
	}

	var drained []Request
	for r := range q.Dequeue(ctx) {
		drained = append(drained, r)
	}
	if len(drained) != 1 || drained[0].Type != leaderboard.TypeMember {
		t.Errorf("expected the queued request to drain after close, got %+v", drained)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	const producers, perProducer = 8, 25
	q := NewInMemoryQueue(WithCapacity(producers * perProducer))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				if !q.Enqueue(ctx, request(leaderboard.TypeMember)) {
					t.Error("unexpected enqueue failure")
					return
				}
			}
		}()
	}
	wg.Wait()
	_ = q.Close()

	count := 0
	for range q.Dequeue(ctx) {
		count++
	}
	if count != producers*perProducer {
		t.Errorf("expected %d requests, got %d", producers*perProducer, count)
	}
}

func TestRequest_DedupeKey(t *testing.T) {
	if got := request(leaderboard.TypeSquad).DedupeKey(); got != "recompute:squad" {
		t.Errorf("unexpected dedupe key %q", got)
	}
}
