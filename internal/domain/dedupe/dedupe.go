// Package dedupe tracks pending work keys so repeated requests for the same
// work coalesce into one.
package dedupe

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Deduper records pending keys.
type Deduper interface {
	// SeenAndRecord atomically checks if id is pending and records it if not.
	// Returns true if id was already pending, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord clears id so the next request for it is accepted again. Called
	// when the work is picked up or could not be scheduled.
	Unrecord(ctx context.Context, id string)

	// PendingSince reports when id was recorded.
	PendingSince(id string) (time.Time, bool)

	Size() int64
}

type inMemoryDeduper struct {
	pending *xsync.Map[string, time.Time]
	size    atomic.Int64
	now     func() time.Time
}

// NewInMemoryDeduper creates an empty deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		pending: xsync.NewMap[string, time.Time](),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	if _, loaded := d.pending.LoadOrStore(id, d.now()); loaded {
		return true
	}
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	if _, loaded := d.pending.LoadAndDelete(id); loaded {
		d.size.Add(-1)
	}
}

func (d *inMemoryDeduper) PendingSince(id string) (time.Time, bool) {
	return d.pending.Load(id)
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
