// Package tracker keeps the set of segment indices a transfer is still
// waiting for.
package tracker

import (
	"iter"

	"github.com/RoaringBitmap/roaring"
)

// Tracker is the missing-segment set of one transfer. An index is in the
// set until its bytes have been durably written.
type Tracker struct {
	missing *roaring.Bitmap
	total   uint32
}

// New returns an empty tracker. Call Reset before use.
func New() *Tracker {
	return &Tracker{missing: roaring.New()}
}

// Reset makes every index in [0, n) missing.
func (t *Tracker) Reset(n uint32) {
	t.missing.Clear()
	t.missing.AddRange(0, uint64(n))
	t.total = n
}

// Total returns the number of segments the tracker was reset to.
func (t *Tracker) Total() uint32 { return t.total }

// MarkReceived removes i from the set. It reports whether the set changed.
func (t *Tracker) MarkReceived(i uint32) bool {
	return t.missing.CheckedRemove(i)
}

// Contains reports whether i is still missing.
func (t *Tracker) Contains(i uint32) bool {
	return t.missing.Contains(i)
}

func (t *Tracker) IsComplete() bool {
	return t.missing.IsEmpty()
}

func (t *Tracker) MissingCount() uint32 {
	return uint32(t.missing.GetCardinality())
}

// Missing yields the missing indices in ascending order. Each call to the
// returned sequence starts from the lowest index.
func (t *Tracker) Missing() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		it := t.missing.Iterator()
		for it.HasNext() {
			if !yield(it.Next()) {
				return
			}
		}
	}
}

// Batch returns up to limit of the lowest missing indices.
func (t *Tracker) Batch(limit int) []uint32 {
	if limit <= 0 {
		return nil
	}
	out := make([]uint32, 0, min(limit, int(t.MissingCount())))
	for i := range t.Missing() {
		out = append(out, i)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Received returns the indices in [0, Total) that are no longer missing.
func (t *Tracker) Received() *roaring.Bitmap {
	return roaring.Flip(t.missing, 0, uint64(t.total))
}

// Restore removes every index in received from the set. Indices outside
// [0, Total) are ignored. It returns how many indices were removed.
func (t *Tracker) Restore(received *roaring.Bitmap) uint32 {
	if received == nil {
		return 0
	}
	before := t.missing.GetCardinality()
	t.missing.AndNot(received)
	return uint32(before - t.missing.GetCardinality())
}
