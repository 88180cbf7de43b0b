package tracker

import (
	"slices"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReset(t *testing.T) {
	tr := New()
	assert.True(t, tr.IsComplete())

	tr.Reset(4)
	assert.Equal(t, uint32(4), tr.MissingCount())
	assert.Equal(t, []uint32{0, 1, 2, 3}, slices.Collect(tr.Missing()))
	assert.False(t, tr.IsComplete())

	tr.MarkReceived(2)
	tr.Reset(2)
	assert.Equal(t, []uint32{0, 1}, slices.Collect(tr.Missing()))
}

func TestMarkReceived(t *testing.T) {
	tr := New()
	tr.Reset(4)

	for _, i := range []uint32{2, 0, 3} {
		assert.True(t, tr.MarkReceived(i))
		assert.False(t, tr.IsComplete())
	}
	assert.False(t, tr.MarkReceived(2), "second mark is a no-op")
	assert.False(t, tr.MarkReceived(9), "index outside the set")
	assert.True(t, tr.Contains(1))
	assert.Equal(t, uint32(1), tr.MissingCount())

	assert.True(t, tr.MarkReceived(1))
	assert.True(t, tr.IsComplete())
}

func TestMissingIsRestartable(t *testing.T) {
	tr := New()
	tr.Reset(10)
	tr.MarkReceived(0)
	tr.MarkReceived(5)

	seq := tr.Missing()
	var first []uint32
	for i := range seq {
		first = append(first, i)
		if len(first) == 3 {
			break
		}
	}
	assert.Equal(t, []uint32{1, 2, 3}, first)
	assert.Equal(t, []uint32{1, 2, 3, 4, 6, 7, 8, 9}, slices.Collect(seq))
}

func TestBatch(t *testing.T) {
	tests := []struct {
		name     string
		total    uint32
		received []uint32
		limit    int
		want     []uint32
	}{
		{name: "gaps", total: 4, received: []uint32{0, 2}, limit: 8, want: []uint32{1, 3}},
		{name: "limited", total: 100, limit: 3, want: []uint32{0, 1, 2}},
		{name: "complete", total: 2, received: []uint32{0, 1}, limit: 3, want: []uint32{}},
		{name: "zero limit", total: 2, limit: 0, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			tr.Reset(tt.total)
			for _, i := range tt.received {
				tr.MarkReceived(i)
			}
			assert.Equal(t, tt.want, tr.Batch(tt.limit))
		})
	}
}

func TestReceivedAndRestore(t *testing.T) {
	tr := New()
	tr.Reset(6)
	tr.MarkReceived(1)
	tr.MarkReceived(4)

	received := tr.Received()
	assert.Equal(t, []uint32{1, 4}, received.ToArray())

	other := New()
	other.Reset(6)
	n := other.Restore(received)
	assert.Equal(t, uint32(2), n)
	assert.Equal(t, []uint32{0, 2, 3, 5}, slices.Collect(other.Missing()))

	assert.Equal(t, uint32(0), other.Restore(roaring.BitmapOf(100, 200)))
	assert.Equal(t, uint32(0), other.Restore(nil))
}

func TestLargeTransfer(t *testing.T) {
	tr := New()
	tr.Reset(1 << 20)
	require.Equal(t, uint32(1<<20), tr.MissingCount())

	for i := uint32(0); i < 1<<20; i += 2 {
		tr.MarkReceived(i)
	}
	assert.Equal(t, uint32(1<<19), tr.MissingCount())
	assert.Equal(t, []uint32{1, 3, 5}, tr.Batch(3))
}
