package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

func TestRingBufferDropsExactlyOldestOnOverflow(t *testing.T) {
	rb := newRingBuffer(4)
	for i := uint64(1); i <= 4; i++ {
		rb.Push(models.Frame{Sequence: i})
	}
	require.EqualValues(t, 0, rb.DroppedCount())

	rb.Push(models.Frame{Sequence: 5})
	assert.EqualValues(t, 1, rb.DroppedCount())

	snap := rb.Snapshot()
	require.Len(t, snap, 4)
	// the oldest frame (seq 1) must be gone; seq 2..5 remain in order.
	for i, f := range snap {
		assert.EqualValues(t, i+2, f.Sequence)
	}
}

func TestRingBufferLatest(t *testing.T) {
	rb := newRingBuffer(3)
	_, ok := rb.Latest()
	assert.False(t, ok)

	rb.Push(models.Frame{Sequence: 1})
	rb.Push(models.Frame{Sequence: 2})
	f, ok := rb.Latest()
	require.True(t, ok)
	assert.EqualValues(t, 2, f.Sequence)
}
