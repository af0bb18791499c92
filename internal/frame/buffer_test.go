package frame

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkFrame(id uint64) *Frame {
	return &Frame{ID: id, Data: []byte{byte(id)}, Format: "jpeg", Timestamp: time.Now()}
}

func fill(t *testing.T, b *Buffer, ids ...uint64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, b.Add(mkFrame(id)))
	}
}

func bufferIDs(b *Buffer) []uint64 {
	var ids []uint64
	for {
		f, ok := b.Get()
		if !ok {
			return ids
		}
		ids = append(ids, f.ID)
	}
}

func TestBufferFIFOOrder(t *testing.T) {
	b, err := NewBuffer(5, OverflowBlock)
	require.NoError(t, err)

	fill(t, b, 1, 2, 3)
	assert.Equal(t, []uint64{1, 2, 3}, bufferIDs(b))
	assert.True(t, b.Empty())
}

func TestBufferBlockRejectsWhenFull(t *testing.T) {
	b, err := NewBuffer(5, OverflowBlock)
	require.NoError(t, err)

	fill(t, b, 1, 2, 3, 4, 5)
	err = b.Add(mkFrame(6))
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, bufferIDs(b))
}

func TestBufferUpdateEvictsOldest(t *testing.T) {
	b, err := NewBuffer(5, OverflowUpdate)
	require.NoError(t, err)

	fill(t, b, 1, 2, 3, 4, 5, 6)
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, []uint64{2, 3, 4, 5, 6}, bufferIDs(b))
}

func TestBufferPinnedConsume(t *testing.T) {
	b, err := NewBuffer(5, OverflowBlock)
	require.NoError(t, err)
	fill(t, b, 1, 2, 3)

	b.SetNext(NextSelection{ID: 2})
	f, ok := b.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(2), f.ID)
	assert.False(t, b.Has(2))

	// One-shot: the next Get is FIFO again.
	f, ok = b.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(1), f.ID)
}

func TestBufferPinnedKeepInBuffer(t *testing.T) {
	b, err := NewBuffer(5, OverflowBlock)
	require.NoError(t, err)
	fill(t, b, 1, 2, 3)

	b.SetNext(NextSelection{ID: 3, KeepInBuffer: true})
	f, ok := b.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(3), f.ID)
	assert.True(t, b.Has(3))
	assert.Equal(t, 3, b.Len())

	assert.Equal(t, []uint64{1, 2, 3}, bufferIDs(b))
}

func TestBufferPinnedFrameGoneFallsBackToFIFO(t *testing.T) {
	b, err := NewBuffer(5, OverflowBlock)
	require.NoError(t, err)
	fill(t, b, 1, 2)

	b.SetNext(NextSelection{ID: 99})
	f, ok := b.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(1), f.ID)

	// The missing pin was consumed, not retried.
	f, ok = b.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(2), f.ID)
}

func TestBufferEvictionClearsPin(t *testing.T) {
	b, err := NewBuffer(2, OverflowUpdate)
	require.NoError(t, err)
	fill(t, b, 1, 2)

	b.SetNext(NextSelection{ID: 1})
	fill(t, b, 3) // evicts frame 1

	f, ok := b.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(2), f.ID)
}

func TestBufferSetMaxCount(t *testing.T) {
	b, err := NewBuffer(5, OverflowBlock)
	require.NoError(t, err)
	fill(t, b, 1, 2, 3, 4, 5)

	assert.Error(t, b.SetMaxCount(0))
	assert.Error(t, b.SetMaxCount(-1))
	assert.Equal(t, 5, b.MaxCount())

	require.NoError(t, b.SetMaxCount(2))
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, []uint64{4, 5}, bufferIDs(b))
}

func TestBufferClear(t *testing.T) {
	b, err := NewBuffer(5, OverflowBlock)
	require.NoError(t, err)
	fill(t, b, 1, 2)
	b.SetNext(NextSelection{ID: 1})

	b.Clear()
	assert.True(t, b.Empty())
	_, ok := b.Get()
	assert.False(t, ok)
}

func TestBufferNotifyPulse(t *testing.T) {
	b, err := NewBuffer(5, OverflowBlock)
	require.NoError(t, err)

	fill(t, b, 1)
	select {
	case <-b.Notify():
	case <-time.After(time.Second):
		t.Fatal("expected notify pulse after Add")
	}
}

func TestBufferConcurrentAddGet(t *testing.T) {
	b, err := NewBuffer(4, OverflowUpdate)
	require.NoError(t, err)

	const total = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= total; i++ {
			_ = b.Add(mkFrame(uint64(i)))
		}
	}()
	got := 0
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			if _, ok := b.Get(); ok {
				got++
			}
		}
	}()
	wg.Wait()

	// Invariant holds regardless of interleaving.
	assert.LessOrEqual(t, b.Len(), b.MaxCount())
	assert.LessOrEqual(t, got, total)
}
