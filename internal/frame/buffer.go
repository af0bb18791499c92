package frame

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// OverflowMode is the policy applied when Add finds the buffer full.
type OverflowMode uint8

const (
	// OverflowBlock rejects the incoming frame and leaves the buffer
	// unchanged; the producer treats the rejection as backpressure.
	OverflowBlock OverflowMode = iota
	// OverflowUpdate evicts the oldest frame to make room.
	OverflowUpdate
)

func (m OverflowMode) String() string {
	if m == OverflowUpdate {
		return "update"
	}
	return "block"
}

// ParseOverflowMode translates a configuration alias into an OverflowMode.
func ParseOverflowMode(s string) (OverflowMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "block":
		return OverflowBlock, nil
	case "update":
		return OverflowUpdate, nil
	}
	return 0, fmt.Errorf("unknown overflow mode %q", s)
}

// ErrFull is returned by Add when the buffer is full under OverflowBlock.
var ErrFull = errors.New("frame buffer full")

// NextSelection is a one-shot override for the next Get: return the frame
// with the given ID instead of the FIFO head, optionally leaving it in
// the buffer for later retrieval.
type NextSelection struct {
	ID           uint64
	KeepInBuffer bool
}

// Buffer is a bounded FIFO of frames. Add may be called from a producer
// callback concurrently with Get from the capture loop; all mutation of
// the sequence happens inside one critical section. Invariant:
// Len() <= MaxCount() at all times.
type Buffer struct {
	mu       sync.Mutex
	frames   []*Frame
	maxCount int
	mode     OverflowMode
	pinned   *NextSelection

	// notify is pulsed on Add so a consumer can wait for frames
	// without polling.
	notify chan struct{}
}

// NewBuffer creates a buffer holding at most maxCount frames.
func NewBuffer(maxCount int, mode OverflowMode) (*Buffer, error) {
	if maxCount <= 0 {
		return nil, fmt.Errorf("buffer max count must be positive, got %d", maxCount)
	}
	return &Buffer{
		maxCount: maxCount,
		mode:     mode,
		notify:   make(chan struct{}, 1),
	}, nil
}

// Add appends a frame at the tail. When full, the overflow mode decides:
// block rejects with ErrFull, update evicts the head first.
func (b *Buffer) Add(f *Frame) error {
	b.mu.Lock()
	if len(b.frames) >= b.maxCount {
		if b.mode == OverflowBlock {
			b.mu.Unlock()
			return ErrFull
		}
		b.evictHeadLocked()
	}
	b.frames = append(b.frames, f)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// Get removes and returns the next frame. A pending NextSelection wins
// over FIFO order and is consumed whether or not the pinned frame is
// still present; with KeepInBuffer the frame is returned but retained.
func (b *Buffer) Get() (*Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sel := b.pinned; sel != nil {
		b.pinned = nil
		for i, f := range b.frames {
			if f.ID != sel.ID {
				continue
			}
			if !sel.KeepInBuffer {
				b.frames = append(b.frames[:i], b.frames[i+1:]...)
			}
			return f, true
		}
		// Pinned frame already evicted; fall back to FIFO.
	}

	if len(b.frames) == 0 {
		return nil, false
	}
	f := b.frames[0]
	b.frames = b.frames[1:]
	return f, true
}

// SetNext records a one-shot override honored by the next Get only.
func (b *Buffer) SetNext(sel NextSelection) {
	b.mu.Lock()
	b.pinned = &sel
	b.mu.Unlock()
}

// Has reports whether a frame with the given ID is currently buffered.
func (b *Buffer) Has(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range b.frames {
		if f.ID == id {
			return true
		}
	}
	return false
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Empty reports whether the buffer holds no frames.
func (b *Buffer) Empty() bool { return b.Len() == 0 }

// Clear drops all buffered frames and any pending selection.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.frames = nil
	b.pinned = nil
	b.mu.Unlock()
}

// SetMaxCount changes the capacity. Shrinking evicts oldest frames until
// the invariant holds again. A non-positive count is rejected with the
// buffer unchanged.
func (b *Buffer) SetMaxCount(n int) error {
	if n <= 0 {
		return fmt.Errorf("buffer max count must be positive, got %d", n)
	}
	b.mu.Lock()
	b.maxCount = n
	for len(b.frames) > b.maxCount {
		b.evictHeadLocked()
	}
	b.mu.Unlock()
	return nil
}

// MaxCount returns the current capacity.
func (b *Buffer) MaxCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxCount
}

// SetMode changes the overflow policy for subsequent Adds.
func (b *Buffer) SetMode(m OverflowMode) {
	b.mu.Lock()
	b.mode = m
	b.mu.Unlock()
}

// Mode returns the current overflow policy.
func (b *Buffer) Mode() OverflowMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// Notify returns a channel pulsed whenever a frame is added.
func (b *Buffer) Notify() <-chan struct{} { return b.notify }

func (b *Buffer) evictHeadLocked() {
	evicted := b.frames[0]
	b.frames = b.frames[1:]
	if b.pinned != nil && b.pinned.ID == evicted.ID {
		b.pinned = nil
	}
}
