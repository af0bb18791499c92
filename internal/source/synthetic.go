package source

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync/atomic"
	"time"

	"github.com/framewell/framewell/internal/frame"
)

// Synthetic generates gradient test frames at a fixed rate. It exists so
// the demo binary can run without camera hardware; real deployments plug
// in their own Source.
type Synthetic struct {
	interval time.Duration
	total    int // 0 = unbounded
	seq      atomic.Uint64
}

// NewSynthetic creates a source emitting fps frames per second. With
// total > 0 the source exhausts after that many frames.
func NewSynthetic(fps float64, total int) *Synthetic {
	if fps <= 0 {
		fps = 1
	}
	return &Synthetic{
		interval: time.Duration(float64(time.Second) / fps),
		total:    total,
	}
}

func (s *Synthetic) HasNext() bool {
	return s.total <= 0 || s.seq.Load() < uint64(s.total)
}

func (s *Synthetic) Next(ctx context.Context) (*frame.Frame, error) {
	if !s.HasNext() {
		return nil, ErrExhausted
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.interval):
	}

	id := s.seq.Add(1)
	return &frame.Frame{
		ID:        id,
		Data:      renderPattern(id),
		Format:    "jpeg",
		Timestamp: time.Now(),
	}, nil
}

// renderPattern draws a small gradient that shifts with the sequence
// number, so consecutive frames differ enough to pass a similarity gate.
func renderPattern(seq uint64) []byte {
	const size = 64
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	shift := uint8(seq * 13)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x*4) + shift,
				G: uint8(y * 4),
				B: 255 - uint8(x*4) - shift,
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, nil)
	return buf.Bytes()
}
