package capture

import (
	"bytes"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"log/slog"
	"sync/atomic"

	"github.com/corona10/goimagehash"
)

// similarityGate skips engine calls for frames that are perceptually
// near-identical to the previous one. Touched only by the loop
// goroutine except for the skip counter.
type similarityGate struct {
	maxDistance int
	last        *goimagehash.ImageHash
	skipped     atomic.Uint64
}

func newSimilarityGate(maxDistance int) *similarityGate {
	return &similarityGate{maxDistance: maxDistance}
}

// shouldSkip computes a perceptual hash and returns true when the
// Hamming distance to the previous frame is within the threshold.
// Undecodable payloads never skip.
func (g *similarityGate) shouldSkip(data []byte) bool {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return false
	}

	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return false
	}

	if g.last == nil {
		g.last = hash
		return false
	}

	dist, err := g.last.Distance(hash)
	if err != nil {
		g.last = hash
		return false
	}

	if dist <= g.maxDistance {
		g.skipped.Add(1)
		slog.Debug("skipping near-identical frame", "distance", dist)
		return true
	}

	g.last = hash
	return false
}
