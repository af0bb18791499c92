// Package clarity tracks the sharpest frame across a stabilization
// window so a one-shot "take best photo" operation can return it. The
// score itself is computed by the engine; this tracker only compares.
package clarity

import (
	"time"

	"github.com/framewell/framewell/internal/frame"
	"github.com/framewell/framewell/internal/result"
)

// Defaults for Config.
const (
	DefaultResetTimeout     = 3 * time.Second
	DefaultMinStabilization = time.Second
	DefaultMinNonImproving  = 2
	DefaultHistorySize      = 50
)

// Config tunes confirmation behavior.
type Config struct {
	// ResetTimeout clears all state when no new maximum has been seen
	// for this long; the capture attempt starts over.
	ResetTimeout time.Duration
	// MinStabilization is how long the maximum must stand before a
	// confirmation is possible.
	MinStabilization time.Duration
	// MinNonImproving is how many consecutive non-improving frames must
	// follow the maximum.
	MinNonImproving int
	// HistorySize bounds the retained score history.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.MinStabilization <= 0 {
		c.MinStabilization = DefaultMinStabilization
	}
	if c.MinNonImproving <= 0 {
		c.MinNonImproving = DefaultMinNonImproving
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Tracker is a per-frame reducer, called only from the loop goroutine.
type Tracker struct {
	cfg Config

	maxClarity   float64
	maxAt        time.Time
	maxFrameID   uint64
	maxImage     []byte
	maxFormat    string
	nonImproving int
	history      []float64

	confirmed   bool
	confirmedID uint64

	now func() time.Time // swapped in tests
}

// New creates a tracker.
func New(cfg Config) *Tracker {
	c := cfg.withDefaults()
	return &Tracker{
		cfg:     c,
		history: make([]float64, 0, c.HistorySize),
		now:     time.Now,
	}
}

// Observe feeds one frame's result. Frames without a clarity score are
// ignored. Returns the best frame and true exactly once, when the
// stabilization criteria are first met.
func (t *Tracker) Observe(fr *frame.Frame, res *result.Result) (result.BestFrame, bool) {
	if !res.HasClarity {
		return result.BestFrame{}, false
	}

	now := t.now()
	if !t.maxAt.IsZero() && now.Sub(t.maxAt) > t.cfg.ResetTimeout {
		t.reset()
	}

	if res.Clarity > t.maxClarity || t.maxAt.IsZero() {
		t.maxClarity = res.Clarity
		t.maxAt = now
		t.maxFrameID = fr.ID
		t.maxImage = fr.Data
		t.maxFormat = fr.Format
		t.nonImproving = 0
	} else {
		t.nonImproving++
	}

	t.history = append(t.history, res.Clarity)
	if len(t.history) > t.cfg.HistorySize {
		t.history = t.history[1:]
	}

	if !t.confirmed &&
		now.Sub(t.maxAt) >= t.cfg.MinStabilization &&
		t.nonImproving >= t.cfg.MinNonImproving {
		t.confirmed = true
		t.confirmedID = t.maxFrameID
		return result.BestFrame{
			FrameID:    t.maxFrameID,
			Score:      t.maxClarity,
			Image:      t.maxImage,
			Format:     t.maxFormat,
			CapturedAt: t.maxAt,
		}, true
	}

	return result.BestFrame{}, false
}

// Confirmed returns the confirmed frame ID, if any.
func (t *Tracker) Confirmed() (uint64, bool) {
	return t.confirmedID, t.confirmed
}

// History returns a copy of the retained scores, oldest first.
func (t *Tracker) History() []float64 {
	out := make([]float64, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Tracker) reset() {
	t.maxClarity = 0
	t.maxAt = time.Time{}
	t.maxFrameID = 0
	t.maxImage = nil
	t.maxFormat = ""
	t.nonImproving = 0
	t.history = t.history[:0]
	t.confirmed = false
	t.confirmedID = 0
}
