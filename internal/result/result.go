// Package result defines the result model shared across the pipeline:
// the closed set of result kinds, per-frame result batches, and the
// events delivered to the consuming application.
package result

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// Kind identifies a result item type. The set is closed; string aliases
// accepted from configuration or the control API are translated once at
// the boundary by ParseKind.
type Kind uint8

const (
	KindBarcode Kind = iota
	KindDocumentBoundary
	KindTextLine

	// KindCount sizes per-kind arrays. Not a valid kind.
	KindCount
)

func (k Kind) String() string {
	switch k {
	case KindBarcode:
		return "barcode"
	case KindDocumentBoundary:
		return "document-boundary"
	case KindTextLine:
		return "text-line"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind translates a string alias into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "barcode":
		return KindBarcode, nil
	case "document-boundary", "boundary", "document":
		return KindDocumentBoundary, nil
	case "text-line", "text", "textline":
		return KindTextLine, nil
	}
	return 0, fmt.Errorf("unknown result kind %q", s)
}

// Item is a single detection produced by the engine for one frame.
type Item struct {
	Kind       Kind
	Text       string
	Format     string // symbology or encoding reported by the engine
	Confidence float32
	Points     []image.Point // spatial location, engine-dependent
	Payload    []byte        // opaque decoded bytes, if any
}

// Result is the engine output for a single frame, plus the externally
// computed clarity score when the engine supplies one.
type Result struct {
	FrameID    uint64
	Timestamp  time.Time
	Items      []Item
	Clarity    float64
	HasClarity bool
}

// SourceState signals transient source conditions to the application.
type SourceState uint8

const (
	StateEmpty SourceState = iota
	StateExhausted
)

func (s SourceState) String() string {
	if s == StateExhausted {
		return "exhausted"
	}
	return "empty"
}

// BestFrame is the confirmed winner of a clarity stabilization window.
type BestFrame struct {
	FrameID    uint64
	Score      float64
	Image      []byte
	Format     string
	CapturedAt time.Time
}
