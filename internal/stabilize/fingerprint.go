package stabilize

import (
	"fmt"
	"image"
	"strings"

	"github.com/framewell/framewell/internal/result"
)

// Fingerprinter derives the cross-frame equality key for one result
// kind. Two items with the same fingerprint are "the same logical
// result" seen on different frames. The rule is a pluggable policy per
// kind, since no single heuristic fits every spatial result type.
type Fingerprinter interface {
	Fingerprint(it result.Item) string
}

// FingerprintFunc adapts a function to the Fingerprinter interface.
type FingerprintFunc func(result.Item) string

func (f FingerprintFunc) Fingerprint(it result.Item) string { return f(it) }

// locationCellPx is the grid cell size for coarse location buckets.
// Detections jitter a few pixels between frames; bucketing keeps the
// fingerprint stable under that jitter.
const locationCellPx = 16

// DefaultFingerprinters returns the built-in policy per kind:
//   - barcode: decoded payload + symbology
//   - text line: recognized text + coarse location bucket
//   - document boundary: quantized corner positions
func DefaultFingerprinters() [result.KindCount]Fingerprinter {
	var fps [result.KindCount]Fingerprinter
	fps[result.KindBarcode] = FingerprintFunc(barcodeFingerprint)
	fps[result.KindTextLine] = FingerprintFunc(textLineFingerprint)
	fps[result.KindDocumentBoundary] = FingerprintFunc(boundaryFingerprint)
	return fps
}

func barcodeFingerprint(it result.Item) string {
	payload := it.Text
	if len(it.Payload) > 0 {
		payload = string(it.Payload)
	}
	return it.Format + "\x1f" + payload
}

func textLineFingerprint(it result.Item) string {
	return it.Text + "\x1f" + bucketPoints(it.Points, centerOnly)
}

func boundaryFingerprint(it result.Item) string {
	return bucketPoints(it.Points, allCorners)
}

type bucketMode uint8

const (
	centerOnly bucketMode = iota
	allCorners
)

func bucketPoints(pts []image.Point, mode bucketMode) string {
	if len(pts) == 0 {
		return ""
	}
	if mode == centerOnly {
		var cx, cy int
		for _, p := range pts {
			cx += p.X
			cy += p.Y
		}
		cx /= len(pts)
		cy /= len(pts)
		return fmt.Sprintf("%d,%d", cx/locationCellPx, cy/locationCellPx)
	}

	parts := make([]string, 0, len(pts))
	for _, p := range pts {
		parts = append(parts, fmt.Sprintf("%d,%d", p.X/locationCellPx, p.Y/locationCellPx))
	}
	return strings.Join(parts, ";")
}
