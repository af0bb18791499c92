// Package engine defines the analysis engine contract. The engine is an
// external collaborator: it may be slow, it may fail, and its outputs
// are opaque per-frame results the rest of the pipeline stabilizes.
package engine

import (
	"context"

	"github.com/framewell/framewell/internal/frame"
	"github.com/framewell/framewell/internal/result"
)

// Engine analyzes one frame under the named template. Implementations
// must honor ctx cancellation; the capture loop abandons calls that
// outlive their deadline and discards late results.
type Engine interface {
	Process(ctx context.Context, fr *frame.Frame, template string) (*result.Result, error)
}
