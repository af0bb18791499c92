// Package source defines the frame producer contract consumed by the
// pipeline. Implementations wrap whatever actually acquires images - a
// camera callback, a video demuxer, a network feed - which is outside
// this module's scope.
package source

import (
	"context"
	"errors"

	"github.com/framewell/framewell/internal/frame"
)

// ErrExhausted is returned by Next when the source has no more frames
// and never will (end of a finite feed).
var ErrExhausted = errors.New("frame source exhausted")

// Source supplies frames on demand.
type Source interface {
	// HasNext reports whether another frame may become available.
	// False means the source is finished for good.
	HasNext() bool

	// Next blocks until a frame is available, the context is done, or
	// the source is exhausted.
	Next(ctx context.Context) (*frame.Frame, error)
}
