package event

import (
	apperrors "github.com/framewell/framewell/internal/errors"
	"github.com/framewell/framewell/internal/result"
)

// Stream buffer sizes. Raw results arrive at frame rate, so that stream
// gets the deepest buffer.
const (
	ResultStreamBuffer    = 64
	StabilizedBuffer      = 64
	StateStreamBuffer     = 8
	ErrorStreamBuffer     = 16
	BestFrameStreamBuffer = 4
)

// Hub groups one stream per event kind exposed to the application.
type Hub struct {
	Results    *Stream[result.Result]      // raw per-frame engine output
	Stabilized *Stream[result.Result]      // post-stabilizer output
	States     *Stream[result.SourceState] // EMPTY / EXHAUSTED
	Errors     *Stream[*apperrors.AppError]
	BestFrames *Stream[result.BestFrame]
}

// NewHub creates all event streams.
func NewHub() *Hub {
	return &Hub{
		Results:    NewStream[result.Result](ResultStreamBuffer),
		Stabilized: NewStream[result.Result](StabilizedBuffer),
		States:     NewStream[result.SourceState](StateStreamBuffer),
		Errors:     NewStream[*apperrors.AppError](ErrorStreamBuffer),
		BestFrames: NewStream[result.BestFrame](BestFrameStreamBuffer),
	}
}

// Close closes every stream.
func (h *Hub) Close() {
	h.Results.Close()
	h.Stabilized.Close()
	h.States.Close()
	h.Errors.Close()
	h.BestFrames.Close()
}
