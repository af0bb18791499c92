// Package frame provides the frame type and the bounded buffer that sits
// between a frame producer and the capture loop.
package frame

import "time"

// Frame is one captured image. The payload is opaque to the pipeline.
// IDs are assigned once at the producer boundary and increase
// monotonically; a frame is owned by the buffer until handed to the
// capture loop, which discards it after one processing cycle.
type Frame struct {
	ID        uint64
	Data      []byte
	Format    string
	Timestamp time.Time
}
