// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection write deadline for event pushes; a stuck client
	// loses the event rather than stalling the broadcaster.
	BroadcastWriteTimeout = 5 * time.Second

	// Largest accepted control request body.
	MaxControlBodyBytes = 1 << 20
)
