package orchestrator

import (
	"strconv"
	"time"
)

// bufferFullRetryDelay paces the pump's retries when the buffer rejects
// a frame under block mode.
const bufferFullRetryDelay = 50 * time.Millisecond

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
