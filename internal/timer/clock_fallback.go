//go:build !linux
// +build !linux

package timer

import (
	"time"
)

// base anchors readings to the runtime's monotonic clock
var base = time.Now()

// Read returns monotonic time elapsed since process start
func Read() (Timestamp, error) {
	return FromNanoseconds(int64(time.Since(base))), nil
}
