//go:build linux
// +build linux

package timer

import (
	"github.com/yairfalse/cyclictest/pkg/domain"
	"golang.org/x/sys/unix"
)

// Read returns the current CLOCK_MONOTONIC time
func Read() (Timestamp, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return Timestamp{}, &domain.ClockError{Err: err}
	}
	return Timestamp{Sec: int64(ts.Sec), Nsec: int64(ts.Nsec)}, nil
}
