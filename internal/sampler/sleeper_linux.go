//go:build linux
// +build linux

package sampler

import (
	"errors"
	"fmt"
	"time"

	"github.com/yairfalse/cyclictest/internal/timer"
	"golang.org/x/sys/unix"
)

// ClockSleeper sleeps with clock_nanosleep on CLOCK_MONOTONIC. Absolute
// sleepers wait until start + interval, relative ones for interval.
type ClockSleeper struct {
	Absolute bool
}

func newClockSleeper(absolute bool) (Sleeper, error) {
	return ClockSleeper{Absolute: absolute}, nil
}

// Sleep returns the time left when a signal cut the sleep short
func (s ClockSleeper) Sleep(start timer.Timestamp, interval time.Duration) (time.Duration, error) {
	if s.Absolute {
		target := start.Add(interval)
		ts := unix.NsecToTimespec(target.Nanoseconds())
		err := unix.ClockNanosleep(unix.CLOCK_MONOTONIC, unix.TIMER_ABSTIME, &ts, nil)
		if errors.Is(err, unix.EINTR) {
			now, rerr := timer.Read()
			if rerr != nil {
				return 0, rerr
			}
			if left := timer.DifferenceNs(now, target); left > 0 {
				return time.Duration(left), nil
			}
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("clock_nanosleep(TIMER_ABSTIME): %w", err)
		}
		return 0, nil
	}

	req := unix.NsecToTimespec(int64(interval))
	var rem unix.Timespec
	err := unix.ClockNanosleep(unix.CLOCK_MONOTONIC, 0, &req, &rem)
	if errors.Is(err, unix.EINTR) {
		return time.Duration(rem.Nano()), nil
	}
	if err != nil {
		return 0, fmt.Errorf("clock_nanosleep: %w", err)
	}
	return 0, nil
}
