package sampler

import (
	"fmt"
	"time"

	"github.com/yairfalse/cyclictest/internal/timer"
	"github.com/yairfalse/cyclictest/pkg/domain"
)

// Sleeper is a sleep primitive under test
type Sleeper interface {
	// Sleep blocks for interval counted from start. A positive remaining
	// duration means the sleep was interrupted before it finished.
	Sleep(start timer.Timestamp, interval time.Duration) (remaining time.Duration, err error)
}

// NewSleeper returns the sleep primitive for mode
func NewSleeper(mode domain.SleepMode) (Sleeper, error) {
	switch mode {
	case domain.SleepModeDuration:
		return DurationSleeper{}, nil
	case domain.SleepModeNanosleep:
		return newClockSleeper(false)
	case domain.SleepModeClockNanosleep:
		return newClockSleeper(true)
	default:
		return nil, fmt.Errorf("unknown sleep mode %q", mode)
	}
}

// DurationSleeper sleeps through the Go runtime's generic sleep
type DurationSleeper struct{}

// Sleep never reports an interruption: the runtime resumes early wakeups
func (DurationSleeper) Sleep(_ timer.Timestamp, interval time.Duration) (time.Duration, error) {
	time.Sleep(interval)
	return 0, nil
}
