//go:build !linux
// +build !linux

package sampler

import (
	"errors"
)

func newClockSleeper(absolute bool) (Sleeper, error) {
	return nil, errors.New("clock_nanosleep sampling requires Linux")
}
