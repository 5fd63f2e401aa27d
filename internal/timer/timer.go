// Package timer reads the monotonic clock and computes signed nanosecond
// differences between readings. DifferenceNs is the only place latency
// arithmetic happens.
package timer

import (
	"time"
)

const nsPerSec = int64(time.Second)

// Timestamp is a reading of the monotonic clock. Nsec is in [0, 1e9).
type Timestamp struct {
	Sec  int64
	Nsec int64
}

// FromNanoseconds builds a normalized timestamp from a nanosecond count
func FromNanoseconds(ns int64) Timestamp {
	sec := ns / nsPerSec
	nsec := ns % nsPerSec
	if nsec < 0 {
		sec--
		nsec += nsPerSec
	}
	return Timestamp{Sec: sec, Nsec: nsec}
}

// Nanoseconds returns the timestamp as a single nanosecond count
func (t Timestamp) Nanoseconds() int64 {
	return t.Sec*nsPerSec + t.Nsec
}

// Add returns t shifted by d
func (t Timestamp) Add(d time.Duration) Timestamp {
	return FromNanoseconds(t.Nanoseconds() + int64(d))
}

// DifferenceNs returns end - begin in nanoseconds. A smaller end.Nsec yields
// a negative nanosecond term that the seconds term absorbs.
func DifferenceNs(begin, end Timestamp) int64 {
	return (end.Sec-begin.Sec)*nsPerSec + (end.Nsec - begin.Nsec)
}

// Clock is a source of monotonic timestamps
type Clock interface {
	Now() Timestamp
}

// Monotonic is the OS monotonic clock
type Monotonic struct{}

// Now reads the monotonic clock. A failed read panics with a
// *domain.ClockError since no later measurement could be trusted.
func (Monotonic) Now() Timestamp {
	return Now()
}

// Now reads the monotonic clock, panicking with a *domain.ClockError on
// failure. Use Read to handle the error instead.
func Now() Timestamp {
	ts, err := Read()
	if err != nil {
		panic(err)
	}
	return ts
}
