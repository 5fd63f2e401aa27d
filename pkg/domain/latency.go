package domain

import (
	"math"
	"time"
)

// RunParameters configures a single measurement thread. A copy is handed to
// the thread at spawn and never changes afterwards.
type RunParameters struct {
	// Index identifies the thread and selects its statistics slot
	Index int `json:"index" yaml:"index"`

	Interval time.Duration `json:"interval" yaml:"interval"`
	Cycles   uint64        `json:"cycles" yaml:"cycles"`
	Mode     SleepMode     `json:"mode" yaml:"mode"`

	// Policy and Priority are applied to the thread's own OS thread
	Policy   SchedulingPolicy `json:"policy" yaml:"policy"`
	Priority int              `json:"priority" yaml:"priority"`

	// CPU pins the thread, -1 leaves affinity alone
	CPU int `json:"cpu" yaml:"cpu"`
}

// MinSentinel is the value Min holds before the first sample
const MinSentinel = math.MaxUint64

// ThreadStatistics is the aggregate of every latency sample of one thread.
// All durations are nanoseconds.
type ThreadStatistics struct {
	Thread int `json:"thread" yaml:"thread"`

	Min uint64 `json:"min_ns" yaml:"min_ns"`
	Max uint64 `json:"max_ns" yaml:"max_ns"`
	Avg uint64 `json:"avg_ns" yaml:"avg_ns"`

	Sum   uint64 `json:"sum_ns" yaml:"sum_ns"`
	Count uint64 `json:"count" yaml:"count"`

	// Histogram counts samples by floor(latency / bucket width)
	Histogram []uint64 `json:"histogram" yaml:"histogram"`
	// Overflow counts samples beyond the last histogram bucket
	Overflow uint64 `json:"overflow" yaml:"overflow"`

	// Interrupted counts sleeps that returned with time left over
	Interrupted uint64 `json:"interrupted" yaml:"interrupted"`
}

// NewThreadStatistics returns statistics in their initial state
func NewThreadStatistics(thread, buckets int) ThreadStatistics {
	return ThreadStatistics{
		Thread:    thread,
		Min:       MinSentinel,
		Histogram: make([]uint64, buckets),
	}
}

// HistogramTotal sums every histogram bucket
func (s *ThreadStatistics) HistogramTotal() uint64 {
	var total uint64
	for _, c := range s.Histogram {
		total += c
	}
	return total
}

// Untouched reports whether no sample has been folded in yet
func (s *ThreadStatistics) Untouched() bool {
	return s.Count == 0 && s.Min == MinSentinel && s.Max == 0 && s.Overflow == 0
}

// Clone returns a deep copy safe to hand out after the lock is released
func (s *ThreadStatistics) Clone() ThreadStatistics {
	c := *s
	c.Histogram = append([]uint64(nil), s.Histogram...)
	return c
}
