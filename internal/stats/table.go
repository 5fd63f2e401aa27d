// Package stats holds the statistics table shared by all measurement threads.
// One mutex covers the whole table; a thread folds each sample into its own
// slot and the orchestrator reads every slot after the threads are joined.
package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/yairfalse/cyclictest/pkg/domain"
)

// Layout describes the histogram buckets of every slot
type Layout struct {
	Buckets     int           `json:"buckets" yaml:"buckets"`
	BucketWidth time.Duration `json:"bucket_width" yaml:"bucket_width"`
}

// DefaultLayout covers 0..15 microseconds in one microsecond buckets
func DefaultLayout() Layout {
	return Layout{
		Buckets:     16,
		BucketWidth: time.Microsecond,
	}
}

// Validate validates the layout
func (l Layout) Validate() error {
	if l.Buckets < 1 {
		return fmt.Errorf("histogram needs at least one bucket, got %d", l.Buckets)
	}
	if l.BucketWidth <= 0 {
		return fmt.Errorf("histogram bucket width must be positive, got %v", l.BucketWidth)
	}
	return nil
}

// Range is the first latency that no longer fits the histogram
func (l Layout) Range() time.Duration {
	return time.Duration(l.Buckets) * l.BucketWidth
}

// Table is a fixed set of per-thread statistics behind a single lock
type Table struct {
	mu     sync.Mutex
	layout Layout
	slots  []domain.ThreadStatistics
}

// NewTable creates a table with one slot per thread, all in initial state
func NewTable(threads int, layout Layout) (*Table, error) {
	if threads < 1 {
		return nil, fmt.Errorf("table needs at least one thread slot, got %d", threads)
	}
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid histogram layout: %w", err)
	}

	slots := make([]domain.ThreadStatistics, threads)
	for i := range slots {
		slots[i] = domain.NewThreadStatistics(i, layout.Buckets)
	}

	return &Table{
		layout: layout,
		slots:  slots,
	}, nil
}

// Len returns the number of thread slots
func (t *Table) Len() int {
	return len(t.slots)
}

// Layout returns the histogram layout
func (t *Table) Layout() Layout {
	return t.layout
}

// Record folds one latency sample into the slot of thread index
func (t *Table) Record(index int, latencyNs int64) {
	t.mu.Lock()
	fold(&t.slots[index], clamp(latencyNs), t.layout)
	t.mu.Unlock()
}

// RecordInterrupted counts an interrupted sleep for thread index
func (t *Table) RecordInterrupted(index int) {
	t.mu.Lock()
	t.slots[index].Interrupted++
	t.mu.Unlock()
}

// Thread returns a copy of one slot
func (t *Table) Thread(index int) (domain.ThreadStatistics, error) {
	if index < 0 || index >= len(t.slots) {
		return domain.ThreadStatistics{}, fmt.Errorf("thread index %d out of range [0, %d)", index, len(t.slots))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[index].Clone(), nil
}

// Snapshot returns a copy of every slot. Values read while threads are still
// running are provisional.
func (t *Table) Snapshot() []domain.ThreadStatistics {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.ThreadStatistics, len(t.slots))
	for i := range t.slots {
		out[i] = t.slots[i].Clone()
	}
	return out
}

// merge adds the samples of src into dst
func (t *Table) merge(index int, src *domain.ThreadStatistics) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dst := &t.slots[index]
	if src.Count > 0 {
		if src.Min < dst.Min {
			dst.Min = src.Min
		}
		if src.Max > dst.Max {
			dst.Max = src.Max
		}
		dst.Sum += src.Sum
		dst.Count += src.Count
		dst.Avg = dst.Sum / dst.Count
		for i, c := range src.Histogram {
			dst.Histogram[i] += c
		}
		dst.Overflow += src.Overflow
	}
	dst.Interrupted += src.Interrupted
}

// clamp drops the sign of latencies made negative by clock or sleep
// imprecision
func clamp(latencyNs int64) uint64 {
	if latencyNs < 0 {
		return 0
	}
	return uint64(latencyNs)
}

// fold applies one sample to s. Avg is floor(Sum/Count) and so always lies
// within [Min, Max].
func fold(s *domain.ThreadStatistics, latency uint64, layout Layout) {
	if latency < s.Min {
		s.Min = latency
	}
	if latency > s.Max {
		s.Max = latency
	}
	s.Count++
	s.Sum += latency
	s.Avg = s.Sum / s.Count

	bucket := latency / uint64(layout.BucketWidth)
	if bucket < uint64(len(s.Histogram)) {
		s.Histogram[bucket]++
	} else {
		s.Overflow++
	}
}
