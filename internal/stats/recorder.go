package stats

import (
	"fmt"

	"github.com/yairfalse/cyclictest/pkg/domain"
)

// Recorder is the write handle of one thread. With publishEvery <= 1 every
// sample takes the table lock; otherwise samples collect in a local
// accumulator merged into the table every publishEvery samples and on Flush.
// Once flushed, both paths leave identical statistics in the table.
type Recorder struct {
	table        *Table
	index        int
	publishEvery uint64

	pending     domain.ThreadStatistics
	unpublished uint64
}

// Recorder returns the write handle for thread index
func (t *Table) Recorder(index, publishEvery int) (*Recorder, error) {
	if index < 0 || index >= len(t.slots) {
		return nil, fmt.Errorf("thread index %d out of range [0, %d)", index, len(t.slots))
	}
	if publishEvery < 1 {
		publishEvery = 1
	}

	return &Recorder{
		table:        t,
		index:        index,
		publishEvery: uint64(publishEvery),
		pending:      domain.NewThreadStatistics(index, t.layout.Buckets),
	}, nil
}

// Index returns the thread index this recorder writes to
func (r *Recorder) Index() int {
	return r.index
}

// Record folds one latency sample
func (r *Recorder) Record(latencyNs int64) {
	if r.publishEvery == 1 {
		r.table.Record(r.index, latencyNs)
		return
	}

	fold(&r.pending, clamp(latencyNs), r.table.layout)
	r.unpublished++
	if r.unpublished >= r.publishEvery {
		r.Flush()
	}
}

// Interrupted counts an interrupted sleep
func (r *Recorder) Interrupted() {
	if r.publishEvery == 1 {
		r.table.RecordInterrupted(r.index)
		return
	}
	r.pending.Interrupted++
}

// Flush publishes the local accumulator
func (r *Recorder) Flush() {
	if r.pending.Count == 0 && r.pending.Interrupted == 0 {
		return
	}
	r.table.merge(r.index, &r.pending)
	r.pending = domain.NewThreadStatistics(r.index, r.table.layout.Buckets)
	r.unpublished = 0
}
