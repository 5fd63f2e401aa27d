// Package allocbench times single heap allocations with the monotonic
// clock. The numbers are rules of thumb for how much an allocation on a
// measurement path would cost, not a replacement for testing.B.
package allocbench

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/cyclictest/internal/timer"
	"go.uber.org/zap"
)

// Kind selects the allocation under test
type Kind string

const (
	// KindPush appends one element to a growing slice
	KindPush Kind = "push"
	// KindSmall allocates one small heap object
	KindSmall Kind = "small"
	// KindLarge copies a large slice into a fresh allocation
	KindLarge Kind = "large"
)

// DefaultLargeElements gives a 4 MiB large allocation
const DefaultLargeElements = 1024 * 1024

// Case is one benchmark run
type Case struct {
	Kind    Kind `json:"kind" yaml:"kind"`
	Samples int  `json:"samples" yaml:"samples"`
}

// DefaultCases returns the standard benchmark sequence
func DefaultCases() []Case {
	return []Case{
		{Kind: KindPush, Samples: 10},
		{Kind: KindPush, Samples: 1000},
		{Kind: KindSmall, Samples: 10},
		{Kind: KindSmall, Samples: 1000},
		{Kind: KindLarge, Samples: 1},
		{Kind: KindLarge, Samples: 10},
		{Kind: KindLarge, Samples: 100},
	}
}

// Result is the timing of one case
type Result struct {
	Case `yaml:",inline"`
	Avg time.Duration `json:"avg" yaml:"avg"`
	Max time.Duration `json:"max" yaml:"max"`
}

// Runner executes benchmark cases
type Runner struct {
	clock         timer.Clock
	logger        *zap.Logger
	largeElements int
}

// Option customizes a Runner
type Option func(*Runner)

// WithClock replaces the monotonic clock
func WithClock(c timer.Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithLargeElements sets the int32 element count of the large allocation
func WithLargeElements(n int) Option {
	return func(r *Runner) {
		r.largeElements = n
	}
}

// NewRunner creates a runner
func NewRunner(logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		clock:         timer.Monotonic{},
		logger:        logger.Named("allocbench"),
		largeElements: DefaultLargeElements,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes cases in order, stopping early when ctx is done
func (r *Runner) Run(ctx context.Context, cases []Case) ([]Result, error) {
	results := make([]Result, 0, len(cases))
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := r.Measure(c)
		if err != nil {
			return results, err
		}
		r.logger.Debug("Benchmark finished",
			zap.String("kind", string(c.Kind)),
			zap.Int("samples", c.Samples),
			zap.Duration("avg", res.Avg),
			zap.Duration("max", res.Max))
		results = append(results, res)
	}
	return results, nil
}

// Measure times c.Samples allocations of c.Kind
func (r *Runner) Measure(c Case) (Result, error) {
	if c.Samples < 1 {
		return Result{}, fmt.Errorf("%s benchmark needs at least one sample, got %d", c.Kind, c.Samples)
	}

	var once func()
	switch c.Kind {
	case KindPush:
		s := []int32{0}
		once = func() { s = append(s, 42) }
		defer func() { sinkSlice = s }()
	case KindSmall:
		once = func() {
			v := new(int64)
			*v = 88
			sinkSmall = v
		}
	case KindLarge:
		src := make([]int32, r.largeElements)
		for i := range src {
			src[i] = 88
		}
		kept := make([][]int32, 0, c.Samples)
		once = func() {
			dst := make([]int32, len(src))
			copy(dst, src)
			kept = append(kept, dst)
		}
		defer func() { sinkLarge = kept }()
	default:
		return Result{}, fmt.Errorf("unknown benchmark kind %q", c.Kind)
	}

	var sum, peak int64
	for i := 0; i < c.Samples; i++ {
		start := r.clock.Now()
		once()
		end := r.clock.Now()

		diff := timer.DifferenceNs(start, end)
		if diff < 0 {
			diff = 0
		}
		sum += diff
		if diff > peak {
			peak = diff
		}
	}

	return Result{
		Case: c,
		Avg:  time.Duration(sum / int64(c.Samples)),
		Max:  time.Duration(peak),
	}, nil
}

// Package level sinks keep allocations alive so they stay on the heap
var (
	sinkSlice []int32
	sinkSmall *int64
	sinkLarge [][]int32
)
