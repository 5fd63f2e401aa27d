// Package sampler runs the per-thread measurement loop: sleep for a fixed
// interval, measure how long the sleep actually took and record the excess
// as latency.
package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/cyclictest/internal/stats"
	"github.com/yairfalse/cyclictest/internal/timer"
	"github.com/yairfalse/cyclictest/pkg/domain"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Loop samples one thread
type Loop struct {
	params   domain.RunParameters
	sleeper  Sleeper
	recorder *stats.Recorder
	clock    timer.Clock
	logger   *zap.Logger

	warnings *rate.Limiter
	metrics  *Metrics
	attrs    metric.MeasurementOption
}

// Option customizes a Loop
type Option func(*Loop)

// WithClock replaces the monotonic clock
func WithClock(c timer.Clock) Option {
	return func(l *Loop) {
		l.clock = c
	}
}

// WithMetrics records every sample on the given instruments
func WithMetrics(m *Metrics) Option {
	return func(l *Loop) {
		l.metrics = m
	}
}

// WithWarningLimit bounds how often interrupted sleeps are logged
func WithWarningLimit(every time.Duration, burst int) Option {
	return func(l *Loop) {
		l.warnings = rate.NewLimiter(rate.Every(every), burst)
	}
}

// NewLoop creates the loop for params writing through recorder
func NewLoop(params domain.RunParameters, sleeper Sleeper, recorder *stats.Recorder, logger *zap.Logger, opts ...Option) (*Loop, error) {
	if sleeper == nil {
		return nil, fmt.Errorf("sleeper is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("recorder is required")
	}
	if recorder.Index() != params.Index {
		return nil, fmt.Errorf("recorder writes thread %d, loop runs thread %d", recorder.Index(), params.Index)
	}
	if params.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", params.Interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Loop{
		params:   params,
		sleeper:  sleeper,
		recorder: recorder,
		clock:    timer.Monotonic{},
		logger:   logger.With(zap.Int("thread", params.Index)),
		warnings: rate.NewLimiter(rate.Every(time.Second), 5),
		attrs:    attributes(params.Mode, params.Index),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Run executes params.Cycles samples. ctx is checked between cycles only;
// a sleep in progress always completes.
func (l *Loop) Run(ctx context.Context) error {
	defer l.recorder.Flush()

	interval := int64(l.params.Interval)
	for cycle := uint64(0); cycle < l.params.Cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := l.clock.Now()
		remaining, err := l.sleeper.Sleep(start, l.params.Interval)
		end := l.clock.Now()
		if err != nil {
			return fmt.Errorf("thread %d cycle %d: sleep failed: %w", l.params.Index, cycle, err)
		}

		latency := timer.DifferenceNs(start, end) - interval
		l.recorder.Record(latency)

		interrupted := remaining > 0
		if interrupted {
			l.recorder.Interrupted()
			if l.warnings.Allow() {
				l.logger.Warn("Sleep interrupted, sample uses measured elapsed time",
					zap.Uint64("cycle", cycle),
					zap.Duration("remaining", remaining),
					zap.Int64("latency_ns", latency))
			}
		}

		l.metrics.record(ctx, latency, interrupted, l.attrs)
	}
	return nil
}
