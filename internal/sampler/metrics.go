package sampler

import (
	"context"
	"time"

	"github.com/yairfalse/cyclictest/pkg/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Metrics holds the OTEL instruments fed by sample loops. Instruments that
// fail to register stay nil and are skipped.
type Metrics struct {
	latency     metric.Float64Histogram
	samples     metric.Int64Counter
	overflows   metric.Int64Counter
	interrupted metric.Int64Counter

	// overflowAt is the first latency outside the histogram
	overflowAt time.Duration
}

// NewMetrics registers the sampling instruments on meter
func NewMetrics(meter metric.Meter, overflowAt time.Duration, logger *zap.Logger) *Metrics {
	m := &Metrics{overflowAt: overflowAt}
	var err error

	m.latency, err = meter.Float64Histogram(
		"cyclictest_latency_seconds",
		metric.WithDescription("Wakeup latency of timed sleeps"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.01),
	)
	if err != nil {
		logger.Warn("Failed to create latency histogram", zap.Error(err))
	}

	m.samples, err = meter.Int64Counter(
		"cyclictest_samples_total",
		metric.WithDescription("Total latency samples taken"),
	)
	if err != nil {
		logger.Warn("Failed to create samples counter", zap.Error(err))
	}

	m.overflows, err = meter.Int64Counter(
		"cyclictest_overflows_total",
		metric.WithDescription("Samples beyond the histogram range"),
	)
	if err != nil {
		logger.Warn("Failed to create overflow counter", zap.Error(err))
	}

	m.interrupted, err = meter.Int64Counter(
		"cyclictest_interrupted_sleeps_total",
		metric.WithDescription("Sleeps that returned with time remaining"),
	)
	if err != nil {
		logger.Warn("Failed to create interrupted sleeps counter", zap.Error(err))
	}

	return m
}

// attributes identifies one thread of one mode
func attributes(mode domain.SleepMode, thread int) metric.MeasurementOption {
	return metric.WithAttributeSet(attribute.NewSet(
		attribute.String("mode", string(mode)),
		attribute.Int("thread", thread),
	))
}

func (m *Metrics) record(ctx context.Context, latencyNs int64, interrupted bool, attrs metric.MeasurementOption) {
	if m == nil {
		return
	}
	if latencyNs < 0 {
		latencyNs = 0
	}

	if m.latency != nil {
		m.latency.Record(ctx, time.Duration(latencyNs).Seconds(), attrs)
	}
	if m.samples != nil {
		m.samples.Add(ctx, 1, attrs)
	}
	if m.overflows != nil && time.Duration(latencyNs) >= m.overflowAt {
		m.overflows.Add(ctx, 1, attrs)
	}
	if m.interrupted != nil && interrupted {
		m.interrupted.Add(ctx, 1, attrs)
	}
}
