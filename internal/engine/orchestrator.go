// Package engine runs one measurement: it prepares the environment, spawns
// a sample loop per thread, joins them and collects the statistics table.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yairfalse/cyclictest/internal/rtenv"
	"github.com/yairfalse/cyclictest/internal/sampler"
	"github.com/yairfalse/cyclictest/internal/stats"
	"github.com/yairfalse/cyclictest/internal/timer"
	"github.com/yairfalse/cyclictest/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrAlreadyStarted is returned by Run on an orchestrator that already ran
var ErrAlreadyStarted = errors.New("orchestrator already started")

// State is the lifecycle state of an orchestrator
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Preparer is the environment setup the orchestrator depends on
type Preparer interface {
	Prepare(ctx context.Context) *rtenv.Report
	PrepareThread(params domain.RunParameters) error
}

// Config holds the parameters of one run
type Config struct {
	Threads  int
	Interval time.Duration
	Cycles   uint64
	Mode     domain.SleepMode

	Policy   domain.SchedulingPolicy
	Priority int
	// CPU pins every thread to one CPU, rtenv.NoCPU leaves affinity alone
	CPU int

	Layout       stats.Layout
	PublishEvery int

	// CancelOnFailure stops the remaining threads after the first failure
	CancelOnFailure bool
}

// NewDefaultConfig returns a single thread, 1ms, 1000 cycle run
func NewDefaultConfig() *Config {
	return &Config{
		Threads:      1,
		Interval:     time.Millisecond,
		Cycles:       1000,
		Mode:         domain.SleepModeClockNanosleep,
		Policy:       domain.PolicyFifo,
		Priority:     80,
		CPU:          rtenv.NoCPU,
		Layout:       stats.DefaultLayout(),
		PublishEvery: 1,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1, got %d", c.Threads)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if _, err := domain.ParseSleepMode(string(c.Mode)); err != nil {
		return err
	}
	if err := c.Layout.Validate(); err != nil {
		return err
	}
	if c.PublishEvery < 0 {
		return fmt.Errorf("publish_every cannot be negative, got %d", c.PublishEvery)
	}
	return nil
}

// Result is the outcome of one run
type Result struct {
	RunID    uuid.UUID        `json:"run_id" yaml:"run_id"`
	Mode     domain.SleepMode `json:"mode" yaml:"mode"`
	Interval time.Duration    `json:"interval" yaml:"interval"`
	Cycles   uint64           `json:"cycles" yaml:"cycles"`
	Layout   stats.Layout     `json:"layout" yaml:"layout"`

	Setup   *rtenv.Report             `json:"setup" yaml:"setup"`
	Threads []domain.ThreadStatistics `json:"threads" yaml:"threads"`

	Failures []*domain.WorkerFailure `json:"-" yaml:"-"`
	// Stopped lists threads canceled before their last cycle
	Stopped []int `json:"stopped,omitempty" yaml:"stopped,omitempty"`
	// Incomplete is set when any thread failed or stopped early
	Incomplete bool `json:"incomplete" yaml:"incomplete"`

	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// FailedThreads returns the indexes of failed threads in ascending order
func (r *Result) FailedThreads() []int {
	out := make([]int, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, f.Index)
	}
	sort.Ints(out)
	return out
}

// ClockFailed reports whether a thread died on a monotonic clock error,
// which invalidates every latency of the run
func (r *Result) ClockFailed() bool {
	for _, f := range r.Failures {
		if errors.Is(f, domain.ErrClock) {
			return true
		}
	}
	return false
}

// Orchestrator drives a single run through Idle, Running and Completed
type Orchestrator struct {
	config *Config
	env    Preparer
	logger *zap.Logger

	sleeper   sampler.Sleeper
	clock     timer.Clock
	probe     func() error
	metrics   *sampler.Metrics
	tracer    trace.Tracer
	warnEvery time.Duration
	warnBurst int

	state atomic.Int32
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithSleeper overrides the sleep primitive chosen by Config.Mode
func WithSleeper(s sampler.Sleeper) Option {
	return func(o *Orchestrator) {
		o.sleeper = s
	}
}

// WithClock replaces the clock of every sample loop and the startup probe
func WithClock(c timer.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
		o.probe = func() error { c.Now(); return nil }
	}
}

// WithMetrics records every sample on m
func WithMetrics(m *sampler.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer replaces the global tracer
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithWarningLimit bounds interrupted sleep warnings per thread
func WithWarningLimit(every time.Duration, burst int) Option {
	return func(o *Orchestrator) {
		o.warnEvery = every
		o.warnBurst = burst
	}
}

// New creates an idle orchestrator
func New(config *Config, env Preparer, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if env == nil {
		return nil, fmt.Errorf("environment is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		config: config,
		env:    env,
		logger: logger.Named("engine"),
		clock:  timer.Monotonic{},
		probe: func() error {
			_, err := timer.Read()
			return err
		},
		tracer: otel.Tracer("github.com/yairfalse/cyclictest/engine"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// State returns the current lifecycle state
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Run prepares the environment, runs every thread to completion and
// returns the collected statistics. A fatal setup failure returns the
// error with no threads spawned. Worker failures do not fail Run; they are
// reported in the Result, which is then marked incomplete.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, ErrAlreadyStarted
	}
	defer o.state.Store(int32(StateCompleted))

	cfg := o.config
	result := &Result{
		RunID:     uuid.New(),
		Mode:      cfg.Mode,
		Interval:  cfg.Interval,
		Cycles:    cfg.Cycles,
		Layout:    cfg.Layout,
		StartedAt: time.Now(),
	}
	logger := o.logger.With(zap.String("run_id", result.RunID.String()), zap.String("mode", string(cfg.Mode)))

	ctx, span := o.tracer.Start(ctx, "cyclictest.run", trace.WithAttributes(
		attribute.String("run.id", result.RunID.String()),
		attribute.String("run.mode", string(cfg.Mode)),
		attribute.Int("run.threads", cfg.Threads),
		attribute.Int64("run.interval_ns", int64(cfg.Interval)),
		attribute.Int64("run.cycles", int64(cfg.Cycles)),
	))
	defer span.End()

	if err := o.probeClock(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "clock unavailable")
		logger.Error("Monotonic clock unavailable", zap.Error(err))
		return result, err
	}

	result.Setup = o.env.Prepare(ctx)
	if err := result.Setup.Fatal(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "setup failed")
		logger.Error("Environment setup failed, not starting measurement", zap.Error(err))
		return result, fmt.Errorf("environment setup failed: %w", err)
	}
	if result.Setup.Degraded() {
		logger.Warn("Measuring in degraded mode", zap.Int("failed_steps", len(result.Setup.Failures())))
	}

	sleeper := o.sleeper
	if sleeper == nil {
		var err error
		if sleeper, err = sampler.NewSleeper(cfg.Mode); err != nil {
			span.RecordError(err)
			return result, err
		}
	}

	table, err := stats.NewTable(cfg.Threads, cfg.Layout)
	if err != nil {
		return result, err
	}

	params := make([]domain.RunParameters, cfg.Threads)
	loops := make([]*sampler.Loop, cfg.Threads)
	for i := range loops {
		params[i] = domain.RunParameters{
			Index:    i,
			Interval: cfg.Interval,
			Cycles:   cfg.Cycles,
			Mode:     cfg.Mode,
			Policy:   cfg.Policy,
			Priority: cfg.Priority,
			CPU:      cfg.CPU,
		}
		rec, err := table.Recorder(i, cfg.PublishEvery)
		if err != nil {
			return result, err
		}
		if loops[i], err = sampler.NewLoop(params[i], sleeper, rec, logger, o.loopOptions()...); err != nil {
			return result, fmt.Errorf("thread %d: %w", i, err)
		}
	}

	logger.Info("Starting measurement",
		zap.Int("threads", cfg.Threads),
		zap.Duration("interval", cfg.Interval),
		zap.Uint64("cycles", cfg.Cycles))

	g := newGroup(ctx, cfg.CancelOnFailure, logger)
	for i, loop := range loops {
		loop := loop
		p := params[i]
		g.Go(i, func(ctx context.Context) error {
			// The thread keeps its real-time attributes, so it is never
			// unlocked and the runtime retires it when the goroutine exits.
			runtime.LockOSThread()
			if err := o.env.PrepareThread(p); err != nil {
				logger.Warn("Thread setup incomplete", zap.Int("thread", p.Index), zap.Error(err))
			}
			return loop.Run(ctx)
		})
	}

	result.Failures, result.Stopped = g.Wait()
	sort.Ints(result.Stopped)
	result.Threads = table.Snapshot()
	result.Incomplete = len(result.Failures) > 0 || len(result.Stopped) > 0
	result.Duration = time.Since(result.StartedAt)

	span.SetAttributes(attribute.Bool("run.incomplete", result.Incomplete))
	if len(result.Failures) > 0 {
		for _, f := range result.Failures {
			span.RecordError(f, trace.WithAttributes(attribute.Int("thread", f.Index)))
		}
		span.SetStatus(codes.Error, fmt.Sprintf("%d threads failed", len(result.Failures)))
		logger.Error("Measurement incomplete", zap.Ints("failed_threads", result.FailedThreads()))
	} else {
		logger.Info("Measurement completed", zap.Duration("duration", result.Duration))
	}
	return result, nil
}

func (o *Orchestrator) loopOptions() []sampler.Option {
	opts := []sampler.Option{sampler.WithClock(o.clock)}
	if o.metrics != nil {
		opts = append(opts, sampler.WithMetrics(o.metrics))
	}
	if o.warnEvery > 0 {
		opts = append(opts, sampler.WithWarningLimit(o.warnEvery, o.warnBurst))
	}
	return opts
}

// probeClock fails with a ClockError when the monotonic clock cannot be
// read; a panic from a replacement clock counts the same
func (o *Orchestrator) probeClock() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("clock probe panicked: %v", r)
			}
		}
	}()
	if err := o.probe(); err != nil {
		var ce *domain.ClockError
		if errors.As(err, &ce) {
			return err
		}
		return &domain.ClockError{Err: err}
	}
	return nil
}
