package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/cyclictest/internal/rtenv"
	"github.com/yairfalse/cyclictest/internal/sampler"
	"github.com/yairfalse/cyclictest/internal/timer"
	"github.com/yairfalse/cyclictest/pkg/domain"
	"go.uber.org/zap/zaptest"
)

type fakeEnv struct {
	report   *rtenv.Report
	prepared atomic.Int32

	mu       sync.Mutex
	threads  []int
	onThread func(params domain.RunParameters) error
}

func healthyReport() *rtenv.Report {
	r := &rtenv.Report{}
	for _, step := range domain.AllSetupSteps {
		r.Steps = append(r.Steps, rtenv.StepResult{Step: step, Status: rtenv.StepOK})
	}
	return r
}

func (f *fakeEnv) Prepare(context.Context) *rtenv.Report {
	f.prepared.Add(1)
	if f.report == nil {
		return healthyReport()
	}
	return f.report
}

func (f *fakeEnv) PrepareThread(params domain.RunParameters) error {
	f.mu.Lock()
	f.threads = append(f.threads, params.Index)
	f.mu.Unlock()
	if f.onThread != nil {
		return f.onThread(params)
	}
	return nil
}

type countingSleeper struct {
	calls atomic.Int64
}

func (s *countingSleeper) Sleep(_ timer.Timestamp, interval time.Duration) (time.Duration, error) {
	s.calls.Add(1)
	time.Sleep(interval)
	return 0, nil
}

func testConfig(threads int, cycles uint64) *Config {
	cfg := NewDefaultConfig()
	cfg.Threads = threads
	cfg.Cycles = cycles
	cfg.Interval = 100 * time.Microsecond
	cfg.Mode = domain.SleepModeDuration
	return cfg
}

func TestRun_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("takes about a second")
	}
	cfg := testConfig(10, 1000)
	cfg.Interval = time.Millisecond
	env := &fakeEnv{}

	o, err := New(cfg, env, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, StateIdle, o.State())

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, o.State())

	assert.False(t, result.Incomplete)
	assert.Empty(t, result.Failures)
	require.Len(t, result.Threads, 10)
	for i, s := range result.Threads {
		assert.Equal(t, i, s.Thread)
		assert.Equal(t, uint64(1000), s.HistogramTotal()+s.Overflow, "thread %d", i)
		assert.GreaterOrEqual(t, s.Max, s.Min, "thread %d", i)
		assert.LessOrEqual(t, s.Min, s.Avg)
		assert.LessOrEqual(t, s.Avg, s.Max)
	}

	assert.Equal(t, int32(1), env.prepared.Load())
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, env.threads)
	assert.NotEqual(t, [16]byte{}, [16]byte(result.RunID))
}

func TestRun_ZeroCycles(t *testing.T) {
	sleeper := &countingSleeper{}
	o, err := New(testConfig(3, 0), &fakeEnv{}, zaptest.NewLogger(t), WithSleeper(sleeper))
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, sleeper.calls.Load())
	for _, s := range result.Threads {
		assert.True(t, s.Untouched())
		assert.Equal(t, uint64(domain.MinSentinel), s.Min)
		assert.Zero(t, s.Max)
		assert.Zero(t, s.Overflow)
	}
}

func TestRun_FatalSetupSpawnsNothing(t *testing.T) {
	report := healthyReport()
	report.Steps[1] = rtenv.StepResult{
		Step:   domain.StepSchedPolicy,
		Status: rtenv.StepFailed,
		Fatal:  true,
		Err:    domain.NewSetupErrorKind(domain.StepSchedPolicy, domain.KindInvalidParameter, errors.New("priority 150 out of range")),
	}
	env := &fakeEnv{report: report}
	sleeper := &countingSleeper{}

	o, err := New(testConfig(4, 10), env, zaptest.NewLogger(t), WithSleeper(sleeper))
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	require.NotNil(t, result)
	assert.Same(t, report, result.Setup)
	assert.Nil(t, result.Threads)
	assert.Empty(t, env.threads)
	assert.Zero(t, sleeper.calls.Load())
	assert.Equal(t, StateCompleted, o.State())
}

func TestRun_DegradedSetupStillMeasures(t *testing.T) {
	report := healthyReport()
	report.Steps[0] = rtenv.StepResult{
		Step:   domain.StepLockMemory,
		Status: rtenv.StepFailed,
		Err:    domain.NewSetupError(domain.StepLockMemory, syscall.EPERM),
	}
	o, err := New(testConfig(2, 5), &fakeEnv{report: report}, zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Setup.Degraded())
	for _, s := range result.Threads {
		assert.Equal(t, uint64(5), s.Count)
	}
}

func TestRun_ClockProbeFailure(t *testing.T) {
	env := &fakeEnv{}
	o, err := New(testConfig(2, 5), env, zaptest.NewLogger(t), WithClock(brokenClock{}))
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrClock)
	assert.Zero(t, env.prepared.Load(), "setup must not run without a clock")
}

type brokenClock struct{}

func (brokenClock) Now() timer.Timestamp {
	panic(&domain.ClockError{Err: syscall.EINVAL})
}

func TestRun_AlreadyStarted(t *testing.T) {
	o, err := New(testConfig(1, 1), &fakeEnv{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestRun_WorkerPanicIsReported(t *testing.T) {
	env := &fakeEnv{onThread: func(p domain.RunParameters) error {
		if p.Index == 1 {
			panic(&domain.ClockError{Err: syscall.EFAULT})
		}
		return nil
	}}
	o, err := New(testConfig(3, 20), env, zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Incomplete)
	assert.Equal(t, []int{1}, result.FailedThreads())
	assert.True(t, result.ClockFailed())
	require.Len(t, result.Failures, 1)
	assert.NotEmpty(t, result.Failures[0].Stack)

	// siblings are not canceled by default
	assert.Equal(t, uint64(20), result.Threads[0].Count)
	assert.Equal(t, uint64(20), result.Threads[2].Count)
	assert.True(t, result.Threads[1].Untouched())
	assert.Empty(t, result.Stopped)
}

func TestRun_WorkerErrorWithoutClockFailure(t *testing.T) {
	sleeper := &failingSleeper{err: syscall.EINVAL}
	o, err := New(testConfig(2, 3), &fakeEnv{}, zaptest.NewLogger(t), WithSleeper(sleeper))
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Incomplete)
	assert.ElementsMatch(t, []int{0, 1}, result.FailedThreads())
	assert.False(t, result.ClockFailed())
	assert.ErrorIs(t, result.Failures[0], syscall.EINVAL)
}

type failingSleeper struct {
	err error
}

func (s *failingSleeper) Sleep(timer.Timestamp, time.Duration) (time.Duration, error) {
	return 0, s.err
}

func TestRun_CancelOnFailure(t *testing.T) {
	cfg := testConfig(3, 1_000_000)
	cfg.Interval = time.Millisecond
	cfg.CancelOnFailure = true
	env := &fakeEnv{onThread: func(p domain.RunParameters) error {
		if p.Index == 0 {
			panic("boom")
		}
		return nil
	}}

	o, err := New(cfg, env, zaptest.NewLogger(t))
	require.NoError(t, err)

	done := make(chan struct{})
	var result *Result
	go func() {
		defer close(done)
		result, err = o.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("siblings were not canceled")
	}
	require.NoError(t, err)
	assert.True(t, result.Incomplete)
	assert.Equal(t, []int{0}, result.FailedThreads())
	assert.False(t, result.ClockFailed())
	assert.Equal(t, []int{1, 2}, result.Stopped)
}

func TestRun_ParentCancelStopsThreads(t *testing.T) {
	cfg := testConfig(2, 1_000_000)
	o, err := New(cfg, &fakeEnv{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := o.Run(ctx)
	require.NoError(t, err)
	assert.True(t, result.Incomplete)
	assert.Empty(t, result.Failures)
	assert.Equal(t, []int{0, 1}, result.Stopped)
	for _, s := range result.Threads {
		assert.Less(t, s.Count, uint64(1_000_000))
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no threads", mutate: func(c *Config) { c.Threads = 0 }},
		{name: "zero interval", mutate: func(c *Config) { c.Interval = 0 }},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "spin" }},
		{name: "empty histogram", mutate: func(c *Config) { c.Layout.Buckets = 0 }},
		{name: "negative publish", mutate: func(c *Config) { c.PublishEvery = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			_, err := New(cfg, &fakeEnv{}, zaptest.NewLogger(t))
			assert.Error(t, err)
		})
	}

	_, err := New(nil, nil, nil)
	assert.Error(t, err, "environment is required")
}

func TestRun_UsesModeSleeper(t *testing.T) {
	cfg := testConfig(1, 3)
	o, err := New(cfg, &fakeEnv{}, zaptest.NewLogger(t), WithSleeper(sampler.DurationSleeper{}))
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SleepModeDuration, result.Mode)
	assert.Equal(t, uint64(3), result.Threads[0].Count)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "state(7)", State(7).String())
}
