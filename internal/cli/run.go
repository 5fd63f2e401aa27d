package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yairfalse/cyclictest/internal/allocbench"
	"github.com/yairfalse/cyclictest/internal/engine"
	"github.com/yairfalse/cyclictest/internal/output"
	"github.com/yairfalse/cyclictest/internal/rtenv"
	"github.com/yairfalse/cyclictest/internal/sampler"
	"github.com/yairfalse/cyclictest/internal/telemetry"
	"github.com/yairfalse/cyclictest/pkg/config"
	"github.com/yairfalse/cyclictest/pkg/shutdown"
)

const cleanupTimeout = 10 * time.Second

func newRunCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Measure wakeup latency of timed sleeps",
		Long: `Run prepares the real-time environment once, then runs every selected
mode in turn: each mode spawns the measurement threads, waits for them to
finish their cycles and prints the latency histogram.`,
		Example: `  # 4 threads, 10000 cycles of absolute clock_nanosleep at SCHED_FIFO 90
  cyclictest run --clock-nanosleep -t 4 -l 10000 -p 90

  # Compare every sleep primitive, pinned to CPU 2
  cyclictest run --sleep --nanosleep --clock-nanosleep -a 2

  # Unprivileged smoke test with JSON output
  cyclictest run --policy other --priority 0 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			selectModes(v, cmd.Flags())
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return runMeasurements(cmd, cfg)
		},
	}

	d := config.Default()
	f := cmd.Flags()
	f.IntP("threads", "t", d.Threads, "number of measurement threads")
	f.DurationP("interval", "i", d.Interval, "sleep interval per cycle")
	f.Uint64P("cycles", "l", d.Cycles, "cycles per thread")

	f.Bool("sleep", false, "measure the Go runtime sleep")
	f.Bool("nanosleep", false, "measure relative clock_nanosleep")
	f.Bool("clock-nanosleep", false, "measure absolute clock_nanosleep (default mode)")
	f.Bool("bench", false, "run the allocation benchmarks after the measurements")

	f.String("policy", d.Scheduling.Policy, "scheduling policy: other, fifo, rr, idle")
	f.IntP("priority", "p", d.Scheduling.Priority, "real-time priority, 1-99 for fifo and rr")
	f.IntP("cpu", "a", d.Scheduling.CPU, "pin threads to this CPU, -1 to leave affinity alone")

	f.Bool("lock-memory", d.Setup.LockMemory, "lock current and future pages in memory")
	f.Bool("require-lock-memory", d.Setup.RequireMemoryLock, "abort when memory cannot be locked")
	f.Bool("block-signal", d.Setup.BlockSignal, "block SIGALRM on measurement threads")
	f.Bool("disable-idle", d.Setup.DisableIdle, "keep CPUs out of deep idle states during the run")
	f.String("idle-control-path", d.Setup.IdleControlPath, "idle power control device")
	f.Bool("require-idle-control", d.Setup.RequireIdleControl, "abort when idle states cannot be disabled")

	f.Int("buckets", d.Histogram.Buckets, "histogram buckets")
	f.Duration("bucket-width", d.Histogram.BucketWidth, "histogram bucket width")
	f.Int("publish-every", d.PublishEvery, "samples a thread batches before publishing to the table")
	f.Bool("cancel-on-failure", d.CancelOnFailure, "stop every thread when one fails")

	f.String("telemetry-metrics", d.Telemetry.Metrics, "metric exporter: none, prometheus, stdout")
	f.String("telemetry-traces", d.Telemetry.Traces, "trace exporter: none, stdout, otlp")
	f.String("metrics-addr", d.Telemetry.MetricsAddr, "listen address of the prometheus /metrics endpoint")
	f.String("otlp-endpoint", d.Telemetry.OTLPEndpoint, "OTLP/gRPC trace receiver")

	bindFlags(v, f, map[string]string{
		"threads":                    "threads",
		"interval":                   "interval",
		"cycles":                     "cycles",
		"modes.sleep":                "sleep",
		"modes.nanosleep":            "nanosleep",
		"modes.clock_nanosleep":      "clock-nanosleep",
		"modes.bench":                "bench",
		"scheduling.policy":          "policy",
		"scheduling.priority":        "priority",
		"scheduling.cpu":             "cpu",
		"setup.lock_memory":          "lock-memory",
		"setup.require_memory_lock":  "require-lock-memory",
		"setup.block_signal":         "block-signal",
		"setup.disable_idle":         "disable-idle",
		"setup.idle_control_path":    "idle-control-path",
		"setup.require_idle_control": "require-idle-control",
		"histogram.buckets":          "buckets",
		"histogram.bucket_width":     "bucket-width",
		"publish_every":              "publish-every",
		"cancel_on_failure":          "cancel-on-failure",
		"telemetry.metrics":          "telemetry-metrics",
		"telemetry.traces":           "telemetry-traces",
		"telemetry.metrics_addr":     "metrics-addr",
		"telemetry.otlp_endpoint":    "otlp-endpoint",
	})
	return cmd
}

func runMeasurements(cmd *cobra.Command, cfg *config.Config) (err error) {
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	handler := shutdown.NewHandler(cleanupTimeout, logger)
	handler.Start()
	defer func() {
		if serr := handler.Shutdown(); serr != nil && err == nil {
			logger.Warn("Cleanup incomplete", zap.Error(serr))
		}
	}()
	ctx := handler.Context()

	tel, err := telemetry.Init(ctx, telemetryConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	handler.Register("telemetry", tel.Shutdown)
	if err := tel.Serve(); err != nil {
		return err
	}

	env, err := rtenv.New(rtenvConfig(cfg), logger)
	if err != nil {
		return err
	}
	handler.Register("idle-control", func(context.Context) error { return env.Close() })

	var metrics *sampler.Metrics
	if tel.MetricsEnabled() {
		metrics = sampler.NewMetrics(tel.Meter("github.com/yairfalse/cyclictest/sampler"), histogramLayout(cfg).Range(), logger)
	}
	tracer := tel.Tracer("github.com/yairfalse/cyclictest/engine")
	formatter := output.NewFormatterWithWriter(cfg.Output, cmd.OutOrStdout())

	for _, mode := range cfg.SleepModes() {
		o, err := engine.New(engineConfig(cfg, mode), env, logger,
			engine.WithMetrics(metrics),
			engine.WithTracer(tracer))
		if err != nil {
			return err
		}

		result, runErr := o.Run(ctx)
		if result != nil && (runErr == nil || result.Setup != nil) {
			if err := formatter.PrintRun(result); err != nil {
				return fmt.Errorf("failed to render results: %w", err)
			}
		}
		if runErr != nil {
			return fmt.Errorf("%s run aborted: %w", mode, runErr)
		}
		if result.ClockFailed() {
			return fmt.Errorf("%s run invalid: monotonic clock failed on threads %v", mode, result.FailedThreads())
		}
		if ctx.Err() != nil {
			return errors.New("interrupted")
		}
	}

	if cfg.Modes.Bench {
		return runBench(ctx, formatter, logger)
	}
	return nil
}

func runBench(ctx context.Context, formatter output.Formatter, logger *zap.Logger) error {
	results, err := allocbench.NewRunner(logger).Run(ctx, allocbench.DefaultCases())
	if err != nil {
		return fmt.Errorf("allocation benchmarks: %w", err)
	}
	return formatter.PrintBench(results)
}
