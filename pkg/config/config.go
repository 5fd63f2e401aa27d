// Package config holds every knob of a cyclictest invocation and loads it
// from defaults, a YAML file, CYCLICTEST_* environment variables and flags.
package config

import (
	"fmt"
	"time"

	"github.com/yairfalse/cyclictest/pkg/domain"
	"go.uber.org/zap/zapcore"
)

// Config represents the main configuration structure
type Config struct {
	Threads  int           `yaml:"threads" json:"threads"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	Cycles   uint64        `yaml:"cycles" json:"cycles"`

	Modes ModesConfig `yaml:"modes" json:"modes"`

	Scheduling SchedulingConfig `yaml:"scheduling" json:"scheduling"`
	Setup      SetupConfig      `yaml:"setup" json:"setup"`
	Histogram  HistogramConfig  `yaml:"histogram" json:"histogram"`

	// PublishEvery batches samples per thread before taking the table lock
	PublishEvery    int  `yaml:"publish_every" json:"publish_every"`
	CancelOnFailure bool `yaml:"cancel_on_failure" json:"cancel_on_failure"`

	Output   string `yaml:"output" json:"output"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// ModesConfig selects the run modes. Every selected mode runs, in the
// order sleep, nanosleep, clock-nanosleep, then the benchmarks.
type ModesConfig struct {
	Sleep          bool `yaml:"sleep" json:"sleep"`
	Nanosleep      bool `yaml:"nanosleep" json:"nanosleep"`
	ClockNanosleep bool `yaml:"clock_nanosleep" json:"clock_nanosleep"`
	Bench          bool `yaml:"bench" json:"bench"`
}

// SchedulingConfig is applied to every measurement thread
type SchedulingConfig struct {
	Policy   string `yaml:"policy" json:"policy"`
	Priority int    `yaml:"priority" json:"priority"`
	// CPU pins the threads, -1 leaves affinity alone
	CPU int `yaml:"cpu" json:"cpu"`
}

// SetupConfig toggles the process-wide environment steps
type SetupConfig struct {
	LockMemory         bool   `yaml:"lock_memory" json:"lock_memory"`
	BlockSignal        bool   `yaml:"block_signal" json:"block_signal"`
	DisableIdle        bool   `yaml:"disable_idle" json:"disable_idle"`
	IdleControlPath    string `yaml:"idle_control_path" json:"idle_control_path"`
	RequireMemoryLock  bool   `yaml:"require_memory_lock" json:"require_memory_lock"`
	RequireIdleControl bool   `yaml:"require_idle_control" json:"require_idle_control"`
}

// HistogramConfig is the bucket layout of every thread's histogram
type HistogramConfig struct {
	Buckets     int           `yaml:"buckets" json:"buckets"`
	BucketWidth time.Duration `yaml:"bucket_width" json:"bucket_width"`
}

// TelemetryConfig selects exporters
type TelemetryConfig struct {
	Traces       string `yaml:"traces" json:"traces"`
	Metrics      string `yaml:"metrics" json:"metrics"`
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr"`
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure" json:"otlp_insecure"`
}

// Default returns the configuration used when nothing is set: one thread
// sampling clock_nanosleep every millisecond for 1000 cycles under
// SCHED_FIFO 80
func Default() *Config {
	return &Config{
		Threads:  1,
		Interval: time.Millisecond,
		Cycles:   1000,
		Modes: ModesConfig{
			ClockNanosleep: true,
		},
		Scheduling: SchedulingConfig{
			Policy:   string(domain.PolicyFifo),
			Priority: 80,
			CPU:      -1,
		},
		Setup: SetupConfig{
			LockMemory:      true,
			BlockSignal:     true,
			DisableIdle:     true,
			IdleControlPath: "/dev/cpu_dma_latency",
		},
		Histogram: HistogramConfig{
			Buckets:     16,
			BucketWidth: time.Microsecond,
		},
		PublishEvery: 1,
		Output:       "human",
		LogLevel:     "info",
		Telemetry: TelemetryConfig{
			Traces:       "none",
			Metrics:      "none",
			MetricsAddr:  ":9464",
			OTLPEndpoint: "localhost:4317",
			OTLPInsecure: true,
		},
	}
}

// SleepModes returns the selected sampling modes in run order
func (c *Config) SleepModes() []domain.SleepMode {
	var modes []domain.SleepMode
	if c.Modes.Sleep {
		modes = append(modes, domain.SleepModeDuration)
	}
	if c.Modes.Nanosleep {
		modes = append(modes, domain.SleepModeNanosleep)
	}
	if c.Modes.ClockNanosleep {
		modes = append(modes, domain.SleepModeClockNanosleep)
	}
	return modes
}

// Policy returns the parsed scheduling policy
func (c *Config) Policy() (domain.SchedulingPolicy, error) {
	return domain.ParseSchedulingPolicy(c.Scheduling.Policy)
}

// Validate returns ValidationErrors listing every invalid field
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Threads < 1 {
		errs.add("threads", c.Threads, "must be at least 1", "use --threads 1 or more")
	}
	if c.Interval <= 0 {
		errs.add("interval", c.Interval, "must be positive", "use an interval such as 1ms")
	}
	if len(c.SleepModes()) == 0 && !c.Modes.Bench {
		errs.add("modes", nil, "no run mode selected",
			"pass at least one of --sleep, --nanosleep, --clock-nanosleep, --bench",
			"sleep", "nanosleep", "clock_nanosleep", "bench")
	}

	policy, err := c.Policy()
	if err != nil {
		errs.add("scheduling.policy", c.Scheduling.Policy, err.Error(), "",
			string(domain.PolicyOther), string(domain.PolicyFifo), string(domain.PolicyRoundRobin), string(domain.PolicyIdle))
	} else if err := policy.ValidatePriority(c.Scheduling.Priority); err != nil {
		suggestion := fmt.Sprintf("use a priority in [%d, %d]", domain.MinRealtimePriority, domain.MaxRealtimePriority)
		if !policy.IsRealtime() {
			suggestion = "use priority 0 with non real-time policies"
		}
		errs.add("scheduling.priority", c.Scheduling.Priority, err.Error(), suggestion)
	}
	if c.Scheduling.CPU < -1 {
		errs.add("scheduling.cpu", c.Scheduling.CPU, "must be a CPU index or -1", "use -1 to leave affinity unchanged")
	}

	if c.Setup.DisableIdle && c.Setup.IdleControlPath == "" {
		errs.add("setup.idle_control_path", "", "required when disable_idle is set", "use /dev/cpu_dma_latency")
	}
	if c.Setup.RequireMemoryLock && !c.Setup.LockMemory {
		errs.add("setup.require_memory_lock", true, "memory locking is required but disabled", "enable setup.lock_memory")
	}
	if c.Setup.RequireIdleControl && !c.Setup.DisableIdle {
		errs.add("setup.require_idle_control", true, "idle control is required but disabled", "enable setup.disable_idle")
	}

	if c.Histogram.Buckets < 1 {
		errs.add("histogram.buckets", c.Histogram.Buckets, "must be at least 1", "the default is 16")
	}
	if c.Histogram.BucketWidth <= 0 {
		errs.add("histogram.bucket_width", c.Histogram.BucketWidth, "must be positive", "the default is 1us")
	}
	if c.PublishEvery < 1 {
		errs.add("publish_every", c.PublishEvery, "must be at least 1", "use 1 to publish every sample")
	}

	switch c.Output {
	case "human", "text", "json", "yaml", "yml":
	default:
		errs.add("output", c.Output, "unknown output format", "", "human", "json", "yaml")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs.add("log_level", c.LogLevel, err.Error(), "", "debug", "info", "warn", "error")
	}

	switch c.Telemetry.Traces {
	case "none", "stdout", "otlp":
	default:
		errs.add("telemetry.traces", c.Telemetry.Traces, "unknown trace exporter", "", "none", "stdout", "otlp")
	}
	switch c.Telemetry.Metrics {
	case "none", "stdout", "prometheus":
	default:
		errs.add("telemetry.metrics", c.Telemetry.Metrics, "unknown metric exporter", "", "none", "stdout", "prometheus")
	}

	if !errs.IsEmpty() {
		return errs
	}
	return nil
}
