package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, CYCLICTEST_THREADS etc.
const EnvPrefix = "CYCLICTEST"

// SetDefaults registers Default on v so every key resolves even without a
// file, variable or flag
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("threads", d.Threads)
	v.SetDefault("interval", d.Interval)
	v.SetDefault("cycles", d.Cycles)

	v.SetDefault("modes.sleep", d.Modes.Sleep)
	v.SetDefault("modes.nanosleep", d.Modes.Nanosleep)
	v.SetDefault("modes.clock_nanosleep", d.Modes.ClockNanosleep)
	v.SetDefault("modes.bench", d.Modes.Bench)

	v.SetDefault("scheduling.policy", d.Scheduling.Policy)
	v.SetDefault("scheduling.priority", d.Scheduling.Priority)
	v.SetDefault("scheduling.cpu", d.Scheduling.CPU)

	v.SetDefault("setup.lock_memory", d.Setup.LockMemory)
	v.SetDefault("setup.block_signal", d.Setup.BlockSignal)
	v.SetDefault("setup.disable_idle", d.Setup.DisableIdle)
	v.SetDefault("setup.idle_control_path", d.Setup.IdleControlPath)
	v.SetDefault("setup.require_memory_lock", d.Setup.RequireMemoryLock)
	v.SetDefault("setup.require_idle_control", d.Setup.RequireIdleControl)

	v.SetDefault("histogram.buckets", d.Histogram.Buckets)
	v.SetDefault("histogram.bucket_width", d.Histogram.BucketWidth)

	v.SetDefault("publish_every", d.PublishEvery)
	v.SetDefault("cancel_on_failure", d.CancelOnFailure)
	v.SetDefault("output", d.Output)
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("telemetry.traces", d.Telemetry.Traces)
	v.SetDefault("telemetry.metrics", d.Telemetry.Metrics)
	v.SetDefault("telemetry.metrics_addr", d.Telemetry.MetricsAddr)
	v.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint)
	v.SetDefault("telemetry.otlp_insecure", d.Telemetry.OTLPInsecure)
}

// BindEnv makes v read CYCLICTEST_* variables, nested keys joined with "_"
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// ReadFile reads the config file v was pointed at. A missing file found
// by search is not an error; an explicit file that cannot be read is.
func ReadFile(v *viper.Viper) (string, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", NewConfigFileError("read", v.ConfigFileUsed(), err.Error(),
			"check the file exists and is valid YAML").WithCause(err)
	}
	return v.ConfigFileUsed(), nil
}

// Load builds a validated Config from v
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		Threads:  v.GetInt("threads"),
		Interval: v.GetDuration("interval"),
		Cycles:   v.GetUint64("cycles"),
		Modes: ModesConfig{
			Sleep:          v.GetBool("modes.sleep"),
			Nanosleep:      v.GetBool("modes.nanosleep"),
			ClockNanosleep: v.GetBool("modes.clock_nanosleep"),
			Bench:          v.GetBool("modes.bench"),
		},
		Scheduling: SchedulingConfig{
			Policy:   v.GetString("scheduling.policy"),
			Priority: v.GetInt("scheduling.priority"),
			CPU:      v.GetInt("scheduling.cpu"),
		},
		Setup: SetupConfig{
			LockMemory:         v.GetBool("setup.lock_memory"),
			BlockSignal:        v.GetBool("setup.block_signal"),
			DisableIdle:        v.GetBool("setup.disable_idle"),
			IdleControlPath:    v.GetString("setup.idle_control_path"),
			RequireMemoryLock:  v.GetBool("setup.require_memory_lock"),
			RequireIdleControl: v.GetBool("setup.require_idle_control"),
		},
		Histogram: HistogramConfig{
			Buckets:     v.GetInt("histogram.buckets"),
			BucketWidth: v.GetDuration("histogram.bucket_width"),
		},
		PublishEvery:    v.GetInt("publish_every"),
		CancelOnFailure: v.GetBool("cancel_on_failure"),
		Output:          v.GetString("output"),
		LogLevel:        v.GetString("log_level"),
		Telemetry: TelemetryConfig{
			Traces:       v.GetString("telemetry.traces"),
			Metrics:      v.GetString("telemetry.metrics"),
			MetricsAddr:  v.GetString("telemetry.metrics_addr"),
			OTLPEndpoint: v.GetString("telemetry.otlp_endpoint"),
			OTLPInsecure: v.GetBool("telemetry.otlp_insecure"),
		},
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
