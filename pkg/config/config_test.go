package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/cyclictest/pkg/domain"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []domain.SleepMode{domain.SleepModeClockNanosleep}, cfg.SleepModes())

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, domain.PolicyFifo, policy)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "no threads", mutate: func(c *Config) { c.Threads = 0 }, field: "threads"},
		{name: "negative interval", mutate: func(c *Config) { c.Interval = -time.Millisecond }, field: "interval"},
		{name: "no modes", mutate: func(c *Config) { c.Modes = ModesConfig{} }, field: "modes"},
		{name: "unknown policy", mutate: func(c *Config) { c.Scheduling.Policy = "deadline" }, field: "scheduling.policy"},
		{name: "fifo priority too high", mutate: func(c *Config) { c.Scheduling.Priority = 100 }, field: "scheduling.priority"},
		{name: "other with priority", mutate: func(c *Config) {
			c.Scheduling.Policy = "other"
			c.Scheduling.Priority = 10
		}, field: "scheduling.priority"},
		{name: "cpu below -1", mutate: func(c *Config) { c.Scheduling.CPU = -2 }, field: "scheduling.cpu"},
		{name: "required lock disabled", mutate: func(c *Config) {
			c.Setup.LockMemory = false
			c.Setup.RequireMemoryLock = true
		}, field: "setup.require_memory_lock"},
		{name: "required idle disabled", mutate: func(c *Config) {
			c.Setup.DisableIdle = false
			c.Setup.RequireIdleControl = true
		}, field: "setup.require_idle_control"},
		{name: "missing idle path", mutate: func(c *Config) { c.Setup.IdleControlPath = "" }, field: "setup.idle_control_path"},
		{name: "zero buckets", mutate: func(c *Config) { c.Histogram.Buckets = 0 }, field: "histogram.buckets"},
		{name: "zero bucket width", mutate: func(c *Config) { c.Histogram.BucketWidth = 0 }, field: "histogram.bucket_width"},
		{name: "zero publish", mutate: func(c *Config) { c.PublishEvery = 0 }, field: "publish_every"},
		{name: "bad output", mutate: func(c *Config) { c.Output = "xml" }, field: "output"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, field: "log_level"},
		{name: "bad traces", mutate: func(c *Config) { c.Telemetry.Traces = "zipkin" }, field: "telemetry.traces"},
		{name: "bad metrics", mutate: func(c *Config) { c.Telemetry.Metrics = "statsd" }, field: "telemetry.metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			_, ok := verrs.Field(tt.field)
			assert.True(t, ok, "expected error on %s, got %v", tt.field, err)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Threads = 0
	cfg.Output = "xml"

	err := cfg.Validate()
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, 2, verrs.Count())
	assert.Contains(t, err.Error(), "multiple validation errors")
	assert.NotEmpty(t, verrs.GetFixSuggestions())
}

func TestBenchOnlyIsValid(t *testing.T) {
	cfg := Default()
	cfg.Modes = ModesConfig{Bench: true}
	assert.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.SleepModes())
}

func TestSleepModes_Order(t *testing.T) {
	cfg := Default()
	cfg.Modes = ModesConfig{Sleep: true, Nanosleep: true, ClockNanosleep: true}
	assert.Equal(t, []domain.SleepMode{
		domain.SleepModeDuration,
		domain.SleepModeNanosleep,
		domain.SleepModeClockNanosleep,
	}, cfg.SleepModes())
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".cyclictest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
threads: 4
interval: 500us
cycles: 20000
modes:
  sleep: true
  clock_nanosleep: false
scheduling:
  policy: rr
  priority: 50
  cpu: 2
histogram:
  buckets: 32
publish_every: 64
telemetry:
  metrics: prometheus
`), 0o600))

	t.Setenv("CYCLICTEST_CYCLES", "300")
	t.Setenv("CYCLICTEST_SCHEDULING_PRIORITY", "60")

	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	v.SetConfigFile(path)

	used, err := ReadFile(v)
	require.NoError(t, err)
	assert.Equal(t, path, used)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, 500*time.Microsecond, cfg.Interval)
	assert.Equal(t, uint64(300), cfg.Cycles, "environment overrides the file")
	assert.Equal(t, []domain.SleepMode{domain.SleepModeDuration}, cfg.SleepModes())
	assert.Equal(t, "rr", cfg.Scheduling.Policy)
	assert.Equal(t, 60, cfg.Scheduling.Priority)
	assert.Equal(t, 2, cfg.Scheduling.CPU)
	assert.Equal(t, 32, cfg.Histogram.Buckets)
	assert.Equal(t, time.Microsecond, cfg.Histogram.BucketWidth)
	assert.Equal(t, 64, cfg.PublishEvery)
	assert.Equal(t, "prometheus", cfg.Telemetry.Metrics)
}

func TestReadFile_MissingSearchedFileIsFine(t *testing.T) {
	v := viper.New()
	v.AddConfigPath(t.TempDir())
	v.SetConfigName(".cyclictest")
	v.SetConfigType("yaml")

	used, err := ReadFile(v)
	require.NoError(t, err)
	assert.Empty(t, used)
}

func TestReadFile_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threads: [unclosed"), 0o600))

	v := viper.New()
	v.SetConfigFile(path)

	_, err := ReadFile(v)
	var cerr ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, path, cerr.File)
}

func TestLoad_Invalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("threads", 0)

	_, err := Load(v)
	assert.Error(t, err)
}
