package cli

import (
	"github.com/yairfalse/cyclictest/internal/engine"
	"github.com/yairfalse/cyclictest/internal/rtenv"
	"github.com/yairfalse/cyclictest/internal/stats"
	"github.com/yairfalse/cyclictest/internal/telemetry"
	"github.com/yairfalse/cyclictest/pkg/config"
	"github.com/yairfalse/cyclictest/pkg/domain"
)

func rtenvConfig(cfg *config.Config) *rtenv.Config {
	// cfg is validated, the policy parses
	policy, _ := cfg.Policy()
	return &rtenv.Config{
		LockMemory:         cfg.Setup.LockMemory,
		Policy:             policy,
		Priority:           cfg.Scheduling.Priority,
		CPU:                cfg.Scheduling.CPU,
		BlockSignal:        cfg.Setup.BlockSignal,
		DisableIdle:        cfg.Setup.DisableIdle,
		IdleControlPath:    cfg.Setup.IdleControlPath,
		RequireMemoryLock:  cfg.Setup.RequireMemoryLock,
		RequireIdleControl: cfg.Setup.RequireIdleControl,
	}
}

func engineConfig(cfg *config.Config, mode domain.SleepMode) *engine.Config {
	policy, _ := cfg.Policy()
	return &engine.Config{
		Threads:         cfg.Threads,
		Interval:        cfg.Interval,
		Cycles:          cfg.Cycles,
		Mode:            mode,
		Policy:          policy,
		Priority:        cfg.Scheduling.Priority,
		CPU:             cfg.Scheduling.CPU,
		Layout:          histogramLayout(cfg),
		PublishEvery:    cfg.PublishEvery,
		CancelOnFailure: cfg.CancelOnFailure,
	}
}

func histogramLayout(cfg *config.Config) stats.Layout {
	return stats.Layout{
		Buckets:     cfg.Histogram.Buckets,
		BucketWidth: cfg.Histogram.BucketWidth,
	}
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = getVersion()
	tc.TraceExporter = cfg.Telemetry.Traces
	tc.MetricExporter = cfg.Telemetry.Metrics
	tc.MetricsAddr = cfg.Telemetry.MetricsAddr
	tc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	tc.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	return tc
}
