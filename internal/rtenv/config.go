package rtenv

import (
	"fmt"

	"github.com/yairfalse/cyclictest/pkg/domain"
)

// DefaultIdleControlPath is the PM QoS interface that holds CPUs out of deep
// idle states while it stays open
const DefaultIdleControlPath = "/dev/cpu_dma_latency"

// NoCPU leaves CPU affinity untouched
const NoCPU = -1

// Config selects which setup steps run and how
type Config struct {
	LockMemory bool

	// Policy other skips the scheduling step
	Policy   domain.SchedulingPolicy
	Priority int

	// CPU pins measurement threads, NoCPU disables pinning
	CPU int

	// BlockSignal masks SIGALRM on measurement threads
	BlockSignal bool

	DisableIdle     bool
	IdleControlPath string

	// A required run treats failures of these steps as fatal
	RequireMemoryLock  bool
	RequireIdleControl bool
}

// NewDefaultConfig returns default configuration
func NewDefaultConfig() *Config {
	return &Config{
		LockMemory:      true,
		Policy:          domain.PolicyFifo,
		Priority:        80,
		CPU:             NoCPU,
		BlockSignal:     true,
		DisableIdle:     true,
		IdleControlPath: DefaultIdleControlPath,
	}
}

// Validate validates the configuration. Priority and CPU range problems are
// reported by Prepare as invalid parameter failures of their step.
func (c *Config) Validate() error {
	if c.Policy == "" {
		return fmt.Errorf("scheduling policy must be set")
	}
	if _, err := domain.ParseSchedulingPolicy(string(c.Policy)); err != nil {
		return err
	}
	if c.DisableIdle && c.IdleControlPath == "" {
		return fmt.Errorf("idle control path must be set when idle states are disabled")
	}
	return nil
}

func (c *Config) schedulingEnabled() bool {
	return c.Policy != domain.PolicyOther
}

func (c *Config) affinityEnabled() bool {
	return c.CPU != NoCPU
}
