package domain

import (
	"fmt"
	"strings"
)

// SchedulingPolicy is the closed set of scheduling classes a measurement
// thread can request. The OS constant behind each value is resolved by the
// platform layer and is not part of this type.
type SchedulingPolicy string

const (
	PolicyOther      SchedulingPolicy = "other"
	PolicyFifo       SchedulingPolicy = "fifo"
	PolicyRoundRobin SchedulingPolicy = "rr"
	PolicyIdle       SchedulingPolicy = "idle"
)

const (
	// MinRealtimePriority and MaxRealtimePriority bound the static priority
	// accepted for fifo and rr
	MinRealtimePriority = 1
	MaxRealtimePriority = 99
)

// ParseSchedulingPolicy maps a user supplied name onto a policy
func ParseSchedulingPolicy(s string) (SchedulingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "other", "normal", "":
		return PolicyOther, nil
	case "fifo":
		return PolicyFifo, nil
	case "rr", "roundrobin", "round-robin":
		return PolicyRoundRobin, nil
	case "idle":
		return PolicyIdle, nil
	default:
		return "", fmt.Errorf("unknown scheduling policy %q", s)
	}
}

// IsRealtime reports whether the policy is a fixed-priority real-time class
func (p SchedulingPolicy) IsRealtime() bool {
	return p == PolicyFifo || p == PolicyRoundRobin
}

// ValidatePriority checks that priority is legal for the policy
func (p SchedulingPolicy) ValidatePriority(priority int) error {
	if p.IsRealtime() {
		if priority < MinRealtimePriority || priority > MaxRealtimePriority {
			return fmt.Errorf("priority %d out of range [%d, %d] for policy %s",
				priority, MinRealtimePriority, MaxRealtimePriority, p)
		}
		return nil
	}
	if priority != 0 {
		return fmt.Errorf("policy %s requires priority 0, got %d", p, priority)
	}
	return nil
}

func (p SchedulingPolicy) String() string {
	return string(p)
}

// SleepMode selects the sleep primitive a sample loop exercises
type SleepMode string

const (
	// SleepModeDuration is the generic duration based sleep of the runtime
	SleepModeDuration SleepMode = "sleep"
	// SleepModeNanosleep is a relative clock_nanosleep on the monotonic clock
	SleepModeNanosleep SleepMode = "nanosleep"
	// SleepModeClockNanosleep is an absolute clock_nanosleep targeting
	// start + interval on the monotonic clock
	SleepModeClockNanosleep SleepMode = "clock-nanosleep"
)

// AllSleepModes lists the modes in the order they run within one invocation
var AllSleepModes = []SleepMode{SleepModeDuration, SleepModeNanosleep, SleepModeClockNanosleep}

// ParseSleepMode maps a user supplied name onto a sleep mode
func ParseSleepMode(s string) (SleepMode, error) {
	switch SleepMode(strings.ToLower(strings.TrimSpace(s))) {
	case SleepModeDuration:
		return SleepModeDuration, nil
	case SleepModeNanosleep:
		return SleepModeNanosleep, nil
	case SleepModeClockNanosleep:
		return SleepModeClockNanosleep, nil
	default:
		return "", fmt.Errorf("unknown sleep mode %q", s)
	}
}

// Description is the heading printed above a mode's results
func (m SleepMode) Description() string {
	switch m {
	case SleepModeDuration:
		return "sleep"
	case SleepModeNanosleep:
		return "clock_nanosleep"
	case SleepModeClockNanosleep:
		return "clock_nanosleep clock_gettime"
	default:
		return string(m)
	}
}

func (m SleepMode) String() string {
	return string(m)
}
