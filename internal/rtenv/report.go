package rtenv

import (
	"errors"
	"fmt"

	"github.com/yairfalse/cyclictest/pkg/domain"
)

// StepStatus is the outcome of one setup step
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
)

// StepResult records one setup step
type StepResult struct {
	Step   domain.SetupStep `json:"step" yaml:"step"`
	Status StepStatus       `json:"status" yaml:"status"`
	Fatal  bool             `json:"fatal,omitempty" yaml:"fatal,omitempty"`
	Detail string           `json:"detail,omitempty" yaml:"detail,omitempty"`

	Err *domain.SetupError `json:"-" yaml:"-"`
}

// Report collects the outcome of every setup step. It is built before any
// measurement thread is spawned.
type Report struct {
	Steps []StepResult `json:"steps" yaml:"steps"`

	// EffectivePolicy is read back after the scheduling step
	EffectivePolicy   domain.SchedulingPolicy `json:"effective_policy,omitempty" yaml:"effective_policy,omitempty"`
	EffectivePriority int                     `json:"effective_priority,omitempty" yaml:"effective_priority,omitempty"`
}

func (r *Report) add(res StepResult) {
	r.Steps = append(r.Steps, res)
}

// Step returns the result of one step
func (r *Report) Step(step domain.SetupStep) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Step == step {
			return s, true
		}
	}
	return StepResult{}, false
}

// Failures returns every failed step's error in execution order
func (r *Report) Failures() []*domain.SetupError {
	var out []*domain.SetupError
	for _, s := range r.Steps {
		if s.Status == StepFailed && s.Err != nil {
			out = append(out, s.Err)
		}
	}
	return out
}

// Fatal joins the errors of fatal steps, nil when measurement may start
func (r *Report) Fatal() error {
	var errs []error
	for _, s := range r.Steps {
		if s.Fatal && s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errors.Join(errs...)
}

// Degraded reports whether a non-fatal step failed
func (r *Report) Degraded() bool {
	for _, s := range r.Steps {
		if s.Status == StepFailed && !s.Fatal {
			return true
		}
	}
	return false
}

// Health summarizes the report: healthy when every step succeeded or was
// skipped, degraded with non-fatal failures, unhealthy with fatal ones
func (r *Report) Health() *domain.HealthStatus {
	if err := r.Fatal(); err != nil {
		hs := domain.NewUnhealthyStatus("real-time environment setup failed", err)
		hs.Component = "rtenv"
		return hs
	}

	var hs *domain.HealthStatus
	if r.Degraded() {
		failures := r.Failures()
		hs = domain.NewHealthStatus(domain.HealthDegraded,
			fmt.Sprintf("%d setup steps failed, measuring in degraded mode", len(failures)))
		for _, f := range failures {
			hs.RecordError(f)
		}
	} else {
		hs = domain.NewHealthyStatus("real-time environment prepared")
	}
	hs.Component = "rtenv"
	for _, s := range r.Steps {
		hs.SetDetail(string(s.Step), string(s.Status))
	}
	return hs
}
