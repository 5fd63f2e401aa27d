// Package rtenv prepares the process for low-jitter latency measurement:
// memory locking, real-time scheduling, CPU pinning, SIGALRM masking and
// holding CPUs out of deep idle states.
package rtenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"syscall"

	"github.com/yairfalse/cyclictest/pkg/domain"
	"go.uber.org/zap"
)

// system is the platform layer behind every setup step. Thread scoped
// calls act on the calling OS thread.
type system interface {
	lockMemory() error
	setScheduler(policy domain.SchedulingPolicy, priority int) error
	getScheduler() (domain.SchedulingPolicy, int, error)
	setAffinity(cpu int) error
	blockSignal() error
	openIdleControl(path string) (io.WriteCloser, error)
}

// Environment runs the setup sequence once per process and keeps the idle
// control handle open until Close
type Environment struct {
	config *Config
	logger *zap.Logger
	sys    system

	once   sync.Once
	report *Report
	idle   *IdleHandle
}

// New creates an environment for the platform the binary runs on
func New(config *Config, logger *zap.Logger) (*Environment, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	return &Environment{
		config: config,
		logger: logger.Named("rtenv"),
		sys:    newSystem(),
	}, nil
}

// Config returns the environment configuration
func (e *Environment) Config() *Config {
	return e.config
}

// Prepare runs the setup sequence. Only the first call does work; later
// calls return the same report. Thread scoped steps run on a dedicated
// locked OS thread that is discarded afterwards, which classifies their
// failures before any measurement thread exists; PrepareThread applies them
// to each measurement thread.
func (e *Environment) Prepare(ctx context.Context) *Report {
	e.once.Do(func() {
		e.report = e.prepare(ctx)
	})
	return e.report
}

func (e *Environment) prepare(ctx context.Context) *Report {
	report := &Report{}

	report.add(e.runStep(ctx, domain.StepLockMemory, e.config.LockMemory, e.config.RequireMemoryLock, func() (string, error) {
		if err := e.sys.lockMemory(); err != nil {
			return "", err
		}
		return "current and future pages locked", nil
	}))

	// The probe goroutine never unlocks its thread so the runtime terminates
	// the thread when the goroutine returns.
	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()

		report.add(e.runStep(ctx, domain.StepSchedPolicy, e.config.schedulingEnabled(), false, func() (string, error) {
			if err := e.config.Policy.ValidatePriority(e.config.Priority); err != nil {
				return "", domain.NewSetupErrorKind(domain.StepSchedPolicy, domain.KindInvalidParameter, err)
			}
			if err := e.sys.setScheduler(e.config.Policy, e.config.Priority); err != nil {
				return "", err
			}
			policy, priority, err := e.sys.getScheduler()
			if err != nil {
				return "", fmt.Errorf("failed to read back scheduling policy: %w", err)
			}
			report.EffectivePolicy = policy
			report.EffectivePriority = priority
			return fmt.Sprintf("effective policy %s priority %d", policy, priority), nil
		}))

		report.add(e.runStep(ctx, domain.StepAffinity, e.config.affinityEnabled(), false, func() (string, error) {
			if err := e.sys.setAffinity(e.config.CPU); err != nil {
				return "", err
			}
			return fmt.Sprintf("pinned to cpu %d", e.config.CPU), nil
		}))

		report.add(e.runStep(ctx, domain.StepSignalMask, e.config.BlockSignal, false, func() (string, error) {
			if err := e.sys.blockSignal(); err != nil {
				return "", err
			}
			return "SIGALRM blocked", nil
		}))
	}()
	<-done

	report.add(e.runStep(ctx, domain.StepIdlePower, e.config.DisableIdle, e.config.RequireIdleControl, func() (string, error) {
		w, err := e.sys.openIdleControl(e.config.IdleControlPath)
		if err != nil {
			return "", err
		}
		e.idle = newIdleHandle(w)
		return fmt.Sprintf("holding %s open", e.config.IdleControlPath), nil
	}))

	e.logger.Info("Real-time environment prepared",
		zap.String("status", report.Health().Status.String()),
		zap.Int("failed_steps", len(report.Failures())))

	return report
}

// runStep executes one step and classifies its failure. Invalid parameters
// are fatal on every enabled step; other failures are fatal only when the
// step is required.
func (e *Environment) runStep(ctx context.Context, step domain.SetupStep, enabled, required bool, fn func() (string, error)) StepResult {
	if !enabled {
		e.logger.Debug("Setup step skipped", zap.String("step", string(step)))
		return StepResult{Step: step, Status: StepSkipped}
	}

	if err := ctx.Err(); err != nil {
		return StepResult{
			Step:   step,
			Status: StepFailed,
			Fatal:  true,
			Err:    domain.NewSetupError(step, err),
		}
	}

	detail, err := fn()
	if err == nil {
		e.logger.Info("Setup step succeeded",
			zap.String("step", string(step)),
			zap.String("detail", detail))
		return StepResult{Step: step, Status: StepOK, Detail: detail}
	}

	se := classify(step, err)
	fatal := se.Kind == domain.KindInvalidParameter || required
	res := StepResult{Step: step, Status: StepFailed, Fatal: fatal, Err: se, Detail: se.Error()}

	if fatal {
		e.logger.Error("Setup step failed",
			zap.String("step", string(step)),
			zap.String("kind", string(se.Kind)),
			zap.Int("errno", int(se.Errno)),
			zap.Error(err))
	} else {
		e.logger.Warn("Setup step failed, continuing in degraded mode",
			zap.String("step", string(step)),
			zap.String("kind", string(se.Kind)),
			zap.Int("errno", int(se.Errno)),
			zap.Error(err))
	}
	return res
}

// classify turns a step error into a SetupError. mlockall reports a
// too-small RLIMIT_MEMLOCK as ENOMEM, which is a privilege problem.
func classify(step domain.SetupStep, err error) *domain.SetupError {
	var se *domain.SetupError
	if errors.As(err, &se) {
		return se
	}
	if step == domain.StepLockMemory && errors.Is(err, syscall.ENOMEM) {
		return domain.NewSetupErrorKind(step, domain.KindPrivilege, err)
	}
	return domain.NewSetupError(step, err)
}

// PrepareThread applies the thread scoped steps to the calling OS thread.
// The caller must hold runtime.LockOSThread. Steps that failed in Prepare
// are not retried.
func (e *Environment) PrepareThread(params domain.RunParameters) error {
	report := e.Prepare(context.Background())
	var errs []error

	if params.Policy != domain.PolicyOther && e.stepUsable(report, domain.StepSchedPolicy) {
		if err := e.sys.setScheduler(params.Policy, params.Priority); err != nil {
			errs = append(errs, domain.NewSetupError(domain.StepSchedPolicy, err))
		}
	}

	if params.CPU != NoCPU && e.stepUsable(report, domain.StepAffinity) {
		if err := e.sys.setAffinity(params.CPU); err != nil {
			errs = append(errs, domain.NewSetupError(domain.StepAffinity, err))
		}
	}

	if e.config.BlockSignal && e.stepUsable(report, domain.StepSignalMask) {
		if err := e.sys.blockSignal(); err != nil {
			errs = append(errs, domain.NewSetupError(domain.StepSignalMask, err))
		}
	}

	return errors.Join(errs...)
}

// stepUsable is true unless the step failed during Prepare
func (e *Environment) stepUsable(report *Report, step domain.SetupStep) bool {
	res, ok := report.Step(step)
	return !ok || res.Status != StepFailed
}

// Close releases the idle control handle, re-enabling deep idle states
func (e *Environment) Close() error {
	if e.idle == nil {
		return nil
	}
	return e.idle.Close()
}
