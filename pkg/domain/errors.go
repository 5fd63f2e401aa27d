package domain

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrorKind classifies failures of the measurement engine
type ErrorKind string

const (
	KindPrivilege           ErrorKind = "privilege"
	KindInvalidParameter    ErrorKind = "invalid_parameter"
	KindClock               ErrorKind = "clock"
	KindResourceUnavailable ErrorKind = "resource_unavailable"
	KindSystem              ErrorKind = "system"
)

var (
	ErrPrivilege           = errors.New("insufficient privilege")
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrClock               = errors.New("monotonic clock unavailable")
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrSystem              = errors.New("system error")
)

// Sentinel returns the error matched by errors.Is for this kind
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindPrivilege:
		return ErrPrivilege
	case KindInvalidParameter:
		return ErrInvalidParameter
	case KindClock:
		return ErrClock
	case KindResourceUnavailable:
		return ErrResourceUnavailable
	default:
		return ErrSystem
	}
}

// ClassifyErrno maps an OS error code onto an error kind
func ClassifyErrno(errno syscall.Errno) ErrorKind {
	switch errno {
	case syscall.EPERM, syscall.EACCES:
		return KindPrivilege
	case syscall.EINVAL, syscall.ESRCH, syscall.ERANGE:
		return KindInvalidParameter
	case syscall.ENOENT, syscall.ENODEV, syscall.ENXIO, syscall.ENOSYS, syscall.EOPNOTSUPP:
		return KindResourceUnavailable
	default:
		return KindSystem
	}
}

// SetupStep names one action of the real-time environment preparation
type SetupStep string

const (
	StepLockMemory  SetupStep = "lock_memory"
	StepSchedPolicy SetupStep = "sched_policy"
	StepAffinity    SetupStep = "cpu_affinity"
	StepSignalMask  SetupStep = "signal_mask"
	StepIdlePower   SetupStep = "idle_power"
)

// AllSetupSteps lists the steps in execution order
var AllSetupSteps = []SetupStep{
	StepLockMemory,
	StepSchedPolicy,
	StepAffinity,
	StepSignalMask,
	StepIdlePower,
}

// SetupError is the failure of one setup step
type SetupError struct {
	Step  SetupStep
	Kind  ErrorKind
	Errno syscall.Errno
	Err   error
}

// NewSetupError classifies err for step. The kind comes from the OS error
// code when one is present in the chain.
func NewSetupError(step SetupStep, err error) *SetupError {
	se := &SetupError{Step: step, Kind: KindSystem, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		se.Errno = errno
		se.Kind = ClassifyErrno(errno)
	}
	return se
}

// NewSetupErrorKind builds a setup error with an explicit kind
func NewSetupErrorKind(step SetupStep, kind ErrorKind, err error) *SetupError {
	se := NewSetupError(step, err)
	se.Kind = kind
	return se
}

func (e *SetupError) Error() string {
	if e.Errno != 0 {
		return fmt.Sprintf("setup step %s failed (%s, errno %d): %v", e.Step, e.Kind, int(e.Errno), e.Err)
	}
	return fmt.Sprintf("setup step %s failed (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind
func (e *SetupError) Is(target error) bool {
	return target == e.Kind.Sentinel()
}

// ClockError reports a failed read of the monotonic clock. Every latency
// derived after such a failure is meaningless.
type ClockError struct {
	Err error
}

func (e *ClockError) Error() string {
	return fmt.Sprintf("monotonic clock read failed: %v", e.Err)
}

func (e *ClockError) Unwrap() error {
	return e.Err
}

func (e *ClockError) Is(target error) bool {
	return target == ErrClock
}

// WorkerFailure reports a measurement thread that terminated abnormally
type WorkerFailure struct {
	Index int
	Err   error
	// Panic holds the recovered value when the worker panicked
	Panic interface{}
	Stack []byte
}

func (f *WorkerFailure) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("worker %d panicked: %v", f.Index, f.Panic)
	}
	return fmt.Sprintf("worker %d failed: %v", f.Index, f.Err)
}

func (f *WorkerFailure) Unwrap() error {
	return f.Err
}
