//go:build linux
// +build linux

package rtenv

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"unsafe"

	"github.com/yairfalse/cyclictest/pkg/domain"
	"golang.org/x/sys/unix"
)

// maxCPUs is the number of CPUs a unix.CPUSet can describe
const maxCPUs = int(unsafe.Sizeof(unix.CPUSet{})) * 8

var policyToLinux = map[domain.SchedulingPolicy]uint32{
	domain.PolicyOther:      unix.SCHED_NORMAL,
	domain.PolicyFifo:       unix.SCHED_FIFO,
	domain.PolicyRoundRobin: unix.SCHED_RR,
	domain.PolicyIdle:       unix.SCHED_IDLE,
}

type linuxSystem struct{}

func newSystem() system {
	return linuxSystem{}
}

func (linuxSystem) lockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}

func (linuxSystem) setScheduler(policy domain.SchedulingPolicy, priority int) error {
	linuxPolicy, ok := policyToLinux[policy]
	if !ok {
		return domain.NewSetupErrorKind(domain.StepSchedPolicy, domain.KindInvalidParameter,
			fmt.Errorf("unsupported scheduling policy %q", policy))
	}

	attr := &unix.SchedAttr{
		Policy:   linuxPolicy,
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		return fmt.Errorf("sched_setattr(%s, %d): %w", policy, priority, err)
	}
	return nil
}

func (linuxSystem) getScheduler() (domain.SchedulingPolicy, int, error) {
	attr, err := unix.SchedGetAttr(0, 0)
	if err != nil {
		return "", 0, fmt.Errorf("sched_getattr: %w", err)
	}

	// SCHED_RESET_ON_FORK may be or-ed into the reported policy
	linuxPolicy := attr.Policy &^ uint32(unix.SCHED_RESET_ON_FORK)
	for policy, v := range policyToLinux {
		if v == linuxPolicy {
			return policy, int(attr.Priority), nil
		}
	}
	return domain.SchedulingPolicy(fmt.Sprintf("linux-%d", linuxPolicy)), int(attr.Priority), nil
}

func (linuxSystem) setAffinity(cpu int) error {
	if cpu < 0 || cpu >= maxCPUs {
		return domain.NewSetupErrorKind(domain.StepAffinity, domain.KindInvalidParameter,
			fmt.Errorf("cpu %d out of range [0, %d)", cpu, maxCPUs))
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity(cpu %d): %w", cpu, err)
	}
	return nil
}

func (linuxSystem) blockSignal() error {
	var set unix.Sigset_t
	sigsetAdd(&set, unix.SIGALRM)
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil); err != nil {
		return fmt.Errorf("pthread_sigmask(SIG_BLOCK, SIGALRM): %w", err)
	}
	return nil
}

// sigsetAdd sets the bit of sig in set
func sigsetAdd(set *unix.Sigset_t, sig unix.Signal) {
	bits := uint(unsafe.Sizeof(set.Val[0])) * 8
	n := uint(sig) - 1
	set.Val[n/bits] |= 1 << (n % bits)
}

func (linuxSystem) openIdleControl(path string) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	// A zero microsecond latency target keeps every CPU out of deep idle
	if err := binary.Write(f, binary.NativeEndian, int32(0)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return f, nil
}
