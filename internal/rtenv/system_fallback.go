//go:build !linux
// +build !linux

package rtenv

import (
	"fmt"
	"io"
	"syscall"

	"github.com/yairfalse/cyclictest/pkg/domain"
)

// fallbackSystem reports every step as unavailable outside Linux
type fallbackSystem struct{}

func newSystem() system {
	return fallbackSystem{}
}

func unsupported(op string) error {
	return fmt.Errorf("%s requires Linux: %w", op, syscall.ENOSYS)
}

func (fallbackSystem) lockMemory() error {
	return unsupported("memory locking")
}

func (fallbackSystem) setScheduler(policy domain.SchedulingPolicy, priority int) error {
	return unsupported("real-time scheduling")
}

func (fallbackSystem) getScheduler() (domain.SchedulingPolicy, int, error) {
	return domain.PolicyOther, 0, nil
}

func (fallbackSystem) setAffinity(cpu int) error {
	return unsupported("cpu affinity")
}

func (fallbackSystem) blockSignal() error {
	return unsupported("signal masking")
}

func (fallbackSystem) openIdleControl(path string) (io.WriteCloser, error) {
	return nil, unsupported("idle state control")
}
