package rtenv

import (
	"io"
	"sync"
)

// IdleHandle keeps the idle control interface open. The kernel drops the
// latency request as soon as the handle is closed, so it must outlive every
// measurement.
type IdleHandle struct {
	w        io.WriteCloser
	once     sync.Once
	closeErr error
}

func newIdleHandle(w io.WriteCloser) *IdleHandle {
	return &IdleHandle{w: w}
}

// Close releases the handle exactly once
func (h *IdleHandle) Close() error {
	h.once.Do(func() {
		h.closeErr = h.w.Close()
	})
	return h.closeErr
}
