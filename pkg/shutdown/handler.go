// Package shutdown releases process-wide resources exactly once, in reverse
// registration order, whether the run finished or was interrupted.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Handler manages graceful shutdown
type Handler struct {
	mu      sync.Mutex
	fns     []cleanup
	timeout time.Duration
	signals []os.Signal
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	once sync.Once
	err  error
	done chan struct{}
	stop chan struct{}
}

type cleanup struct {
	name string
	fn   func(context.Context) error
}

// NewHandler creates a new shutdown handler
func NewHandler(timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		timeout: timeout,
		signals: []os.Signal{
			os.Interrupt,
			syscall.SIGTERM,
			syscall.SIGQUIT,
		},
		logger: logger.Named("shutdown"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

// Register registers a cleanup function
func (h *Handler) Register(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, cleanup{name: name, fn: fn})
}

// Context is canceled by the first shutdown signal or by Shutdown
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Start listens for shutdown signals. The first signal cancels Context so
// running measurements stop after their current cycle; a second signal
// runs the cleanups immediately.
func (h *Handler) Start() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, h.signals...)

	go func() {
		defer signal.Stop(sigChan)
		for received := 0; ; received++ {
			select {
			case sig := <-sigChan:
				if received == 0 {
					h.logger.Info("Received signal, stopping measurement", zap.String("signal", sig.String()))
					h.cancel()
					continue
				}
				h.logger.Warn("Received second signal, cleaning up now", zap.String("signal", sig.String()))
				_ = h.Shutdown()
				return
			case <-h.stop:
				return
			}
		}
	}()
}

// Wait blocks until shutdown is complete
func (h *Handler) Wait() {
	<-h.done
}

// Shutdown runs every cleanup once, newest first. Later calls return the
// first call's result.
func (h *Handler) Shutdown() error {
	h.once.Do(func() {
		h.cancel()
		close(h.stop)
		h.err = h.executeShutdown()
		close(h.done)
	})
	return h.err
}

func (h *Handler) executeShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	start := time.Now()

	h.mu.Lock()
	fns := make([]cleanup, len(h.fns))
	copy(fns, h.fns)
	h.mu.Unlock()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			h.logger.Warn("Shutdown timeout exceeded, some cleanup may be incomplete",
				zap.Int("remaining", i+1))
			errs = append(errs, ctx.Err())
			break
		}

		c := fns[i]
		began := time.Now()
		if err := c.fn(ctx); err != nil {
			h.logger.Warn("Cleanup failed",
				zap.String("name", c.name),
				zap.Duration("took", time.Since(began)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		h.logger.Debug("Cleaned up", zap.String("name", c.name), zap.Duration("took", time.Since(began)))
	}

	if len(errs) > 0 {
		h.logger.Warn("Shutdown completed with errors",
			zap.Int("errors", len(errs)),
			zap.Duration("took", time.Since(start)))
	} else {
		h.logger.Debug("Shutdown completed", zap.Duration("took", time.Since(start)))
	}
	return errors.Join(errs...)
}
