package engine

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/yairfalse/cyclictest/pkg/domain"
	"go.uber.org/zap"
)

// group runs one goroutine per measurement thread and joins them. A worker
// that returns an error or panics becomes a WorkerFailure carrying its
// index; it never vanishes silently.
type group struct {
	ctx             context.Context
	cancel          context.CancelFunc
	cancelOnFailure bool
	wg              sync.WaitGroup
	logger          *zap.Logger

	running atomic.Int32

	mu       sync.Mutex
	failures []*domain.WorkerFailure
	stopped  []int
}

func newGroup(ctx context.Context, cancelOnFailure bool, logger *zap.Logger) *group {
	ctx, cancel := context.WithCancel(ctx)
	return &group{
		ctx:             ctx,
		cancel:          cancel,
		cancelOnFailure: cancelOnFailure,
		logger:          logger,
	}
}

// Go starts worker index
func (g *group) Go(index int, fn func(ctx context.Context) error) {
	g.wg.Add(1)
	g.running.Add(1)

	go func() {
		defer g.wg.Done()
		defer g.running.Add(-1)

		g.logger.Debug("Starting worker", zap.Int("thread", index))
		err := g.call(index, fn)
		if err == nil {
			g.logger.Debug("Worker finished", zap.Int("thread", index))
			return
		}
		g.settle(index, err)
	}()
}

func (g *group) call(index int, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			wf := &domain.WorkerFailure{Index: index, Panic: r, Stack: debug.Stack()}
			if e, ok := r.(error); ok {
				wf.Err = e
			}
			err = wf
		}
	}()
	return fn(g.ctx)
}

// settle sorts a worker error into a stop caused by cancellation or a
// failure of the worker itself
func (g *group) settle(index int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		g.stopped = append(g.stopped, index)
		g.logger.Info("Worker stopped before completing its cycles", zap.Int("thread", index))
		return
	}

	var wf *domain.WorkerFailure
	if !errors.As(err, &wf) {
		wf = &domain.WorkerFailure{Index: index, Err: err}
	}
	g.failures = append(g.failures, wf)

	fields := []zap.Field{zap.Int("thread", index), zap.Error(err)}
	if wf.Stack != nil {
		fields = append(fields, zap.ByteString("stack", wf.Stack))
	}
	g.logger.Error("Worker failed", fields...)

	if g.cancelOnFailure {
		g.cancel()
	}
}

// Wait joins every worker
func (g *group) Wait() (failures []*domain.WorkerFailure, stopped []int) {
	g.wg.Wait()
	g.cancel()

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures, g.stopped
}

// Running returns the number of workers still running
func (g *group) Running() int32 {
	return g.running.Load()
}
