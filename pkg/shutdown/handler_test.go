package shutdown

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestShutdown_RunsInReverseOrderOnce(t *testing.T) {
	h := NewHandler(time.Second, zaptest.NewLogger(t))

	var order []string
	h.Register("idle-control", func(context.Context) error {
		order = append(order, "idle-control")
		return nil
	})
	h.Register("telemetry", func(context.Context) error {
		order = append(order, "telemetry")
		return nil
	})

	require.NoError(t, h.Shutdown())
	require.NoError(t, h.Shutdown())
	h.Wait()

	assert.Equal(t, []string{"telemetry", "idle-control"}, order)
	assert.Error(t, h.Context().Err(), "shutdown cancels the context")
}

func TestShutdown_CollectsErrors(t *testing.T) {
	h := NewHandler(time.Second, zaptest.NewLogger(t))
	boom := errors.New("boom")

	var ran atomic.Int32
	h.Register("first", func(context.Context) error {
		ran.Add(1)
		return nil
	})
	h.Register("second", func(context.Context) error {
		ran.Add(1)
		return boom
	})

	err := h.Shutdown()
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "second")
	assert.Equal(t, int32(2), ran.Load(), "a failing cleanup does not stop the others")
	assert.ErrorIs(t, h.Shutdown(), boom)
}

func TestShutdown_Timeout(t *testing.T) {
	h := NewHandler(20*time.Millisecond, zaptest.NewLogger(t))

	var skipped atomic.Bool
	skipped.Store(true)
	h.Register("never", func(context.Context) error {
		skipped.Store(false)
		return nil
	})
	h.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := h.Shutdown()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, skipped.Load())
}

func TestStart_StopsWithShutdown(t *testing.T) {
	h := NewHandler(time.Second, zaptest.NewLogger(t))
	h.Start()
	assert.NoError(t, h.Context().Err())
	require.NoError(t, h.Shutdown())
}
