package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingEvictor struct {
	calls int
}

func (c *countingEvictor) EvictCaches() { c.calls++ }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckBelowWatermarks(t *testing.T) {
	evictor := &countingEvictor{}
	m := NewMemoryMonitor(1000, []Evictor{evictor},
		WithMemoryLogger(quietLogger()),
		withHeapReader(func() uint64 { return 500 }))

	sample := m.Check()
	assert.InDelta(t, 0.5, sample.Usage, 1e-9)
	assert.Zero(t, evictor.calls)
}

func TestCheckHighWatermarkOnlyLogs(t *testing.T) {
	evictor := &countingEvictor{}
	m := NewMemoryMonitor(1000, []Evictor{evictor},
		WithMemoryLogger(quietLogger()),
		withHeapReader(func() uint64 { return 800 }))

	m.Check()
	assert.Zero(t, evictor.calls)
}

func TestCheckCriticalWatermarkEvicts(t *testing.T) {
	first := &countingEvictor{}
	second := &countingEvictor{}
	m := NewMemoryMonitor(1000, []Evictor{first, second},
		WithMemoryLogger(quietLogger()),
		withHeapReader(func() uint64 { return 900 }))

	m.Check()
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestCheckWithoutLimitIsInert(t *testing.T) {
	evictor := &countingEvictor{}
	m := NewMemoryMonitor(0, []Evictor{evictor},
		WithMemoryLogger(quietLogger()),
		withHeapReader(func() uint64 { return 1 << 40 }))
	if m.limit != 0 {
		t.Skip("runtime memory limit set in this environment")
	}

	sample := m.Check()
	assert.Zero(t, sample.Usage)
	assert.Zero(t, evictor.calls)
}

func TestCustomWatermarks(t *testing.T) {
	evictor := &countingEvictor{}
	m := NewMemoryMonitor(100, []Evictor{evictor},
		WithMemoryLogger(quietLogger()),
		WithWatermarks(0.2, 0.3),
		withHeapReader(func() uint64 { return 35 }))

	m.Check()
	assert.Equal(t, 1, evictor.calls)
}

func TestRunStopsOnCancel(t *testing.T) {
	m := NewMemoryMonitor(1000, nil,
		WithMemoryLogger(quietLogger()),
		WithSampleInterval(5*time.Millisecond),
		withHeapReader(func() uint64 { return 100 }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestEvictorFunc(t *testing.T) {
	called := false
	EvictorFunc(func() { called = true }).EvictCaches()
	assert.True(t, called)
}
