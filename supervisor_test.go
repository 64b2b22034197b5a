package outbox

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// fakeWorker records its lifecycle and blocks in Start until stopped.
type fakeWorker struct {
	name     string
	started  atomic.Bool
	stopped  atomic.Bool
	stopChan chan struct{}
}

func newFakeWorker(name string) *fakeWorker {
	return &fakeWorker{name: name, stopChan: make(chan struct{})}
}

func (w *fakeWorker) Start(ctx context.Context) {
	w.started.Store(true)
	select {
	case <-ctx.Done():
	case <-w.stopChan:
	}
}

func (w *fakeWorker) Stop() {
	if w.stopped.CompareAndSwap(false, true) {
		close(w.stopChan)
	}
}

func (w *fakeWorker) Name() string { return w.name }

func TestSupervisor_StartAndStop(t *testing.T) {
	first := newFakeWorker("crawler")
	second := newFakeWorker("sweeper")
	supervisor := NewSupervisor(zap.NewNop(), first, second)

	done := make(chan struct{})
	go func() {
		supervisor.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return first.started.Load() && second.started.Load() && supervisor.IsStarted()
	}, time.Second, 5*time.Millisecond)

	supervisor.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not shut down")
	}
	assert.True(t, first.stopped.Load())
	assert.True(t, second.stopped.Load())
	assert.False(t, supervisor.IsStarted())
}

func TestSupervisor_ContextCancellationStopsWorkers(t *testing.T) {
	worker := newFakeWorker("crawler")
	supervisor := NewSupervisor(zap.NewNop(), worker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		supervisor.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return worker.started.Load()
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not shut down after context cancellation")
	}
	assert.True(t, worker.stopped.Load())
}

func TestSupervisor_StopBeforeStartIsSafe(t *testing.T) {
	supervisor := NewSupervisor(zap.NewNop(), newFakeWorker("crawler"))

	supervisor.Stop()

	assert.False(t, supervisor.IsStarted())
}

func TestSupervisor_SecondStartReturnsImmediately(t *testing.T) {
	worker := newFakeWorker("crawler")
	supervisor := NewSupervisor(zap.NewNop(), worker)

	go supervisor.Start(context.Background())
	assert.Eventually(t, func() bool {
		return supervisor.IsStarted()
	}, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		supervisor.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Start call did not return")
	}

	supervisor.Stop()
}

func TestSupervisor_NoWorkers(t *testing.T) {
	supervisor := NewSupervisor(zap.NewNop())

	done := make(chan struct{})
	go func() {
		supervisor.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, supervisor.IsStarted, time.Second, 5*time.Millisecond)
	supervisor.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not shut down")
	}
}
