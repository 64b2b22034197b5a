package outbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker is a long-running background loop managed by a Supervisor.
type Worker interface {
	Start(ctx context.Context)
	Stop()
	Name() string
}

// BaseWorker runs a work function on a fixed interval and handles graceful
// shutdown. Stop waits for an in-flight execution to finish.
type BaseWorker struct {
	name     string
	interval time.Duration
	logger   *zap.Logger
	workFunc func(ctx context.Context) error

	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopOnce sync.Once
	stopChan chan struct{}
	started  bool
}

// NewBaseWorker creates a ticker-driven worker around workFunc.
func NewBaseWorker(name string, interval time.Duration, logger *zap.Logger, workFunc func(ctx context.Context) error) *BaseWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseWorker{
		name:     name,
		interval: interval,
		logger:   logger,
		workFunc: workFunc,
		stopChan: make(chan struct{}),
	}
}

// Start runs the worker loop. It blocks until the context is cancelled or
// Stop is called.
func (w *BaseWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		w.logger.Warn("Worker already started", zap.String("name", w.name))
		return
	}
	w.started = true
	w.mu.Unlock()

	w.logger.Info("Worker starting", zap.String("name", w.name), zap.Duration("interval", w.interval))
	defer w.logger.Info("Worker finished", zap.String("name", w.name))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Context cancelled, worker stopping", zap.String("name", w.name))
			return
		case <-w.stopChan:
			w.logger.Info("Stop signal received, worker stopping", zap.String("name", w.name))
			return
		case <-ticker.C:
			// A stop may race the tick; check once more before working.
			select {
			case <-w.stopChan:
				return
			default:
			}
			w.runOnce(ctx)
		}
	}
}

func (w *BaseWorker) runOnce(ctx context.Context) {
	w.wg.Add(1)
	defer w.wg.Done()

	select {
	case <-ctx.Done():
		return
	default:
	}

	if err := w.workFunc(ctx); err != nil {
		w.logger.Error("Worker run failed", zap.String("name", w.name), zap.Error(err))
	}
}

// Stop shuts the worker down and waits for in-progress work to complete. It
// is safe to call multiple times.
func (w *BaseWorker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.RLock()
		defer w.mu.RUnlock()
		if !w.started {
			return
		}
		close(w.stopChan)
		w.wg.Wait()
	})
}

// Name returns the worker's name.
func (w *BaseWorker) Name() string {
	return w.name
}
