package outbox

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/conventio/outbox/storage"
)

// Pruner deletes long-published events together with their publication
// history. The delivery core itself never deletes; the pruner is the
// operational retention tool run alongside it, and quarantined events are
// deliberately out of its reach.
type Pruner struct {
	store     storage.Store
	logger    *zap.Logger
	metrics   MetricsCollector
	clock     clockwork.Clock
	retention time.Duration
}

// NewPruner creates a Pruner over the given store.
func NewPruner(store storage.Store, opts ...PrunerOption) *Pruner {
	p := &Pruner{
		store:     store,
		logger:    zap.NewNop(),
		metrics:   NewNopMetricsCollector(),
		clock:     clockwork.NewRealClock(),
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prune removes published events older than the retention window. It is the
// work function handed to a worker. Pruning errors are logged, not
// propagated, so the loop keeps running.
func (p *Pruner) Prune(ctx context.Context) error {
	start := time.Now()
	defer func() {
		p.metrics.RecordDuration("pruner.duration", time.Since(start), nil)
	}()

	cutoff := p.clock.Now().UTC().Add(-p.retention)
	deleted, err := p.store.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("Failed to prune published events", zap.Error(err))
		p.metrics.IncrementCounter("pruner.failed", nil)
		return nil
	}

	if deleted > 0 {
		p.logger.Info("Pruned published events",
			zap.Int64("count", deleted),
			zap.Time("cutoff", cutoff))
		p.metrics.RecordGauge("pruner.deleted", float64(deleted), nil)
	}
	p.metrics.IncrementCounter("pruner.executed", nil)
	return nil
}
