package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conventio/outbox/storage"
)

// Sweeper releases claim markers left behind by crawlers that crashed or
// failed to persist a delivery outcome. Released events become fetchable on
// the next crawl cycle, so no event stays stranded.
type Sweeper struct {
	store        storage.Store
	logger       *zap.Logger
	metrics      MetricsCollector
	claimTimeout time.Duration
}

// NewSweeper creates a Sweeper over the given store.
func NewSweeper(store storage.Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:        store,
		logger:       zap.NewNop(),
		metrics:      NewNopMetricsCollector(),
		claimTimeout: defaultClaimTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep releases claims older than the configured timeout. It is the work
// function handed to a worker.
func (s *Sweeper) Sweep(ctx context.Context) error {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("sweeper.duration", time.Since(start), nil)
	}()

	released, err := s.store.ReleaseExpiredClaims(ctx, s.claimTimeout)
	if err != nil {
		return fmt.Errorf("failed to release expired claims: %w", err)
	}

	if released > 0 {
		s.logger.Info("Released expired claims",
			zap.Int64("count", released),
			zap.Duration("claim_timeout", s.claimTimeout))
		s.metrics.RecordGauge("sweeper.released", float64(released), nil)
	}
	return nil
}
