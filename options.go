package outbox

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	defaultBatchSize         = 100
	defaultRetryBatchSize    = 50
	defaultSubscriberTimeout = 30 * time.Second
	defaultClaimTimeout      = 10 * time.Minute
	defaultRetention         = 7 * 24 * time.Hour
)

//
// Crawler options
//

type CrawlerOption func(*Crawler)

// WithCrawlerLogger sets the crawler's logger.
func WithCrawlerLogger(logger *zap.Logger) CrawlerOption {
	return func(c *Crawler) {
		c.logger = logger
	}
}

// WithCrawlerMetrics sets the crawler's metrics collector.
func WithCrawlerMetrics(metrics MetricsCollector) CrawlerOption {
	return func(c *Crawler) {
		c.metrics = metrics
	}
}

// WithCrawlerClock sets the clock the crawler stamps publication attempts
// with.
func WithCrawlerClock(clock clockwork.Clock) CrawlerOption {
	return func(c *Crawler) {
		c.clock = clock
	}
}

// WithQuarantineTopics declares the closed set of topics whose delivery
// failures park the event permanently instead of scheduling a retry.
func WithQuarantineTopics(topics TopicSet) CrawlerOption {
	return func(c *Crawler) {
		c.quarantine = topics
	}
}

// WithCrawlerBatchSize caps the number of never-published events fetched per
// cycle.
func WithCrawlerBatchSize(size int) CrawlerOption {
	return func(c *Crawler) {
		c.batchSize = size
	}
}

// WithCrawlerRetryBatchSize caps the number of retryable failed events
// fetched per cycle.
func WithCrawlerRetryBatchSize(size int) CrawlerOption {
	return func(c *Crawler) {
		c.retryBatchSize = size
	}
}

// WithSubscriberTimeout bounds a single subscriber invocation. A timed-out
// subscriber is recorded as a failure like any other.
func WithSubscriberTimeout(timeout time.Duration) CrawlerOption {
	return func(c *Crawler) {
		c.subscriberTimeout = timeout
	}
}

//
// Sweeper options
//

type SweeperOption func(*Sweeper)

// WithSweeperLogger sets the sweeper's logger.
func WithSweeperLogger(logger *zap.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithSweeperMetrics sets the sweeper's metrics collector.
func WithSweeperMetrics(metrics MetricsCollector) SweeperOption {
	return func(s *Sweeper) {
		s.metrics = metrics
	}
}

// WithClaimTimeout sets how long a claim may stand before the sweeper
// releases it.
func WithClaimTimeout(timeout time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.claimTimeout = timeout
	}
}

//
// Pruner options
//

type PrunerOption func(*Pruner)

// WithPrunerLogger sets the pruner's logger.
func WithPrunerLogger(logger *zap.Logger) PrunerOption {
	return func(p *Pruner) {
		p.logger = logger
	}
}

// WithPrunerMetrics sets the pruner's metrics collector.
func WithPrunerMetrics(metrics MetricsCollector) PrunerOption {
	return func(p *Pruner) {
		p.metrics = metrics
	}
}

// WithPrunerClock sets the clock the pruner derives the retention cutoff
// from.
func WithPrunerClock(clock clockwork.Clock) PrunerOption {
	return func(p *Pruner) {
		p.clock = clock
	}
}

// WithRetention sets how long published events are kept before pruning.
func WithRetention(retention time.Duration) PrunerOption {
	return func(p *Pruner) {
		p.retention = retention
	}
}
