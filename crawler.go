package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/conventio/outbox/storage"
)

// Crawler drains the outbox. Each cycle it claims a batch of never-published
// events and a batch of retryable failed events, fans every event out to the
// subscribers registered for its topic, and records one publication attempt
// per event with the failures observed.
//
// Subscriber errors are captured per subscription and never abort delivery to
// the remaining subscribers. Only a failure to persist the attempt aborts an
// event's processing for the cycle; its last durable state is untouched and
// the sweeper makes it fetchable again.
type Crawler struct {
	store             storage.Store
	registry          *Registry
	uow               TxRunner
	logger            *zap.Logger
	metrics           MetricsCollector
	clock             clockwork.Clock
	quarantine        TopicSet
	batchSize         int
	retryBatchSize    int
	subscriberTimeout time.Duration
}

// NewCrawler creates a Crawler. The quarantine set and tuning knobs come in
// through options; unset options fall back to package defaults.
func NewCrawler(store storage.Store, registry *Registry, uow TxRunner, opts ...CrawlerOption) *Crawler {
	c := &Crawler{
		store:             store,
		registry:          registry,
		uow:               uow,
		logger:            zap.NewNop(),
		metrics:           NewNopMetricsCollector(),
		clock:             clockwork.NewRealClock(),
		quarantine:        NewTopicSet(),
		batchSize:         defaultBatchSize,
		retryBatchSize:    defaultRetryBatchSize,
		subscriberTimeout: defaultSubscriberTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crawl runs one polling cycle. It is the work function handed to a worker.
func (c *Crawler) Crawl(ctx context.Context) error {
	start := time.Now()

	fresh, err := c.store.FetchUnpublished(ctx, c.batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch unpublished events: %w", err)
	}
	retryable, err := c.store.FetchRetryable(ctx, c.retryBatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch retryable events: %w", err)
	}

	records := append(fresh, retryable...)
	if len(records) == 0 {
		return nil
	}

	c.logger.Info("Fetched events for delivery",
		zap.Int("unpublished", len(fresh)),
		zap.Int("retryable", len(retryable)))
	c.metrics.RecordGauge("crawler.batch_size", float64(len(records)), nil)

	delivered, failed := 0, 0
	for i := range records {
		select {
		case <-ctx.Done():
			c.logger.Warn("Context cancelled during crawl cycle", zap.Error(ctx.Err()))
			return ctx.Err()
		default:
		}

		if err := c.deliver(ctx, &records[i]); err != nil {
			failed++
			c.logger.Error("Failed to record delivery outcome",
				zap.String("event_id", records[i].ID),
				zap.Error(err))
			continue
		}
		delivered++
	}

	c.logger.Info("Crawl cycle completed",
		zap.Int("delivered", delivered),
		zap.Int("failed", failed))
	c.metrics.RecordDuration("crawler.cycle_duration", time.Since(start), nil)

	return nil
}

// deliver fans one event out, appends the resulting publication attempt and
// persists it. The persisting transaction is opened only after every
// subscriber outcome is known.
func (c *Crawler) deliver(ctx context.Context, record *storage.EventRecord) error {
	event := eventFromRecord(record)
	subscribers := c.registry.Subscribers(event.Topic)

	failures := c.fanOut(ctx, event, subscribers)
	publishedAt := c.clock.Now().UTC()
	event.Append(publishedAt, failures, c.quarantine.Contains(event.Topic))

	record.Status = event.Status()
	record.WasQuarantined = event.WasQuarantined
	record.Attempts = append(record.Attempts, storage.AttemptRecord{
		Position:    record.AttemptCount + 1,
		PublishedAt: publishedAt,
		Failures:    failureRecords(failures),
	})
	record.AttemptCount++

	tags := map[string]string{"topic": string(event.Topic)}
	switch {
	case len(failures) == 0:
		c.metrics.IncrementCounter("crawler.attempt_succeeded", tags)
	case record.Status == StatusQuarantined:
		c.logger.Warn("Event quarantined",
			zap.String("event_id", event.ID),
			zap.String("topic", string(event.Topic)))
		c.metrics.IncrementCounter("crawler.event_quarantined", tags)
	default:
		c.metrics.IncrementCounter("crawler.attempt_failed", tags)
	}

	return c.uow.Do(ctx, func(ctx context.Context) error {
		return c.store.Save(ctx, record)
	})
}

// fanOut invokes every subscriber concurrently and gathers each outcome
// independently. One subscriber's failure, timeout or panic never cancels the
// others.
func (c *Crawler) fanOut(ctx context.Context, event *Event, subscribers []Subscriber) []SubscriberFailure {
	if len(subscribers) == 0 {
		c.logger.Debug("No subscribers for topic", zap.String("topic", string(event.Topic)))
		return nil
	}

	outcomes := make([]error, len(subscribers))
	var wg sync.WaitGroup
	for i, subscriber := range subscribers {
		wg.Add(1)
		go func(i int, subscriber Subscriber) {
			defer wg.Done()
			outcomes[i] = c.invoke(ctx, subscriber, event)
		}(i, subscriber)
	}
	wg.Wait()

	var failures []SubscriberFailure
	for i, err := range outcomes {
		if err == nil {
			continue
		}
		c.logger.Warn("Subscriber failed",
			zap.String("event_id", event.ID),
			zap.String("subscription_id", subscribers[i].ID()),
			zap.Error(err))
		failures = append(failures, SubscriberFailure{
			SubscriptionID: subscribers[i].ID(),
			ErrorMessage:   err.Error(),
		})
	}
	return failures
}

// invoke runs one subscriber under the configured timeout. The handler runs
// in its own goroutine so that a handler ignoring its context still yields a
// recorded timeout instead of an indeterminate outcome.
func (c *Crawler) invoke(ctx context.Context, subscriber Subscriber, event *Event) error {
	ctx, cancel := context.WithTimeout(ctx, c.subscriberTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("subscriber panicked: %v", r)
			}
		}()
		done <- subscriber.Handle(ctx, event)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func failureRecords(failures []SubscriberFailure) []storage.FailureRecord {
	if len(failures) == 0 {
		return nil
	}
	records := make([]storage.FailureRecord, len(failures))
	for i, failure := range failures {
		records[i] = storage.FailureRecord{
			SubscriptionID: failure.SubscriptionID,
			ErrorMessage:   failure.ErrorMessage,
		}
	}
	return records
}
