package outbox

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/conventio/outbox/storage"
	"github.com/conventio/outbox/storage/sqlstore"
)

// Outbox bundles the factory, store, unit of work and subscriber registry
// behind one handle. Use cases call Enqueue inside a unit of work; the
// crawler and its supporting services are built from the same parts.
type Outbox struct {
	factory  *Factory
	store    storage.Store
	uow      *UnitOfWork
	registry *Registry
	logger   *zap.Logger
	ids      IDGenerator
	clock    clockwork.Clock
}

// New creates an Outbox over the given database handle and closed topic set.
func New(db *sql.DB, topics TopicSet, opts ...Option) (*Outbox, error) {
	o := &Outbox{
		registry: NewRegistry(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.factory = NewFactory(topics, o.ids, o.clock)
	if o.store == nil {
		o.store = sqlstore.NewSQLStore(db, nil, o.clock, o.logger)
	}
	if o.uow == nil {
		uow, err := NewUnitOfWork(db)
		if err != nil {
			return nil, fmt.Errorf("failed to create unit of work: %w", err)
		}
		o.uow = uow
	}

	return o, nil
}

// Option configures an Outbox.
type Option func(*Outbox)

// WithLogger sets the logger shared by the outbox components.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Outbox) {
		o.logger = logger
	}
}

// WithIDGenerator replaces the identifier source, usually with a
// deterministic test double.
func WithIDGenerator(ids IDGenerator) Option {
	return func(o *Outbox) {
		o.ids = ids
	}
}

// WithClock replaces the clock source, usually with a fake clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *Outbox) {
		o.clock = clock
	}
}

// WithStore replaces the default MySQL store.
func WithStore(store storage.Store) Option {
	return func(o *Outbox) {
		o.store = store
	}
}

// WithUnitOfWork replaces the default unit of work.
func WithUnitOfWork(uow *UnitOfWork) Option {
	return func(o *Outbox) {
		o.uow = uow
	}
}

// Factory returns the event factory.
func (o *Outbox) Factory() *Factory { return o.factory }

// Store returns the outbox store.
func (o *Outbox) Store() storage.Store { return o.store }

// UnitOfWork returns the transactional boundary shared with business
// repositories.
func (o *Outbox) UnitOfWork() *UnitOfWork { return o.uow }

// Registry returns the subscriber registry, populated at startup.
func (o *Outbox) Registry() *Registry { return o.registry }

// Enqueue builds an event for the topic and payload and saves it through the
// store. When called inside UnitOfWork.Do, the save joins the ambient
// transaction, so the event becomes durable together with the business
// mutation.
func (o *Outbox) Enqueue(ctx context.Context, topic Topic, payload any, opts ...EventOption) (*Event, error) {
	event, err := o.factory.NewEvent(topic, payload, opts...)
	if err != nil {
		return nil, err
	}
	if err := o.Save(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// Save persists an event with its full publication history, joining the
// transaction carried by ctx when one is active.
func (o *Outbox) Save(ctx context.Context, event *Event) error {
	return o.store.Save(ctx, recordFromEvent(event))
}

// recordFromEvent maps a domain event carrying its full history to its
// storage representation. Attempts are numbered sequentially from one.
func recordFromEvent(event *Event) *storage.EventRecord {
	attempts := make([]storage.AttemptRecord, len(event.Publications))
	for i, publication := range event.Publications {
		attempts[i] = storage.AttemptRecord{
			Position:    i + 1,
			PublishedAt: publication.PublishedAt,
			Failures:    failureRecords(publication.Failures),
		}
	}
	return &storage.EventRecord{
		ID:             event.ID,
		Topic:          string(event.Topic),
		Payload:        event.Payload,
		OccurredAt:     event.OccurredAt,
		Status:         event.Status(),
		WasQuarantined: event.WasQuarantined,
		AttemptCount:   len(attempts),
		Attempts:       attempts,
	}
}

// eventFromRecord rehydrates a domain event from its storage representation.
// Fetched records carry at most the latest attempt; that is all the status
// derivation needs.
func eventFromRecord(record *storage.EventRecord) *Event {
	publications := make([]PublicationAttempt, len(record.Attempts))
	for i, attempt := range record.Attempts {
		failures := make([]SubscriberFailure, len(attempt.Failures))
		for j, failure := range attempt.Failures {
			failures[j] = SubscriberFailure{
				SubscriptionID: failure.SubscriptionID,
				ErrorMessage:   failure.ErrorMessage,
			}
		}
		publications[i] = PublicationAttempt{
			PublishedAt: attempt.PublishedAt,
			Failures:    failures,
		}
	}
	return &Event{
		ID:             record.ID,
		Topic:          Topic(record.Topic),
		Payload:        record.Payload,
		OccurredAt:     record.OccurredAt,
		WasQuarantined: record.WasQuarantined,
		Publications:   publications,
	}
}
