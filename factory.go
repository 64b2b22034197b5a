package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// IDGenerator produces globally unique event identifiers.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator is the default IDGenerator, backed by random UUIDv4.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// Factory builds new events with correct identity, timestamp and initial
// delivery state. Identifier and clock sources are injected so that event
// construction is fully reproducible under test doubles.
type Factory struct {
	ids    IDGenerator
	clock  clockwork.Clock
	topics TopicSet
}

// NewFactory creates a Factory over the given closed topic set. A nil
// generator defaults to UUIDs and a nil clock to the real wall clock.
func NewFactory(topics TopicSet, ids IDGenerator, clock clockwork.Clock) *Factory {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Factory{
		ids:    ids,
		clock:  clock,
		topics: topics,
	}
}

// EventOption overrides parts of a freshly built event. Options exist for
// rehydrating stored events and for tests that need a pre-seeded publication
// history; normal creation passes none.
type EventOption func(*Event)

// WithID sets an explicit identifier instead of drawing one from the
// generator.
func WithID(id string) EventOption {
	return func(e *Event) {
		e.ID = id
	}
}

// WithOccurredAt sets an explicit fact timestamp instead of reading the
// clock.
func WithOccurredAt(at time.Time) EventOption {
	return func(e *Event) {
		e.OccurredAt = at
	}
}

// WithPublications seeds the publication history. The attempts are taken as
// given; status derives from them as usual.
func WithPublications(attempts ...PublicationAttempt) EventOption {
	return func(e *Event) {
		e.Publications = attempts
	}
}

// WithWasQuarantined seeds the sticky quarantine flag.
func WithWasQuarantined(quarantined bool) EventOption {
	return func(e *Event) {
		e.WasQuarantined = quarantined
	}
}

// NewEvent builds an event for the given topic and payload.
//
// The topic must belong to the configured closed set. The payload must
// already conform to the topic's schema; it is serialized here but not
// validated against the schema. The clock is read exactly once per event.
func (f *Factory) NewEvent(topic Topic, payload any, opts ...EventOption) (*Event, error) {
	if !f.topics.Contains(topic) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	if payload == nil {
		return nil, ErrEmptyPayload
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &Event{
		ID:         f.ids.NewID(),
		Topic:      topic,
		Payload:    raw,
		OccurredAt: f.clock.Now().UTC(),
	}

	for _, opt := range opts {
		opt(event)
	}

	return event, nil
}
