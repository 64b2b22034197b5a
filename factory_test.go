package outbox

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

// stubIDGenerator hands out sequential identifiers.
type stubIDGenerator struct {
	next int
}

func (g *stubIDGenerator) NewID() string {
	g.next++
	return fmt.Sprintf("evt-%d", g.next)
}

func testTopics() TopicSet {
	return NewTopicSet("ConventionSubmitted", "ConventionRejected")
}

func TestFactory_NewEvent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	factory := NewFactory(testTopics(), &stubIDGenerator{}, clock)

	event, err := factory.NewEvent("ConventionSubmitted", map[string]string{"conventionId": "c-42"})

	assert.NoError(t, err)
	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, Topic("ConventionSubmitted"), event.Topic)
	assert.JSONEq(t, `{"conventionId":"c-42"}`, string(event.Payload))
	assert.Equal(t, now, event.OccurredAt)
	assert.Equal(t, StatusUnpublished, event.Status())
	assert.False(t, event.WasQuarantined)
	assert.Empty(t, event.Publications)
}

func TestFactory_NewEvent_Deterministic(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	build := func() *Event {
		factory := NewFactory(testTopics(), &stubIDGenerator{}, clockwork.NewFakeClockAt(now))
		event, err := factory.NewEvent("ConventionSubmitted", map[string]string{"conventionId": "c-42"})
		assert.NoError(t, err)
		return event
	}

	assert.Equal(t, build(), build())
}

func TestFactory_NewEvent_UnknownTopic(t *testing.T) {
	factory := NewFactory(testTopics(), nil, nil)

	event, err := factory.NewEvent("ConventionArchived", map[string]string{})

	assert.Nil(t, event)
	assert.True(t, errors.Is(err, ErrUnknownTopic))
}

func TestFactory_NewEvent_NilPayload(t *testing.T) {
	factory := NewFactory(testTopics(), nil, nil)

	event, err := factory.NewEvent("ConventionSubmitted", nil)

	assert.Nil(t, event)
	assert.True(t, errors.Is(err, ErrEmptyPayload))
}

func TestFactory_NewEvent_UnmarshalablePayload(t *testing.T) {
	factory := NewFactory(testTopics(), nil, nil)

	event, err := factory.NewEvent("ConventionSubmitted", make(chan int))

	assert.Nil(t, event)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal payload")
}

func TestFactory_NewEvent_RehydrationOptions(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	occurred := now.Add(-time.Hour)
	factory := NewFactory(testTopics(), &stubIDGenerator{}, clockwork.NewFakeClockAt(now))

	attempt := PublicationAttempt{
		PublishedAt: occurred.Add(time.Minute),
		Failures:    []SubscriberFailure{{SubscriptionID: "mailer", ErrorMessage: "boom"}},
	}
	event, err := factory.NewEvent("ConventionRejected", map[string]string{"conventionId": "c-7"},
		WithID("evt-preexisting"),
		WithOccurredAt(occurred),
		WithPublications(attempt),
		WithWasQuarantined(true),
	)

	assert.NoError(t, err)
	assert.Equal(t, "evt-preexisting", event.ID)
	assert.Equal(t, occurred, event.OccurredAt)
	assert.Len(t, event.Publications, 1)
	assert.True(t, event.WasQuarantined)
	assert.Equal(t, StatusQuarantined, event.Status())
}
