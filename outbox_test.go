package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/conventio/outbox/storage"
)

func newTestOutbox(t *testing.T, store storage.Store, clock clockwork.Clock) *Outbox {
	t.Helper()
	o, err := New(nil, testTopics(),
		WithStore(store),
		WithUnitOfWork(&UnitOfWork{}),
		WithIDGenerator(&stubIDGenerator{}),
		WithClock(clock),
	)
	assert.NoError(t, err)
	return o
}

func TestOutbox_Enqueue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mockStore := new(storage.MockStore)
	o := newTestOutbox(t, mockStore, clockwork.NewFakeClockAt(now))

	var saved *storage.EventRecord
	mockStore.On("Save", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*storage.EventRecord)
	}).Return(nil).Once()

	event, err := o.Enqueue(context.Background(), "ConventionSubmitted", map[string]string{"conventionId": "c-42"})

	assert.NoError(t, err)
	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, "evt-1", saved.ID)
	assert.Equal(t, "ConventionSubmitted", saved.Topic)
	assert.Equal(t, StatusUnpublished, saved.Status)
	assert.Equal(t, now, saved.OccurredAt)
	assert.Zero(t, saved.AttemptCount)
	assert.Empty(t, saved.Attempts)
	mockStore.AssertExpectations(t)
}

func TestOutbox_Enqueue_UnknownTopicDoesNotTouchStore(t *testing.T) {
	mockStore := new(storage.MockStore)
	o := newTestOutbox(t, mockStore, clockwork.NewRealClock())

	event, err := o.Enqueue(context.Background(), "ConventionArchived", map[string]string{})

	assert.Nil(t, event)
	assert.True(t, errors.Is(err, ErrUnknownTopic))
	mockStore.AssertNotCalled(t, "Save")
}

func TestOutbox_Enqueue_SaveError(t *testing.T) {
	mockStore := new(storage.MockStore)
	o := newTestOutbox(t, mockStore, clockwork.NewRealClock())

	mockStore.On("Save", mock.Anything, mock.Anything).Return(storage.ErrConstraintViolation).Once()

	event, err := o.Enqueue(context.Background(), "ConventionSubmitted", map[string]string{})

	assert.Nil(t, event)
	assert.True(t, errors.Is(err, ErrConstraintViolation))
}

func TestRecordFromEvent_NumbersAttempts(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := &Event{
		ID:         "evt-1",
		Topic:      "ConventionSubmitted",
		Payload:    []byte(`{"conventionId":"c-42"}`),
		OccurredAt: now.Add(-time.Hour),
		Publications: []PublicationAttempt{
			{PublishedAt: now, Failures: []SubscriberFailure{{SubscriptionID: "b", ErrorMessage: "boom"}}},
			{PublishedAt: now.Add(time.Minute)},
		},
	}

	record := recordFromEvent(event)

	assert.Equal(t, StatusPublished, record.Status)
	assert.Equal(t, 2, record.AttemptCount)
	assert.Equal(t, 1, record.Attempts[0].Position)
	assert.Equal(t, 2, record.Attempts[1].Position)
	assert.Len(t, record.Attempts[0].Failures, 1)
	assert.Empty(t, record.Attempts[1].Failures)
}

func TestRecordFromEvent_PublishedEventLeavesBothFetchPools(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := &Event{
		ID:         "evt-1",
		Topic:      "ConventionSubmitted",
		Payload:    []byte(`{"conventionId":"c-42"}`),
		OccurredAt: now.Add(-time.Hour),
		Publications: []PublicationAttempt{
			{PublishedAt: now},
		},
	}

	record := recordFromEvent(event)

	// The fetch queries filter on the unpublished and retry statuses only, so
	// a saved record carrying one clean attempt matches neither pool.
	assert.Equal(t, StatusPublished, record.Status)
	assert.NotEqual(t, StatusUnpublished, record.Status)
	assert.NotEqual(t, StatusRetry, record.Status)
}

func TestEventFromRecord_RoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := &Event{
		ID:             "evt-1",
		Topic:          "ConventionRejected",
		Payload:        []byte(`{"conventionId":"c-7"}`),
		OccurredAt:     now.Add(-time.Hour),
		WasQuarantined: true,
		Publications: []PublicationAttempt{
			{PublishedAt: now, Failures: []SubscriberFailure{{SubscriptionID: "mailer", ErrorMessage: "boom"}}},
		},
	}

	rehydrated := eventFromRecord(recordFromEvent(event))

	assert.Equal(t, event.ID, rehydrated.ID)
	assert.Equal(t, event.Topic, rehydrated.Topic)
	assert.Equal(t, event.OccurredAt, rehydrated.OccurredAt)
	assert.True(t, rehydrated.WasQuarantined)
	assert.Equal(t, event.Publications, rehydrated.Publications)
	assert.Equal(t, StatusQuarantined, rehydrated.Status())
}
