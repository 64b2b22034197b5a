package outbox

import (
	"encoding/json"
	"time"
)

// Delivery statuses of an event. Status is never stored independently of the
// publication history: it is recomputed from the history on every write path.
const (
	StatusUnpublished = 0
	StatusPublished   = 1
	StatusRetry       = 2
	StatusQuarantined = 3
)

// StatusName returns a human-readable name for a delivery status.
func StatusName(status int) string {
	switch status {
	case StatusUnpublished:
		return "unpublished"
	case StatusPublished:
		return "published"
	case StatusRetry:
		return "failed-will-retry"
	case StatusQuarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

// Topic identifies the kind of business fact an event carries and therefore
// which subscribers care about it. The set of valid topics is closed and
// supplied to the Factory at construction time.
type Topic string

// TopicSet is an immutable membership set of topics.
type TopicSet map[Topic]struct{}

// NewTopicSet builds a TopicSet from the given topics.
func NewTopicSet(topics ...Topic) TopicSet {
	set := make(TopicSet, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	return set
}

// Contains reports whether topic is a member of the set.
func (s TopicSet) Contains(topic Topic) bool {
	_, ok := s[topic]
	return ok
}

// SubscriberFailure records a single subscriber's failure to process one
// publication attempt. The error message is diagnostic only and never drives
// control flow.
type SubscriberFailure struct {
	SubscriptionID string
	ErrorMessage   string
}

// PublicationAttempt is the outcome of one fan-out delivery cycle for an
// event. An empty failure set means every subscriber known at the time
// succeeded. Attempts are append-only: once recorded they are never mutated.
type PublicationAttempt struct {
	PublishedAt time.Time
	Failures    []SubscriberFailure
}

// Succeeded reports whether the attempt completed without any subscriber
// failure.
func (a PublicationAttempt) Succeeded() bool {
	return len(a.Failures) == 0
}

// Event is one durable business fact plus its delivery bookkeeping.
//
// ID, Topic, Payload and OccurredAt are immutable after creation. The only
// mutations are appends to Publications via Append, which also maintains the
// sticky WasQuarantined flag.
type Event struct {
	ID             string
	Topic          Topic
	Payload        json.RawMessage
	OccurredAt     time.Time
	WasQuarantined bool
	Publications   []PublicationAttempt
}

// Status derives the delivery status from the publication history.
//
// No publications means the event was never handed to any subscriber. A clean
// latest attempt means it is published, regardless of earlier failures. A
// failed latest attempt keeps the event retryable unless its topic was
// quarantine-eligible at failure time, in which case the event is permanently
// parked.
func (e *Event) Status() int {
	last, ok := e.LatestAttempt()
	switch {
	case !ok:
		return StatusUnpublished
	case last.Succeeded():
		return StatusPublished
	case e.WasQuarantined:
		return StatusQuarantined
	default:
		return StatusRetry
	}
}

// LatestAttempt returns the most recent publication attempt, if any.
func (e *Event) LatestAttempt() (PublicationAttempt, bool) {
	if len(e.Publications) == 0 {
		return PublicationAttempt{}, false
	}
	return e.Publications[len(e.Publications)-1], true
}

// Append records the outcome of one delivery cycle. quarantineEligible is the
// topic's quarantine eligibility evaluated with the configuration current at
// delivery time; a failed attempt on an eligible topic sets WasQuarantined,
// and the flag never reverts once set.
func (e *Event) Append(publishedAt time.Time, failures []SubscriberFailure, quarantineEligible bool) {
	attempt := PublicationAttempt{
		PublishedAt: publishedAt,
		Failures:    failures,
	}
	e.Publications = append(e.Publications, attempt)

	if !attempt.Succeeded() && quarantineEligible {
		e.WasQuarantined = true
	}
}
