package outbox

import (
	"errors"

	"github.com/conventio/outbox/storage"
)

var (
	// ErrUnknownTopic is returned by the Factory when a topic is not a member
	// of the configured closed topic set.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrEmptyPayload is returned by the Factory when no payload is supplied.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrConstraintViolation is returned by the store when a save breaks a
	// storage-level constraint. It aborts the surrounding transaction rather
	// than being swallowed.
	ErrConstraintViolation = storage.ErrConstraintViolation
)
