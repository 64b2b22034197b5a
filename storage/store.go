package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrConstraintViolation marks a save rejected by a storage-level constraint,
// e.g. a foreign key pointing at a business entity that does not exist.
var ErrConstraintViolation = errors.New("constraint violation")

// DBTX is satisfied by both *sql.DB and *sql.Tx, and by the executor the
// transaction manager resolves from context.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Store defines the durable outbox operations.
type Store interface {
	// Save upserts an event together with its publication history. It joins
	// the transaction carried by ctx when one is active. Attempts already
	// persisted are left untouched; only attempts with a higher position are
	// appended.
	Save(ctx context.Context, record *EventRecord) error
	// FetchUnpublished claims and returns up to limit events that were never
	// handed to any subscriber, oldest business fact first.
	FetchUnpublished(ctx context.Context, limit int) ([]EventRecord, error)
	// FetchRetryable claims and returns up to limit events whose latest
	// attempt failed on a non-quarantined topic, oldest business fact first.
	// Only the latest attempt's failures are materialized.
	FetchRetryable(ctx context.Context, limit int) ([]EventRecord, error)
	// FetchAttempts returns the full publication history of one event for
	// audit purposes.
	FetchAttempts(ctx context.Context, eventID string) ([]AttemptRecord, error)
	// ReleaseExpiredClaims clears claim markers older than olderThan so that
	// events stranded by a crashed crawler become fetchable again.
	ReleaseExpiredClaims(ctx context.Context, olderThan time.Duration) (int64, error)
	// DeletePublishedBefore removes published events whose latest attempt
	// predates cutoff. Operational retention only; the delivery core never
	// calls it.
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// EnsureTables creates the outbox tables if they do not exist.
	EnsureTables(ctx context.Context) error
}

// EventRecord is the database representation of an outbox event.
//
// AttemptCount is the number of publications persisted for the event.
// Attempts holds the history known to the caller: the full history on a
// save of a new event, only the latest attempt on a fetch.
type EventRecord struct {
	ID             string
	Topic          string
	Payload        []byte
	OccurredAt     time.Time
	Status         int
	WasQuarantined bool
	AttemptCount   int
	Attempts       []AttemptRecord
}

// AttemptRecord is one persisted publication attempt. Position is the
// 1-based ordinal of the attempt within the event's history.
type AttemptRecord struct {
	Position    int
	PublishedAt time.Time
	Failures    []FailureRecord
}

// FailureRecord is one subscriber failure within a publication attempt.
type FailureRecord struct {
	SubscriptionID string
	ErrorMessage   string
}
