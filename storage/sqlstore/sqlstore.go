package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/conventio/outbox/storage"
)

const (
	tableEvents   = "outbox_events"
	tableAttempts = "outbox_publications"
	tableFailures = "outbox_publication_failures"
)

// Delivery statuses as stored in the status column.
const (
	StatusUnpublished = 0
	StatusPublished   = 1
	StatusRetry       = 2
	StatusQuarantined = 3
)

// SQL queries
const (
	upsertEventQuery = `
		INSERT INTO %s (id, topic, payload, occurred_at, status, was_quarantined, claimed_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
		ON DUPLICATE KEY UPDATE status = VALUES(status), was_quarantined = VALUES(was_quarantined), claimed_at = NULL`

	maxPositionQuery = `SELECT COALESCE(MAX(position), 0) FROM %s WHERE event_id = ?`

	insertAttemptQuery = `INSERT INTO %s (event_id, position, published_at) VALUES (?, ?, ?)`

	insertFailureQuery = `INSERT INTO %s (publication_id, subscription_id, error_message) VALUES (?, ?, ?)`

	fetchDueQuery = `
		SELECT e.id, e.topic, e.payload, e.occurred_at, e.status, e.was_quarantined,
		       (SELECT COUNT(*) FROM %s p WHERE p.event_id = e.id) AS attempt_count
		FROM %s e
		WHERE e.status = ? AND e.claimed_at IS NULL
		ORDER BY e.occurred_at
		LIMIT ?
		FOR UPDATE SKIP LOCKED`

	claimQuery = `UPDATE %s SET claimed_at = ? WHERE id IN (%s)`

	latestAttemptQuery = `
		SELECT id, position, published_at
		FROM %s
		WHERE event_id = ?
		ORDER BY position DESC
		LIMIT 1`

	attemptHistoryQuery = `
		SELECT id, position, published_at
		FROM %s
		WHERE event_id = ?
		ORDER BY position`

	attemptFailuresQuery = `
		SELECT subscription_id, error_message
		FROM %s
		WHERE publication_id = ?
		ORDER BY id`

	releaseClaimsQuery = `UPDATE %s SET claimed_at = NULL WHERE claimed_at IS NOT NULL AND claimed_at < ?`

	deleteFailuresQuery = `
		DELETE f FROM %s f
		JOIN %s p ON p.id = f.publication_id
		JOIN %s e ON e.id = p.event_id
		WHERE e.status = ? AND e.updated_at < ?`

	deleteAttemptsQuery = `
		DELETE p FROM %s p
		JOIN %s e ON e.id = p.event_id
		WHERE e.status = ? AND e.updated_at < ?`

	deleteEventsQuery = `DELETE FROM %s WHERE status = ? AND updated_at < ?`
)

// SQLStore is the MySQL-backed storage.Store. Save joins the ambient
// transaction resolved from context; the fetch paths open their own short
// claiming transactions.
type SQLStore struct {
	db     *sql.DB
	getter *trmsql.CtxGetter
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewSQLStore creates a SQLStore. A nil getter falls back to the default
// transaction-manager context getter, a nil clock to the wall clock and a nil
// logger to a no-op logger.
func NewSQLStore(db *sql.DB, getter *trmsql.CtxGetter, clock clockwork.Clock, logger *zap.Logger) *SQLStore {
	if getter == nil {
		getter = trmsql.DefaultCtxGetter
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		db:     db,
		getter: getter,
		clock:  clock,
		logger: logger,
	}
}

// Save upserts the event row and appends any publication attempts not yet
// persisted. Immutable columns are written once on insert and never updated;
// previously stored attempts are never touched. A successful save also
// releases the event's claim marker.
func (s *SQLStore) Save(ctx context.Context, record *storage.EventRecord) error {
	tr := s.getter.DefaultTrOrDB(ctx, s.db)

	query := fmt.Sprintf(upsertEventQuery, tableEvents)
	_, err := tr.ExecContext(ctx, query,
		record.ID,
		record.Topic,
		record.Payload,
		record.OccurredAt,
		record.Status,
		record.WasQuarantined,
	)
	if err != nil {
		return fmt.Errorf("failed to save outbox event: %w", convertDBError(err))
	}

	var stored int
	row := tr.QueryRowContext(ctx, fmt.Sprintf(maxPositionQuery, tableAttempts), record.ID)
	if err := row.Scan(&stored); err != nil {
		return fmt.Errorf("failed to count stored attempts: %w", err)
	}

	for _, attempt := range record.Attempts {
		if attempt.Position <= stored {
			continue
		}
		if err := s.insertAttempt(ctx, tr, record.ID, attempt); err != nil {
			return err
		}
	}

	return nil
}

func (s *SQLStore) insertAttempt(ctx context.Context, tr storage.DBTX, eventID string, attempt storage.AttemptRecord) error {
	res, err := tr.ExecContext(ctx, fmt.Sprintf(insertAttemptQuery, tableAttempts),
		eventID, attempt.Position, attempt.PublishedAt)
	if err != nil {
		return fmt.Errorf("failed to append publication attempt: %w", convertDBError(err))
	}

	publicationID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read publication id: %w", err)
	}

	for _, failure := range attempt.Failures {
		_, err := tr.ExecContext(ctx, fmt.Sprintf(insertFailureQuery, tableFailures),
			publicationID, failure.SubscriptionID, failure.ErrorMessage)
		if err != nil {
			return fmt.Errorf("failed to record subscriber failure: %w", convertDBError(err))
		}
	}

	return nil
}

// FetchUnpublished claims up to limit never-published events, oldest business
// fact first. Claiming happens in one short transaction guarded by
// FOR UPDATE SKIP LOCKED so concurrent crawlers never select the same rows.
func (s *SQLStore) FetchUnpublished(ctx context.Context, limit int) ([]storage.EventRecord, error) {
	return s.fetchAndClaim(ctx, StatusUnpublished, limit, false)
}

// FetchRetryable claims up to limit retryable failed events, oldest business
// fact first. Quarantined events never match the status filter. The latest
// attempt's failures are materialized on each returned record.
func (s *SQLStore) FetchRetryable(ctx context.Context, limit int) ([]storage.EventRecord, error) {
	return s.fetchAndClaim(ctx, StatusRetry, limit, true)
}

func (s *SQLStore) fetchAndClaim(ctx context.Context, status, limit int, loadLatest bool) ([]storage.EventRecord, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(fetchDueQuery, tableAttempts, tableEvents)
	rows, err := tx.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due events: %w", err)
	}

	records, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	if err := s.claim(ctx, tx, records); err != nil {
		return nil, err
	}

	if loadLatest {
		for i := range records {
			if err := s.loadLatestAttempt(ctx, tx, &records[i]); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}

	return records, nil
}

func (s *SQLStore) claim(ctx context.Context, tx *sql.Tx, records []storage.EventRecord) error {
	placeholders := strings.Repeat("?,", len(records)-1) + "?"
	query := fmt.Sprintf(claimQuery, tableEvents, placeholders)

	args := make([]interface{}, len(records)+1)
	args[0] = s.clock.Now().UTC()
	for i, record := range records {
		args[i+1] = record.ID
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to claim events: %w", err)
	}
	return nil
}

func (s *SQLStore) loadLatestAttempt(ctx context.Context, tx *sql.Tx, record *storage.EventRecord) error {
	var (
		publicationID int64
		attempt       storage.AttemptRecord
	)
	row := tx.QueryRowContext(ctx, fmt.Sprintf(latestAttemptQuery, tableAttempts), record.ID)
	if err := row.Scan(&publicationID, &attempt.Position, &attempt.PublishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to load latest attempt: %w", err)
	}

	failures, err := s.loadFailures(ctx, tx, publicationID)
	if err != nil {
		return err
	}
	attempt.Failures = failures

	record.Attempts = []storage.AttemptRecord{attempt}
	return nil
}

func (s *SQLStore) loadFailures(ctx context.Context, tr storage.DBTX, publicationID int64) ([]storage.FailureRecord, error) {
	rows, err := tr.QueryContext(ctx, fmt.Sprintf(attemptFailuresQuery, tableFailures), publicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriber failures: %w", err)
	}
	defer rows.Close()

	var failures []storage.FailureRecord
	for rows.Next() {
		var failure storage.FailureRecord
		if err := rows.Scan(&failure.SubscriptionID, &failure.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber failure: %w", err)
		}
		failures = append(failures, failure)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading subscriber failures: %w", err)
	}
	return failures, nil
}

// FetchAttempts returns the full publication history of one event, oldest
// attempt first.
func (s *SQLStore) FetchAttempts(ctx context.Context, eventID string) ([]storage.AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(attemptHistoryQuery, tableAttempts), eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempt history: %w", err)
	}
	defer rows.Close()

	type storedAttempt struct {
		publicationID int64
		attempt       storage.AttemptRecord
	}
	var stored []storedAttempt
	for rows.Next() {
		var sa storedAttempt
		if err := rows.Scan(&sa.publicationID, &sa.attempt.Position, &sa.attempt.PublishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		stored = append(stored, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading attempt rows: %w", err)
	}
	rows.Close()

	attempts := make([]storage.AttemptRecord, 0, len(stored))
	for _, sa := range stored {
		failures, err := s.loadFailures(ctx, s.db, sa.publicationID)
		if err != nil {
			return nil, err
		}
		sa.attempt.Failures = failures
		attempts = append(attempts, sa.attempt)
	}
	return attempts, nil
}

// ReleaseExpiredClaims clears claim markers older than olderThan.
func (s *SQLStore) ReleaseExpiredClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := s.clock.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(releaseClaimsQuery, tableEvents), threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to release expired claims: %w", err)
	}
	return res.RowsAffected()
}

// DeletePublishedBefore removes published events last touched before cutoff,
// together with their publication history.
func (s *SQLStore) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin cleanup transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(deleteFailuresQuery, tableFailures, tableAttempts, tableEvents)
	if _, err := tx.ExecContext(ctx, query, StatusPublished, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete subscriber failures: %w", err)
	}

	query = fmt.Sprintf(deleteAttemptsQuery, tableAttempts, tableEvents)
	if _, err := tx.ExecContext(ctx, query, StatusPublished, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete publication attempts: %w", err)
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(deleteEventsQuery, tableEvents), StatusPublished, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete published events: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup transaction: %w", err)
	}
	return deleted, nil
}

func scanEvents(rows *sql.Rows) ([]storage.EventRecord, error) {
	defer rows.Close()

	var records []storage.EventRecord
	for rows.Next() {
		var record storage.EventRecord
		if err := rows.Scan(
			&record.ID,
			&record.Topic,
			&record.Payload,
			&record.OccurredAt,
			&record.Status,
			&record.WasQuarantined,
			&record.AttemptCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading event rows: %w", err)
	}
	return records, nil
}

// convertDBError maps driver-level constraint errors to
// storage.ErrConstraintViolation.
func convertDBError(err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1048, 1062, 1452: // NOT NULL, duplicate key, foreign key
			return fmt.Errorf("%w: %s", storage.ErrConstraintViolation, mysqlErr.Message)
		}
	}
	return err
}

// EnsureTables creates the outbox tables if they do not exist.
func (s *SQLStore) EnsureTables(ctx context.Context) error {
	for _, query := range []string{createEventsTable, createAttemptsTable, createFailuresTable} {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create outbox tables: %w", err)
		}
	}
	return nil
}

const createEventsTable = `
	CREATE TABLE IF NOT EXISTS outbox_events (
		id              CHAR(36)     PRIMARY KEY,
		topic           VARCHAR(255) NOT NULL,
		payload         JSON         NOT NULL,
		occurred_at     TIMESTAMP(6) NOT NULL,
		status          INT          NOT NULL DEFAULT 0 COMMENT '0 - unpublished, 1 - published, 2 - retry, 3 - quarantined',
		was_quarantined TINYINT(1)   NOT NULL DEFAULT 0,
		claimed_at      TIMESTAMP(6) NULL,
		created_at      TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at      TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		INDEX idx_status_occurred (status, occurred_at),
		INDEX idx_claimed_at (claimed_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
`

const createAttemptsTable = `
	CREATE TABLE IF NOT EXISTS outbox_publications (
		id           BIGINT AUTO_INCREMENT PRIMARY KEY,
		event_id     CHAR(36)     NOT NULL,
		position     INT          NOT NULL,
		published_at TIMESTAMP(6) NOT NULL,
		UNIQUE KEY uq_event_position (event_id, position),
		CONSTRAINT fk_publication_event FOREIGN KEY (event_id) REFERENCES outbox_events (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
`

const createFailuresTable = `
	CREATE TABLE IF NOT EXISTS outbox_publication_failures (
		id              BIGINT AUTO_INCREMENT PRIMARY KEY,
		publication_id  BIGINT       NOT NULL,
		subscription_id VARCHAR(255) NOT NULL,
		error_message   TEXT         NULL,
		INDEX idx_failure_publication (publication_id),
		CONSTRAINT fk_failure_publication FOREIGN KEY (publication_id) REFERENCES outbox_publications (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
`
