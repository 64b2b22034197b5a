package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitOfWork_Do_CommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	uow, err := NewUnitOfWork(db)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE conventions SET status = ? WHERE id = ?").
		WithArgs("submitted", "c-42").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = uow.Do(context.Background(), func(ctx context.Context) error {
		// A repository resolves the ambient transaction the same way the
		// outbox store does.
		tr := trmsql.DefaultCtxGetter.DefaultTrOrDB(ctx, db)
		_, err := tr.ExecContext(ctx, "UPDATE conventions SET status = ? WHERE id = ?", "submitted", "c-42")
		return err
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_Do_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	uow, err := NewUnitOfWork(db)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err = uow.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("enqueue rejected")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue rejected")
	assert.NoError(t, mock.ExpectationsWereMet())
}
