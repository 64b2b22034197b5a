package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/conventio/outbox/storage"
)

func TestSweeper_Sweep(t *testing.T) {
	mockStore := new(storage.MockStore)
	sweeper := NewSweeper(mockStore, WithClaimTimeout(5*time.Minute))

	mockStore.On("ReleaseExpiredClaims", mock.Anything, 5*time.Minute).Return(int64(3), nil).Once()

	err := sweeper.Sweep(context.Background())

	assert.NoError(t, err)
	mockStore.AssertExpectations(t)
}

func TestSweeper_Sweep_NothingExpired(t *testing.T) {
	mockStore := new(storage.MockStore)
	sweeper := NewSweeper(mockStore)

	mockStore.On("ReleaseExpiredClaims", mock.Anything, defaultClaimTimeout).Return(int64(0), nil).Once()

	err := sweeper.Sweep(context.Background())

	assert.NoError(t, err)
	mockStore.AssertExpectations(t)
}

func TestSweeper_Sweep_StoreError(t *testing.T) {
	mockStore := new(storage.MockStore)
	sweeper := NewSweeper(mockStore)

	mockStore.On("ReleaseExpiredClaims", mock.Anything, defaultClaimTimeout).
		Return(int64(0), errors.New("db gone")).Once()

	err := sweeper.Sweep(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to release expired claims")
}
