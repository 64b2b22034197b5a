package storage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the Store interface for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Save(ctx context.Context, record *EventRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockStore) FetchUnpublished(ctx context.Context, limit int) ([]EventRecord, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]EventRecord), args.Error(1)
}

func (m *MockStore) FetchRetryable(ctx context.Context, limit int) ([]EventRecord, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]EventRecord), args.Error(1)
}

func (m *MockStore) FetchAttempts(ctx context.Context, eventID string) ([]AttemptRecord, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).([]AttemptRecord), args.Error(1)
}

func (m *MockStore) ReleaseExpiredClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) EnsureTables(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
