package cmd

import (
	"context"
	"time"

	"github.com/anicoll/homie-bridge/internal/pkg/database"
	"github.com/anicoll/homie-bridge/internal/pkg/model"
)

// MockHistoryStore is a mock implementation of the HistoryStore interface.
type MockHistoryStore struct {
	WriteFunc          func(ctx context.Context, samples []model.Sample) error
	RegisterEntityFunc func(ctx context.Context, info model.EntityInfo) error
	GetHistoryFunc     func(ctx context.Context, entityID, property string, from, to *time.Time) (database.Records, error)
	GetLatestFunc      func(ctx context.Context, entityID string) (database.Records, error)
	CleanupFunc        func(ctx context.Context, retention time.Duration) (int64, error)
}

func (m *MockHistoryStore) Write(ctx context.Context, samples []model.Sample) error {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, samples)
	}
	return nil
}

func (m *MockHistoryStore) RegisterEntity(ctx context.Context, info model.EntityInfo) error {
	if m.RegisterEntityFunc != nil {
		return m.RegisterEntityFunc(ctx, info)
	}
	return nil
}

func (m *MockHistoryStore) GetHistory(ctx context.Context, entityID, property string, from, to *time.Time) (database.Records, error) {
	if m.GetHistoryFunc != nil {
		return m.GetHistoryFunc(ctx, entityID, property, from, to)
	}
	return nil, nil
}

func (m *MockHistoryStore) GetLatest(ctx context.Context, entityID string) (database.Records, error) {
	if m.GetLatestFunc != nil {
		return m.GetLatestFunc(ctx, entityID)
	}
	return nil, nil
}

func (m *MockHistoryStore) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx, retention)
	}
	return 0, nil
}
