package cmd

import (
	"context"
	"time"

	"github.com/anicoll/homie-bridge/internal/pkg/database"
	"github.com/anicoll/homie-bridge/internal/pkg/model"
)

// HistoryStore defines the database surface run needs: the publisher sink, the
// history API and the scheduled cleanup.
type HistoryStore interface {
	Write(ctx context.Context, samples []model.Sample) error
	RegisterEntity(ctx context.Context, info model.EntityInfo) error
	GetHistory(ctx context.Context, entityID, property string, from, to *time.Time) (database.Records, error)
	GetLatest(ctx context.Context, entityID string) (database.Records, error)
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}
