package database

import (
	"context"
	"time"

	"github.com/anicoll/homie-bridge/internal/pkg/model"
)

func (db *Database) Write(ctx context.Context, samples []model.Sample) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, s := range samples {
		ts := s.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO property_history (time_stamp, entity_id, node_id, property, value, unit)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, ts, s.EntityID, s.NodeID, s.PropertyID, s.Value, s.Unit); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (db *Database) RegisterEntity(ctx context.Context, info model.EntityInfo) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO entity (id, platform, node_id, name, unit)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET platform = EXCLUDED.platform, node_id = EXCLUDED.node_id, name = EXCLUDED.name,
			unit = EXCLUDED.unit, updated_at = now();`,
		info.ID, info.Platform, info.NodeID, info.Name, info.Unit)
	return err
}
