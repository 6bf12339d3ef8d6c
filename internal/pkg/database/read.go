package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// GetHistory returns the values of one property, newest first. to defaults to now and
// from to two days before to.
func (db *Database) GetHistory(ctx context.Context, entityID, property string, from, to *time.Time) (Records, error) {
	if to == nil {
		now := time.Now()
		to = &now
	}
	if from == nil {
		start := to.AddDate(0, 0, -2)
		from = &start
	}
	const query = `
	SELECT id, time_stamp, entity_id, node_id, property, value, unit
	FROM property_history
	WHERE entity_id = $1 AND property = $2 AND time_stamp BETWEEN $3 AND $4
	ORDER BY time_stamp DESC;
	`

	rows, err := db.pool.Query(ctx, query, entityID, property, *from, *to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetLatest returns the most recent value of every property recorded for an entity.
func (db *Database) GetLatest(ctx context.Context, entityID string) (Records, error) {
	const query = `
	SELECT DISTINCT ON (property) id, time_stamp, entity_id, node_id, property, value, unit
	FROM property_history
	WHERE entity_id = $1
	ORDER BY property, time_stamp DESC;
	`

	rows, err := db.pool.Query(ctx, query, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) (Records, error) {
	var records Records
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.TimeStamp, &r.EntityID, &r.NodeID, &r.Property, &r.Value, &r.Unit); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return records, nil
		}
		return nil, err
	}

	return records, nil
}
