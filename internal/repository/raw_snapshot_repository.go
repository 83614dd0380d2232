package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tmorland/heritagetrack/internal/domain"
)

type postgresRawSnapshotRepository struct {
	db DBTX
}

func (r *postgresRawSnapshotRepository) StoreBatch(ctx context.Context, records []domain.RawSnapshot) (int, error) {
	stored := 0
	for _, record := range records {
		rawJSON, err := json.Marshal(record.RawData)
		if err != nil {
			return stored, fmt.Errorf("failed to marshal raw record %s: %w", record.UniqueID, err)
		}

		tag, err := r.db.Exec(
			ctx,
			`INSERT INTO raw_snapshots (id, snapshot_date, unique_id, raw_data)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (snapshot_date, unique_id) DO NOTHING`,
			record.ID, record.SnapshotDate, record.UniqueID, rawJSON,
		)
		if err != nil {
			return stored, fmt.Errorf("failed to store raw record %s: %w", record.UniqueID, err)
		}
		stored += int(tag.RowsAffected())
	}

	return stored, nil
}

func (r *postgresRawSnapshotRepository) ListByDate(ctx context.Context, date time.Time, page domain.PageRequest) ([]domain.RawSnapshot, int, error) {
	rows, err := r.db.Query(
		ctx,
		`SELECT id, snapshot_date, unique_id, raw_data, COUNT(*) OVER() AS total_count
		 FROM raw_snapshots
		 WHERE snapshot_date = $1
		 ORDER BY unique_id
		 LIMIT $2 OFFSET $3`,
		date, page.PageSize, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list raw snapshots: %w", err)
	}
	defer rows.Close()

	records := []domain.RawSnapshot{}
	total := 0
	for rows.Next() {
		var record domain.RawSnapshot
		var rawJSON []byte
		if err := rows.Scan(&record.ID, &record.SnapshotDate, &record.UniqueID, &rawJSON, &total); err != nil {
			return nil, 0, fmt.Errorf("failed to scan raw snapshot: %w", err)
		}
		if err := json.Unmarshal(rawJSON, &record.RawData); err != nil {
			return nil, 0, fmt.Errorf("failed to decode raw data for %s: %w", record.UniqueID, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate raw snapshots: %w", err)
	}

	return records, total, nil
}

func (r *postgresRawSnapshotRepository) HistoryByUniqueID(ctx context.Context, uniqueID string) ([]domain.RawSnapshot, error) {
	rows, err := r.db.Query(
		ctx,
		`SELECT id, snapshot_date, unique_id, raw_data FROM raw_snapshots
		 WHERE unique_id = $1
		 ORDER BY snapshot_date DESC`,
		uniqueID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw history for %s: %w", uniqueID, err)
	}
	defer rows.Close()

	records := []domain.RawSnapshot{}
	for rows.Next() {
		var record domain.RawSnapshot
		var rawJSON []byte
		if err := rows.Scan(&record.ID, &record.SnapshotDate, &record.UniqueID, &rawJSON); err != nil {
			return nil, fmt.Errorf("failed to scan raw snapshot: %w", err)
		}
		if err := json.Unmarshal(rawJSON, &record.RawData); err != nil {
			return nil, fmt.Errorf("failed to decode raw data for %s: %w", record.UniqueID, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate raw snapshots: %w", err)
	}

	return records, nil
}

func (r *postgresRawSnapshotRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM raw_snapshots`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count raw snapshots: %w", err)
	}
	return count, nil
}
