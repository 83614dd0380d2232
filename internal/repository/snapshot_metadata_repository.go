package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tmorland/heritagetrack/internal/domain"
)

const snapshotMetadataColumns = `id, snapshot_date, source, source_file, asset_count,
	added_count, updated_count, removed_count, created_at`

type postgresSnapshotMetadataRepository struct {
	db DBTX
}

func (r *postgresSnapshotMetadataRepository) Record(ctx context.Context, meta domain.SnapshotMetadata) (domain.SnapshotMetadata, error) {
	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}

	row := r.db.QueryRow(
		ctx,
		fmt.Sprintf(`INSERT INTO snapshot_metadata
			(id, snapshot_date, source, source_file, asset_count, added_count, updated_count, removed_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (snapshot_date) DO UPDATE SET
			asset_count   = EXCLUDED.asset_count,
			added_count   = snapshot_metadata.added_count + EXCLUDED.added_count,
			updated_count = snapshot_metadata.updated_count + EXCLUDED.updated_count,
			removed_count = snapshot_metadata.removed_count + EXCLUDED.removed_count
		 RETURNING %s`, snapshotMetadataColumns),
		meta.ID, meta.SnapshotDate, meta.Source, meta.SourceFile,
		meta.AssetCount, meta.AddedCount, meta.UpdatedCount, meta.RemovedCount,
	)

	recorded, err := scanSnapshotMetadata(row)
	if err != nil {
		return domain.SnapshotMetadata{}, fmt.Errorf("failed to record snapshot metadata: %w", err)
	}

	return recorded, nil
}

func (r *postgresSnapshotMetadataRepository) GetByDate(ctx context.Context, date time.Time) (domain.SnapshotMetadata, error) {
	row := r.db.QueryRow(
		ctx,
		fmt.Sprintf(`SELECT %s FROM snapshot_metadata WHERE snapshot_date = $1`, snapshotMetadataColumns),
		date,
	)

	meta, err := scanSnapshotMetadata(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SnapshotMetadata{}, domain.NotFoundError{Kind: "snapshot", Key: date.Format("2006-01-02")}
		}
		return domain.SnapshotMetadata{}, fmt.Errorf("failed to get snapshot metadata: %w", err)
	}

	return meta, nil
}

func (r *postgresSnapshotMetadataRepository) List(ctx context.Context) ([]domain.SnapshotMetadata, error) {
	rows, err := r.db.Query(
		ctx,
		fmt.Sprintf(`SELECT %s FROM snapshot_metadata ORDER BY snapshot_date DESC`, snapshotMetadataColumns),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot metadata: %w", err)
	}
	defer rows.Close()

	metas := []domain.SnapshotMetadata{}
	for rows.Next() {
		meta, err := scanSnapshotMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot metadata: %w", err)
		}
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot metadata: %w", err)
	}

	return metas, nil
}

func (r *postgresSnapshotMetadataRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM snapshot_metadata`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count snapshot metadata: %w", err)
	}
	return count, nil
}

func (r *postgresSnapshotMetadataRepository) DateRange(ctx context.Context) (*time.Time, *time.Time, error) {
	var oldest, newest pgtype.Date
	err := r.db.QueryRow(
		ctx,
		`SELECT MIN(snapshot_date), MAX(snapshot_date) FROM snapshot_metadata`,
	).Scan(&oldest, &newest)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get snapshot date range: %w", err)
	}

	var oldestDate, newestDate *time.Time
	if oldest.Valid {
		t := oldest.Time
		oldestDate = &t
	}
	if newest.Valid {
		t := newest.Time
		newestDate = &t
	}

	return oldestDate, newestDate, nil
}

func scanSnapshotMetadata(row pgx.Row) (domain.SnapshotMetadata, error) {
	var meta domain.SnapshotMetadata
	err := row.Scan(
		&meta.ID, &meta.SnapshotDate, &meta.Source, &meta.SourceFile, &meta.AssetCount,
		&meta.AddedCount, &meta.UpdatedCount, &meta.RemovedCount, &meta.CreatedAt,
	)
	if err != nil {
		return domain.SnapshotMetadata{}, err
	}
	return meta, nil
}
