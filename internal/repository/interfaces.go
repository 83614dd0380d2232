package repository

import (
	"context"
	"time"

	"github.com/tmorland/heritagetrack/internal/domain"
)

// AssetRepository defines the versioned entity store: SCD Type 2 rows
// with open/close transitions and interval queries.
type AssetRepository interface {
	// CurrentView returns every open version keyed by unique id.
	CurrentView(ctx context.Context) (map[string]domain.Asset, error)
	// CurrentByUniqueID returns the open version for one identity.
	CurrentByUniqueID(ctx context.Context, uniqueID string) (domain.Asset, error)
	// AsOf returns every version whose validity interval contains date,
	// keyed by unique id.
	AsOf(ctx context.Context, date time.Time) (map[string]domain.Asset, error)
	// History returns all versions for one identity, oldest first.
	History(ctx context.Context, uniqueID string) ([]domain.Asset, error)

	// OpenVersion inserts a new open row. Fails with
	// InvariantViolationError if an open row already exists.
	OpenVersion(ctx context.Context, uniqueID string, fields domain.AssetFields, openDate time.Time) (domain.Asset, error)
	// CloseVersion closes the open row. Fails with NotFoundError if no
	// open row exists and InvariantViolationError if closeDate is not
	// after the open row's valid_from.
	CloseVersion(ctx context.Context, uniqueID string, closeDate time.Time) error

	ListCurrent(ctx context.Context, filter domain.AssetFilter, page domain.PageRequest) ([]domain.Asset, int, error)
	ListAsOf(ctx context.Context, date time.Time, filter domain.AssetFilter, page domain.PageRequest) ([]domain.Asset, int, error)

	CountCurrent(ctx context.Context) (int64, error)
	CountVersions(ctx context.Context) (int64, error)
	CountCurrentByLocation(ctx context.Context) (map[string]int, error)
	CountCurrentByCategory(ctx context.Context) (map[string]int, error)
}

// ChangeEventRepository stores the append-only change log.
type ChangeEventRepository interface {
	Append(ctx context.Context, event domain.ChangeEvent) (domain.ChangeEvent, error)
	List(ctx context.Context, filter domain.ChangeFilter, page domain.PageRequest) ([]domain.ChangeEvent, int, error)
	// ListBetween returns events with change_date in (from, to].
	ListBetween(ctx context.Context, from, to time.Time) ([]domain.ChangeEvent, error)
	ListByUniqueID(ctx context.Context, uniqueID string) ([]domain.ChangeEvent, error)
	Count(ctx context.Context) (int64, error)
}

// RawSnapshotRepository preserves verbatim register payloads per run.
type RawSnapshotRepository interface {
	// StoreBatch appends the run's raw records. Re-storing the same
	// (date, unique id) pair is a no-op so re-runs stay idempotent.
	StoreBatch(ctx context.Context, records []domain.RawSnapshot) (int, error)
	ListByDate(ctx context.Context, date time.Time, page domain.PageRequest) ([]domain.RawSnapshot, int, error)
	HistoryByUniqueID(ctx context.Context, uniqueID string) ([]domain.RawSnapshot, error)
	Count(ctx context.Context) (int64, error)
}

// SnapshotMetadataRepository records one row per ingestion run.
type SnapshotMetadataRepository interface {
	// Record upserts the run's metadata by snapshot date. The asset
	// count is replaced and transition counts accumulate, so a pure
	// re-run adds zero and leaves the original counts intact.
	Record(ctx context.Context, meta domain.SnapshotMetadata) (domain.SnapshotMetadata, error)
	GetByDate(ctx context.Context, date time.Time) (domain.SnapshotMetadata, error)
	// List returns all runs, newest first.
	List(ctx context.Context) ([]domain.SnapshotMetadata, error)
	Count(ctx context.Context) (int64, error)
	// DateRange returns the oldest and newest run dates, nil when empty.
	DateRange(ctx context.Context) (*time.Time, *time.Time, error)
}

// Store bundles the four repositories with one atomic unit of work.
type Store interface {
	Assets() AssetRepository
	Changes() ChangeEventRepository
	RawSnapshots() RawSnapshotRepository
	Snapshots() SnapshotMetadataRepository

	// WithinTx runs fn against a transactional view of the store.
	// Either every mutation fn performs commits together or none do;
	// concurrent readers observe only the pre- or post-transaction
	// state.
	WithinTx(ctx context.Context, fn func(Store) error) error
}
