package domain

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot sources.
const (
	SourceScrape = "scrape"
	SourceImport = "import"
)

// RawSnapshot preserves one verbatim register record as received for one
// ingestion run. Append-only; used for audit and replay, never for
// query-time state derivation.
type RawSnapshot struct {
	ID           uuid.UUID      `json:"id"`
	SnapshotDate time.Time      `json:"snapshot_date"`
	UniqueID     string         `json:"unique_id"`
	RawData      map[string]any `json:"raw_data"`
}

// NewRawSnapshot wraps one verbatim payload for storage.
func NewRawSnapshot(snapshotDate time.Time, uniqueID string, rawData map[string]any) RawSnapshot {
	return RawSnapshot{
		ID:           uuid.New(),
		SnapshotDate: snapshotDate,
		UniqueID:     uniqueID,
		RawData:      rawData,
	}
}

// SnapshotMetadata records one ingestion run: the run date, where the
// batch came from, and the resulting counts. AssetCount is the number of
// entities current as of the run date and serves as the correctness
// oracle for as-of queries.
type SnapshotMetadata struct {
	ID           uuid.UUID `json:"id"`
	SnapshotDate time.Time `json:"snapshot_date"`
	Source       string    `json:"source"`
	SourceFile   string    `json:"source_file,omitempty"`
	AssetCount   int       `json:"asset_count"`
	AddedCount   int       `json:"added_count"`
	UpdatedCount int       `json:"updated_count"`
	RemovedCount int       `json:"removed_count"`
	CreatedAt    time.Time `json:"created_at"`
}
