package query

import (
	"context"
	"fmt"
	"time"

	"github.com/tmorland/heritagetrack/internal/domain"
	"github.com/tmorland/heritagetrack/internal/repository"
)

// Service is the read side: current state, point-in-time views, version
// history, the change log, and register statistics. It never writes.
type Service struct {
	store repository.Store
}

func NewService(store repository.Store) *Service {
	return &Service{store: store}
}

// Current returns one page of the current register view.
func (s *Service) Current(ctx context.Context, filter domain.AssetFilter, page domain.PageRequest) (domain.Page[domain.Asset], error) {
	page = page.Normalize()
	assets, total, err := s.store.Assets().ListCurrent(ctx, filter, page)
	if err != nil {
		return domain.Page[domain.Asset]{}, fmt.Errorf("failed to list current assets: %w", err)
	}
	return domain.NewPage(assets, total, page), nil
}

// Asset returns the current version of one register record.
func (s *Service) Asset(ctx context.Context, uniqueID string) (domain.Asset, error) {
	return s.store.Assets().CurrentByUniqueID(ctx, uniqueID)
}

// AssetHistory is the full version timeline of one register record.
type AssetHistory struct {
	UniqueID string         `json:"unique_id"`
	Current  *domain.Asset  `json:"current"`
	History  []domain.Asset `json:"history"`
}

// History returns every version of one record, oldest first, plus its
// current version when one is open. Unknown ids are a not-found
// condition rather than an empty timeline.
func (s *Service) History(ctx context.Context, uniqueID string) (AssetHistory, error) {
	versions, err := s.store.Assets().History(ctx, uniqueID)
	if err != nil {
		return AssetHistory{}, fmt.Errorf("failed to load history for %s: %w", uniqueID, err)
	}
	if len(versions) == 0 {
		return AssetHistory{}, domain.NotFoundError{Kind: "asset", Key: uniqueID}
	}

	history := AssetHistory{UniqueID: uniqueID, History: versions}
	last := versions[len(versions)-1]
	if last.IsCurrent() {
		history.Current = &last
	}
	return history, nil
}

// AsOf returns one page of the register as it stood on the given date.
func (s *Service) AsOf(ctx context.Context, date time.Time, filter domain.AssetFilter, page domain.PageRequest) (domain.Page[domain.Asset], error) {
	page = page.Normalize()
	assets, total, err := s.store.Assets().ListAsOf(ctx, date, filter, page)
	if err != nil {
		return domain.Page[domain.Asset]{}, fmt.Errorf("failed to list assets as of %s: %w", date.Format("2006-01-02"), err)
	}
	return domain.NewPage(assets, total, page), nil
}

// Changes returns one page of the change log, newest first.
func (s *Service) Changes(ctx context.Context, filter domain.ChangeFilter, page domain.PageRequest) (domain.Page[domain.ChangeEvent], error) {
	page = page.Normalize()
	events, total, err := s.store.Changes().List(ctx, filter, page)
	if err != nil {
		return domain.Page[domain.ChangeEvent]{}, fmt.Errorf("failed to list change events: %w", err)
	}
	return domain.NewPage(events, total, page), nil
}

// ChangesBetween returns every change detected after the earlier of the
// two dates and up to and including the later, oldest first. Argument
// order does not matter.
func (s *Service) ChangesBetween(ctx context.Context, d1, d2 time.Time) ([]domain.ChangeEvent, error) {
	from, to := d1, d2
	if from.After(to) {
		from, to = to, from
	}
	events, err := s.store.Changes().ListBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes between %s and %s: %w",
			from.Format("2006-01-02"), to.Format("2006-01-02"), err)
	}
	return events, nil
}

// AssetChanges returns the change log of one record, newest first.
func (s *Service) AssetChanges(ctx context.Context, uniqueID string) ([]domain.ChangeEvent, error) {
	return s.store.Changes().ListByUniqueID(ctx, uniqueID)
}

// RawHistory returns the verbatim payloads captured for one record,
// newest snapshot first.
func (s *Service) RawHistory(ctx context.Context, uniqueID string) ([]domain.RawSnapshot, error) {
	return s.store.RawSnapshots().HistoryByUniqueID(ctx, uniqueID)
}

// Snapshots returns every recorded ingestion run, newest first.
func (s *Service) Snapshots(ctx context.Context) ([]domain.SnapshotMetadata, error) {
	return s.store.Snapshots().List(ctx)
}

// RawSnapshot returns one page of the verbatim payloads captured on the
// given run date. A date with no captured rows is a not-found condition.
func (s *Service) RawSnapshot(ctx context.Context, date time.Time, page domain.PageRequest) (domain.Page[domain.RawSnapshot], error) {
	page = page.Normalize()
	records, total, err := s.store.RawSnapshots().ListByDate(ctx, date, page)
	if err != nil {
		return domain.Page[domain.RawSnapshot]{}, fmt.Errorf("failed to list raw snapshot: %w", err)
	}
	if total == 0 {
		return domain.Page[domain.RawSnapshot]{}, domain.NotFoundError{Kind: "raw snapshot", Key: date.Format("2006-01-02")}
	}
	return domain.NewPage(records, total, page), nil
}

// Stats summarizes the whole store.
type Stats struct {
	CurrentAssets  int64          `json:"current_assets"`
	TotalVersions  int64          `json:"total_versions"`
	ChangeEvents   int64          `json:"change_events"`
	RawRecords     int64          `json:"raw_records"`
	Snapshots      int64          `json:"snapshots"`
	OldestSnapshot *time.Time     `json:"oldest_snapshot"`
	NewestSnapshot *time.Time     `json:"newest_snapshot"`
	ByLocation     map[string]int `json:"by_location"`
	ByCategory     map[string]int `json:"by_category"`
}

// Stats gathers store-wide counts and the snapshot date range.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	var err error

	if stats.CurrentAssets, err = s.store.Assets().CountCurrent(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to count current assets: %w", err)
	}
	if stats.TotalVersions, err = s.store.Assets().CountVersions(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to count versions: %w", err)
	}
	if stats.ChangeEvents, err = s.store.Changes().Count(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to count change events: %w", err)
	}
	if stats.RawRecords, err = s.store.RawSnapshots().Count(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to count raw records: %w", err)
	}
	if stats.Snapshots, err = s.store.Snapshots().Count(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to count snapshots: %w", err)
	}
	if stats.OldestSnapshot, stats.NewestSnapshot, err = s.store.Snapshots().DateRange(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to load snapshot date range: %w", err)
	}
	if stats.ByLocation, err = s.store.Assets().CountCurrentByLocation(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to group assets by location: %w", err)
	}
	if stats.ByCategory, err = s.store.Assets().CountCurrentByCategory(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to group assets by category: %w", err)
	}

	return stats, nil
}
