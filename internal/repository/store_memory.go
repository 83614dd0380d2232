package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tmorland/heritagetrack/internal/domain"
)

type memoryData struct {
	assets    []domain.Asset
	changes   []domain.ChangeEvent
	raws      []domain.RawSnapshot
	snapshots []domain.SnapshotMetadata
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		assets:    make([]domain.Asset, len(d.assets)),
		changes:   make([]domain.ChangeEvent, len(d.changes)),
		raws:      make([]domain.RawSnapshot, len(d.raws)),
		snapshots: make([]domain.SnapshotMetadata, len(d.snapshots)),
	}
	copy(c.assets, d.assets)
	copy(c.changes, d.changes)
	copy(c.raws, d.raws)
	copy(c.snapshots, d.snapshots)
	return c
}

// memoryStore is an in-memory Store with the same transition semantics
// as the Postgres store. Transactions stage mutations on a clone and
// swap it in on commit, so a failed unit of work leaves no trace.
type memoryStore struct {
	mu   sync.RWMutex
	data *memoryData
	inTx bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{data: &memoryData{}}
}

func (s *memoryStore) Assets() AssetRepository             { return &memoryAssetRepository{s} }
func (s *memoryStore) Changes() ChangeEventRepository      { return &memoryChangeEventRepository{s} }
func (s *memoryStore) RawSnapshots() RawSnapshotRepository { return &memoryRawSnapshotRepository{s} }
func (s *memoryStore) Snapshots() SnapshotMetadataRepository {
	return &memorySnapshotMetadataRepository{s}
}

func (s *memoryStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := &memoryStore{data: s.data.clone(), inTx: true}
	if err := fn(staged); err != nil {
		return err
	}

	s.data = staged.data
	return nil
}

func (s *memoryStore) rlock() {
	if !s.inTx {
		s.mu.RLock()
	}
}

func (s *memoryStore) runlock() {
	if !s.inTx {
		s.mu.RUnlock()
	}
}

func (s *memoryStore) lock() {
	if !s.inTx {
		s.mu.Lock()
	}
}

func (s *memoryStore) unlock() {
	if !s.inTx {
		s.mu.Unlock()
	}
}

type memoryAssetRepository struct {
	store *memoryStore
}

func (r *memoryAssetRepository) CurrentView(ctx context.Context) (map[string]domain.Asset, error) {
	r.store.rlock()
	defer r.store.runlock()

	view := map[string]domain.Asset{}
	for _, asset := range r.store.data.assets {
		if asset.IsCurrent() {
			view[asset.UniqueID] = asset
		}
	}
	return view, nil
}

func (r *memoryAssetRepository) CurrentByUniqueID(ctx context.Context, uniqueID string) (domain.Asset, error) {
	r.store.rlock()
	defer r.store.runlock()

	for _, asset := range r.store.data.assets {
		if asset.UniqueID == uniqueID && asset.IsCurrent() {
			return asset, nil
		}
	}
	return domain.Asset{}, domain.NotFoundError{Kind: "asset", Key: uniqueID}
}

func (r *memoryAssetRepository) AsOf(ctx context.Context, date time.Time) (map[string]domain.Asset, error) {
	r.store.rlock()
	defer r.store.runlock()

	view := map[string]domain.Asset{}
	for _, asset := range r.store.data.assets {
		if asset.ValidAt(date) {
			view[asset.UniqueID] = asset
		}
	}
	return view, nil
}

func (r *memoryAssetRepository) History(ctx context.Context, uniqueID string) ([]domain.Asset, error) {
	r.store.rlock()
	defer r.store.runlock()

	history := []domain.Asset{}
	for _, asset := range r.store.data.assets {
		if asset.UniqueID == uniqueID {
			history = append(history, asset)
		}
	}
	sort.Slice(history, func(i, j int) bool {
		if !history[i].ValidFrom.Equal(history[j].ValidFrom) {
			return history[i].ValidFrom.Before(history[j].ValidFrom)
		}
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})
	return history, nil
}

func (r *memoryAssetRepository) OpenVersion(ctx context.Context, uniqueID string, fields domain.AssetFields, openDate time.Time) (domain.Asset, error) {
	r.store.lock()
	defer r.store.unlock()

	for _, asset := range r.store.data.assets {
		if asset.UniqueID == uniqueID && asset.IsCurrent() {
			return domain.Asset{}, domain.InvariantViolationError{
				UniqueID: uniqueID,
				Reason:   "an open version already exists; close it first",
			}
		}
	}

	asset := domain.NewAsset(uniqueID, fields, openDate)
	r.store.data.assets = append(r.store.data.assets, asset)
	return asset, nil
}

func (r *memoryAssetRepository) CloseVersion(ctx context.Context, uniqueID string, closeDate time.Time) error {
	r.store.lock()
	defer r.store.unlock()

	for i, asset := range r.store.data.assets {
		if asset.UniqueID != uniqueID || !asset.IsCurrent() {
			continue
		}
		if !closeDate.After(asset.ValidFrom) {
			return domain.InvariantViolationError{
				UniqueID: uniqueID,
				Reason:   "close date is not after valid_from",
			}
		}
		until := closeDate
		r.store.data.assets[i].ValidUntil = &until
		return nil
	}

	return domain.NotFoundError{Kind: "open version for asset", Key: uniqueID}
}

func (r *memoryAssetRepository) ListCurrent(ctx context.Context, filter domain.AssetFilter, page domain.PageRequest) ([]domain.Asset, int, error) {
	r.store.rlock()
	defer r.store.runlock()

	matched := []domain.Asset{}
	for _, asset := range r.store.data.assets {
		if asset.IsCurrent() && matchAssetFilter(asset, filter) {
			matched = append(matched, asset)
		}
	}
	sortAssetsByUniqueID(matched)
	return pageSlice(matched, page), len(matched), nil
}

func (r *memoryAssetRepository) ListAsOf(ctx context.Context, date time.Time, filter domain.AssetFilter, page domain.PageRequest) ([]domain.Asset, int, error) {
	r.store.rlock()
	defer r.store.runlock()

	matched := []domain.Asset{}
	for _, asset := range r.store.data.assets {
		if asset.ValidAt(date) && matchAssetFilter(asset, filter) {
			matched = append(matched, asset)
		}
	}
	sortAssetsByUniqueID(matched)
	return pageSlice(matched, page), len(matched), nil
}

func (r *memoryAssetRepository) CountCurrent(ctx context.Context) (int64, error) {
	r.store.rlock()
	defer r.store.runlock()

	var count int64
	for _, asset := range r.store.data.assets {
		if asset.IsCurrent() {
			count++
		}
	}
	return count, nil
}

func (r *memoryAssetRepository) CountVersions(ctx context.Context) (int64, error) {
	r.store.rlock()
	defer r.store.runlock()

	return int64(len(r.store.data.assets)), nil
}

func (r *memoryAssetRepository) CountCurrentByLocation(ctx context.Context) (map[string]int, error) {
	return r.groupCurrent(func(a domain.Asset) string { return a.Location })
}

func (r *memoryAssetRepository) CountCurrentByCategory(ctx context.Context) (map[string]int, error) {
	return r.groupCurrent(func(a domain.Asset) string { return a.Category })
}

func (r *memoryAssetRepository) groupCurrent(key func(domain.Asset) string) (map[string]int, error) {
	r.store.rlock()
	defer r.store.runlock()

	counts := map[string]int{}
	for _, asset := range r.store.data.assets {
		if asset.IsCurrent() {
			counts[key(asset)]++
		}
	}
	return counts, nil
}

type memoryChangeEventRepository struct {
	store *memoryStore
}

func (r *memoryChangeEventRepository) Append(ctx context.Context, event domain.ChangeEvent) (domain.ChangeEvent, error) {
	r.store.lock()
	defer r.store.unlock()

	r.store.data.changes = append(r.store.data.changes, event)
	return event, nil
}

func (r *memoryChangeEventRepository) List(ctx context.Context, filter domain.ChangeFilter, page domain.PageRequest) ([]domain.ChangeEvent, int, error) {
	r.store.rlock()
	defer r.store.runlock()

	matched := []domain.ChangeEvent{}
	for _, event := range r.store.data.changes {
		if filter.UniqueID != "" && event.UniqueID != filter.UniqueID {
			continue
		}
		if filter.ChangeType != "" && event.ChangeType != filter.ChangeType {
			continue
		}
		if filter.Since != nil && event.ChangeDate.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && event.ChangeDate.After(*filter.Until) {
			continue
		}
		matched = append(matched, event)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ChangeDate.Equal(matched[j].ChangeDate) {
			return matched[i].ChangeDate.After(matched[j].ChangeDate)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return pageSlice(matched, page), len(matched), nil
}

func (r *memoryChangeEventRepository) ListBetween(ctx context.Context, from, to time.Time) ([]domain.ChangeEvent, error) {
	r.store.rlock()
	defer r.store.runlock()

	matched := []domain.ChangeEvent{}
	for _, event := range r.store.data.changes {
		if event.ChangeDate.After(from) && !event.ChangeDate.After(to) {
			matched = append(matched, event)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ChangeDate.Equal(matched[j].ChangeDate) {
			return matched[i].ChangeDate.Before(matched[j].ChangeDate)
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

func (r *memoryChangeEventRepository) ListByUniqueID(ctx context.Context, uniqueID string) ([]domain.ChangeEvent, error) {
	r.store.rlock()
	defer r.store.runlock()

	matched := []domain.ChangeEvent{}
	for _, event := range r.store.data.changes {
		if event.UniqueID == uniqueID {
			matched = append(matched, event)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ChangeDate.Equal(matched[j].ChangeDate) {
			return matched[i].ChangeDate.After(matched[j].ChangeDate)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched, nil
}

func (r *memoryChangeEventRepository) Count(ctx context.Context) (int64, error) {
	r.store.rlock()
	defer r.store.runlock()

	return int64(len(r.store.data.changes)), nil
}

type memoryRawSnapshotRepository struct {
	store *memoryStore
}

func (r *memoryRawSnapshotRepository) StoreBatch(ctx context.Context, records []domain.RawSnapshot) (int, error) {
	r.store.lock()
	defer r.store.unlock()

	existing := map[string]bool{}
	for _, record := range r.store.data.raws {
		existing[rawKey(record.SnapshotDate, record.UniqueID)] = true
	}

	stored := 0
	for _, record := range records {
		key := rawKey(record.SnapshotDate, record.UniqueID)
		if existing[key] {
			continue
		}
		existing[key] = true
		r.store.data.raws = append(r.store.data.raws, record)
		stored++
	}
	return stored, nil
}

func (r *memoryRawSnapshotRepository) ListByDate(ctx context.Context, date time.Time, page domain.PageRequest) ([]domain.RawSnapshot, int, error) {
	r.store.rlock()
	defer r.store.runlock()

	matched := []domain.RawSnapshot{}
	for _, record := range r.store.data.raws {
		if record.SnapshotDate.Equal(date) {
			matched = append(matched, record)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].UniqueID < matched[j].UniqueID })
	return pageSlice(matched, page), len(matched), nil
}

func (r *memoryRawSnapshotRepository) HistoryByUniqueID(ctx context.Context, uniqueID string) ([]domain.RawSnapshot, error) {
	r.store.rlock()
	defer r.store.runlock()

	matched := []domain.RawSnapshot{}
	for _, record := range r.store.data.raws {
		if record.UniqueID == uniqueID {
			matched = append(matched, record)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].SnapshotDate.After(matched[j].SnapshotDate) })
	return matched, nil
}

func (r *memoryRawSnapshotRepository) Count(ctx context.Context) (int64, error) {
	r.store.rlock()
	defer r.store.runlock()

	return int64(len(r.store.data.raws)), nil
}

type memorySnapshotMetadataRepository struct {
	store *memoryStore
}

func (r *memorySnapshotMetadataRepository) Record(ctx context.Context, meta domain.SnapshotMetadata) (domain.SnapshotMetadata, error) {
	r.store.lock()
	defer r.store.unlock()

	for i, existing := range r.store.data.snapshots {
		if existing.SnapshotDate.Equal(meta.SnapshotDate) {
			existing.AssetCount = meta.AssetCount
			existing.AddedCount += meta.AddedCount
			existing.UpdatedCount += meta.UpdatedCount
			existing.RemovedCount += meta.RemovedCount
			r.store.data.snapshots[i] = existing
			return existing, nil
		}
	}

	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	r.store.data.snapshots = append(r.store.data.snapshots, meta)
	return meta, nil
}

func (r *memorySnapshotMetadataRepository) GetByDate(ctx context.Context, date time.Time) (domain.SnapshotMetadata, error) {
	r.store.rlock()
	defer r.store.runlock()

	for _, meta := range r.store.data.snapshots {
		if meta.SnapshotDate.Equal(date) {
			return meta, nil
		}
	}
	return domain.SnapshotMetadata{}, domain.NotFoundError{Kind: "snapshot", Key: date.Format("2006-01-02")}
}

func (r *memorySnapshotMetadataRepository) List(ctx context.Context) ([]domain.SnapshotMetadata, error) {
	r.store.rlock()
	defer r.store.runlock()

	metas := make([]domain.SnapshotMetadata, len(r.store.data.snapshots))
	copy(metas, r.store.data.snapshots)
	sort.Slice(metas, func(i, j int) bool { return metas[i].SnapshotDate.After(metas[j].SnapshotDate) })
	return metas, nil
}

func (r *memorySnapshotMetadataRepository) Count(ctx context.Context) (int64, error) {
	r.store.rlock()
	defer r.store.runlock()

	return int64(len(r.store.data.snapshots)), nil
}

func (r *memorySnapshotMetadataRepository) DateRange(ctx context.Context) (*time.Time, *time.Time, error) {
	r.store.rlock()
	defer r.store.runlock()

	if len(r.store.data.snapshots) == 0 {
		return nil, nil, nil
	}

	oldest := r.store.data.snapshots[0].SnapshotDate
	newest := r.store.data.snapshots[0].SnapshotDate
	for _, meta := range r.store.data.snapshots[1:] {
		if meta.SnapshotDate.Before(oldest) {
			oldest = meta.SnapshotDate
		}
		if meta.SnapshotDate.After(newest) {
			newest = meta.SnapshotDate
		}
	}
	return &oldest, &newest, nil
}

func matchAssetFilter(asset domain.Asset, filter domain.AssetFilter) bool {
	if filter.UniqueID != "" && asset.UniqueID != filter.UniqueID {
		return false
	}
	if filter.OwnerID != "" && asset.OwnerID != filter.OwnerID {
		return false
	}
	if filter.Location != "" && !containsFold(asset.Location, filter.Location) {
		return false
	}
	if filter.Category != "" && !containsFold(asset.Category, filter.Category) {
		return false
	}
	if filter.Search != "" {
		// Approximates the Postgres text-search predicate.
		haystack := strings.Join([]string{asset.Description, asset.ContactName, asset.Location, asset.Category}, " ")
		if !containsFold(haystack, filter.Search) {
			return false
		}
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func sortAssetsByUniqueID(assets []domain.Asset) {
	sort.Slice(assets, func(i, j int) bool { return assets[i].UniqueID < assets[j].UniqueID })
}

func pageSlice[T any](items []T, page domain.PageRequest) []T {
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.PageSize
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-start)
	copy(out, items[start:end])
	return out
}

func rawKey(date time.Time, uniqueID string) string {
	return date.Format("2006-01-02") + "/" + uniqueID
}
