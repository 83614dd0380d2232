package reconcile

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/tmorland/heritagetrack/internal/domain"
	"github.com/tmorland/heritagetrack/internal/repository"
)

// Record is one normalized register record plus its verbatim payload.
type Record struct {
	Fields domain.AssetFields
	Raw    map[string]any
}

// Input is one full register publication to reconcile, keyed by the
// register's stable unique id.
type Input struct {
	RunDate    time.Time
	Source     string
	SourceFile string
	Records    map[string]Record
}

// Result summarizes the transitions one run applied.
type Result struct {
	SnapshotDate time.Time `json:"snapshot_date"`
	AssetCount   int       `json:"asset_count"`
	Added        int       `json:"added"`
	Updated      int       `json:"updated"`
	Removed      int       `json:"removed"`
	Unchanged    int       `json:"unchanged"`
	RawStored    int       `json:"raw_stored"`
}

// Service reconciles register snapshots against the versioned store.
// At most one run executes at a time; a second caller is refused rather
// than queued.
type Service struct {
	store repository.Store
	mu    sync.Mutex
}

func NewService(store repository.Store) *Service {
	return &Service{store: store}
}

// Run applies one register snapshot: stores the raw batch, diffs the
// incoming identity set against the current view, applies version
// transitions, appends change events, and records run metadata. The
// whole run commits atomically or not at all.
func (s *Service) Run(ctx context.Context, input Input) (Result, error) {
	if !s.mu.TryLock() {
		return Result{}, domain.ErrReconciliationInProgress
	}
	defer s.mu.Unlock()

	if len(input.Records) == 0 {
		return Result{}, fmt.Errorf("refusing to reconcile an empty snapshot for %s", input.RunDate.Format("2006-01-02"))
	}

	runDate := normalizeDate(input.RunDate)
	result := Result{SnapshotDate: runDate, AssetCount: len(input.Records)}

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		incoming := sortedKeys(input.Records)

		raws := make([]domain.RawSnapshot, 0, len(incoming))
		for _, uniqueID := range incoming {
			raws = append(raws, domain.NewRawSnapshot(runDate, uniqueID, input.Records[uniqueID].Raw))
		}
		stored, err := tx.RawSnapshots().StoreBatch(ctx, raws)
		if err != nil {
			return fmt.Errorf("failed to store raw snapshot: %w", err)
		}
		result.RawStored = stored

		previous, err := tx.Assets().CurrentView(ctx)
		if err != nil {
			return fmt.Errorf("failed to load current view: %w", err)
		}

		added, removed, common := partition(input.Records, previous)
		for _, uniqueID := range added {
			for _, other := range removed {
				if uniqueID == other {
					return domain.DataContractViolationError{UniqueID: uniqueID}
				}
			}
		}

		for _, uniqueID := range added {
			record := input.Records[uniqueID]
			if _, err := tx.Assets().OpenVersion(ctx, uniqueID, record.Fields, runDate); err != nil {
				return err
			}
			event := domain.NewChangeEvent(uniqueID, domain.ChangeTypeAdded, runDate, nil, addedSummary(record.Fields))
			if _, err := tx.Changes().Append(ctx, event); err != nil {
				return err
			}
			result.Added++
		}

		for _, uniqueID := range removed {
			if err := tx.Assets().CloseVersion(ctx, uniqueID, runDate); err != nil {
				return err
			}
			event := domain.NewChangeEvent(uniqueID, domain.ChangeTypeRemoved, runDate, nil, "Asset removed from register")
			if _, err := tx.Changes().Append(ctx, event); err != nil {
				return err
			}
			result.Removed++
		}

		for _, uniqueID := range common {
			record := input.Records[uniqueID]
			delta := domain.DiffFields(previous[uniqueID].AssetFields, record.Fields)
			if len(delta) == 0 {
				result.Unchanged++
				continue
			}
			if err := tx.Assets().CloseVersion(ctx, uniqueID, runDate); err != nil {
				return err
			}
			if _, err := tx.Assets().OpenVersion(ctx, uniqueID, record.Fields, runDate); err != nil {
				return err
			}
			event := domain.NewChangeEvent(uniqueID, domain.ChangeTypeUpdated, runDate, delta, delta.Summary())
			if _, err := tx.Changes().Append(ctx, event); err != nil {
				return err
			}
			result.Updated++
		}

		_, err = tx.Snapshots().Record(ctx, domain.SnapshotMetadata{
			SnapshotDate: runDate,
			Source:       input.Source,
			SourceFile:   input.SourceFile,
			AssetCount:   len(input.Records),
			AddedCount:   result.Added,
			UpdatedCount: result.Updated,
			RemovedCount: result.Removed,
		})
		if err != nil {
			return fmt.Errorf("failed to record snapshot metadata: %w", err)
		}

		return nil
	})
	if err != nil {
		return Result{}, err
	}

	log.Printf("reconciled snapshot %s: %d assets, %d added, %d updated, %d removed, %d unchanged",
		runDate.Format("2006-01-02"), result.AssetCount, result.Added, result.Updated, result.Removed, result.Unchanged)

	return result, nil
}

// partition splits identities into added, removed, and common sets,
// each sorted so transitions apply in a deterministic order.
func partition(incoming map[string]Record, previous map[string]domain.Asset) (added, removed, common []string) {
	for uniqueID := range incoming {
		if _, ok := previous[uniqueID]; ok {
			common = append(common, uniqueID)
		} else {
			added = append(added, uniqueID)
		}
	}
	for uniqueID := range previous {
		if _, ok := incoming[uniqueID]; !ok {
			removed = append(removed, uniqueID)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(common)
	return added, removed, common
}

func addedSummary(fields domain.AssetFields) string {
	if fields.Description == "" {
		return "Asset added to register"
	}
	return fmt.Sprintf("Asset added: %s", domain.Truncate(fields.Description, 100))
}

func sortedKeys(records map[string]Record) []string {
	keys := make([]string, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
