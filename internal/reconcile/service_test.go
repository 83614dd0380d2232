package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tmorland/heritagetrack/internal/domain"
	"github.com/tmorland/heritagetrack/internal/repository"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func record(description, location string) Record {
	return Record{
		Fields: domain.AssetFields{
			Description: description,
			Location:    location,
			Category:    "Monument",
		},
		Raw: map[string]any{"description": description, "location": location},
	}
}

func mustRun(t *testing.T, svc *Service, input Input) Result {
	t.Helper()
	result, err := svc.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	return result
}

func TestFirstRunAddsEverything(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewService(store)

	result := mustRun(t, svc, Input{
		RunDate: day(2024, 3, 2),
		Source:  domain.SourceImport,
		Records: map[string]Record{
			"HA-001": record("War memorial", "Town Square"),
			"HA-002": record("Drinking fountain", "Harbour"),
		},
	})

	if result.Added != 2 || result.Updated != 0 || result.Removed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.RawStored != 2 {
		t.Errorf("raw stored = %d, want 2", result.RawStored)
	}

	current, err := store.Assets().CurrentView(context.Background())
	if err != nil {
		t.Fatalf("current view failed: %v", err)
	}
	if len(current) != 2 {
		t.Fatalf("current view has %d assets, want 2", len(current))
	}

	events, err := store.Changes().ListByUniqueID(context.Background(), "HA-001")
	if err != nil {
		t.Fatalf("list events failed: %v", err)
	}
	if len(events) != 1 || events[0].ChangeType != domain.ChangeTypeAdded {
		t.Fatalf("expected one added event, got %+v", events)
	}
	if len(events[0].Delta) != 0 {
		t.Errorf("added event should carry an empty delta, got %v", events[0].Delta)
	}
}

func TestSecondRunDetectsTransitions(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	mustRun(t, svc, Input{
		RunDate: day(2024, 3, 2),
		Source:  domain.SourceImport,
		Records: map[string]Record{
			"HA-001": record("War memorial", "Town Square"),
			"HA-002": record("Drinking fountain", "Harbour"),
			"HA-003": record("Clock tower", "High Street"),
		},
	})

	second := mustRun(t, svc, Input{
		RunDate: day(2024, 4, 6),
		Source:  domain.SourceImport,
		Records: map[string]Record{
			"HA-001": record("War memorial", "Town Square"),     // unchanged
			"HA-002": record("Drinking fountain", "Quayside"),   // moved
			"HA-004": record("Bandstand", "Victoria Park"),      // new
		},
	})

	if second.Added != 1 || second.Updated != 1 || second.Removed != 1 || second.Unchanged != 1 {
		t.Fatalf("unexpected result: %+v", second)
	}

	// The moved asset gets a closed row and a fresh open row.
	history, err := store.Assets().History(ctx, "HA-002")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("HA-002 has %d versions, want 2", len(history))
	}
	if history[0].ValidUntil == nil || !history[0].ValidUntil.Equal(day(2024, 4, 6)) {
		t.Errorf("old version should close on the run date, got %v", history[0].ValidUntil)
	}

	events, err := store.Changes().ListByUniqueID(ctx, "HA-002")
	if err != nil {
		t.Fatalf("list events failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("HA-002 has %d events, want 2", len(events))
	}
	update := events[0]
	if update.ChangeType != domain.ChangeTypeUpdated {
		t.Fatalf("latest event type = %s, want updated", update.ChangeType)
	}
	change, ok := update.Delta["location"]
	if !ok {
		t.Fatalf("delta missing location, got %v", update.Delta)
	}
	if change.Old != "Harbour" || change.New != "Quayside" {
		t.Errorf("location delta = %+v", change)
	}
	if len(update.Delta) != 1 {
		t.Errorf("delta should name only the changed field, got %v", update.Delta)
	}

	// The unchanged asset gets no version churn and no event.
	history, err = store.Assets().History(ctx, "HA-001")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("unchanged asset has %d versions, want 1", len(history))
	}

	// The removed asset keeps its closed row and drops out of the
	// current view.
	if _, err := store.Assets().CurrentByUniqueID(ctx, "HA-003"); !domain.IsNotFound(err) {
		t.Errorf("removed asset should not be current, got %v", err)
	}
	events, err = store.Changes().ListByUniqueID(ctx, "HA-003")
	if err != nil {
		t.Fatalf("list events failed: %v", err)
	}
	if len(events) != 2 || events[0].ChangeType != domain.ChangeTypeRemoved {
		t.Errorf("expected removed event for HA-003, got %+v", events)
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	input := Input{
		RunDate: day(2024, 3, 2),
		Source:  domain.SourceImport,
		Records: map[string]Record{
			"HA-001": record("War memorial", "Town Square"),
			"HA-002": record("Drinking fountain", "Harbour"),
		},
	}

	first := mustRun(t, svc, input)
	again := mustRun(t, svc, input)

	if again.Added != 0 || again.Updated != 0 || again.Removed != 0 {
		t.Fatalf("re-run applied transitions: %+v", again)
	}
	if again.Unchanged != 2 {
		t.Errorf("re-run unchanged = %d, want 2", again.Unchanged)
	}
	if again.RawStored != 0 {
		t.Errorf("re-run stored %d raw rows, want 0", again.RawStored)
	}

	meta, err := store.Snapshots().GetByDate(ctx, day(2024, 3, 2))
	if err != nil {
		t.Fatalf("get metadata failed: %v", err)
	}
	if meta.AddedCount != first.Added {
		t.Errorf("re-run changed the recorded added count: %d", meta.AddedCount)
	}

	versions, err := store.Assets().CountVersions(ctx)
	if err != nil {
		t.Fatalf("count versions failed: %v", err)
	}
	if versions != 2 {
		t.Errorf("re-run grew the version table to %d rows", versions)
	}
}

func TestAsOfMatchesRecordedAssetCount(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	runs := []Input{
		{
			RunDate: day(2024, 3, 2),
			Source:  domain.SourceImport,
			Records: map[string]Record{
				"HA-001": record("War memorial", "Town Square"),
				"HA-002": record("Drinking fountain", "Harbour"),
				"HA-003": record("Clock tower", "High Street"),
			},
		},
		{
			RunDate: day(2024, 4, 6),
			Source:  domain.SourceImport,
			Records: map[string]Record{
				"HA-001": record("War memorial", "Town Square"),
				"HA-002": record("Drinking fountain", "Quayside"),
			},
		},
		{
			RunDate: day(2024, 5, 4),
			Source:  domain.SourceImport,
			Records: map[string]Record{
				"HA-001": record("War memorial", "Town Square"),
				"HA-002": record("Drinking fountain", "Quayside"),
				"HA-005": record("Lido", "Seafront"),
			},
		},
	}
	for _, run := range runs {
		mustRun(t, svc, run)
	}

	for _, run := range runs {
		meta, err := store.Snapshots().GetByDate(ctx, run.RunDate)
		if err != nil {
			t.Fatalf("get metadata for %v failed: %v", run.RunDate, err)
		}
		asOf, err := store.Assets().AsOf(ctx, run.RunDate)
		if err != nil {
			t.Fatalf("as-of %v failed: %v", run.RunDate, err)
		}
		if len(asOf) != meta.AssetCount {
			t.Errorf("as-of %s returned %d assets, metadata says %d",
				run.RunDate.Format("2006-01-02"), len(asOf), meta.AssetCount)
		}
	}
}

func TestInvariantViolationRollsBackWholeRun(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	mustRun(t, svc, Input{
		RunDate: day(2024, 4, 6),
		Source:  domain.SourceImport,
		Records: map[string]Record{
			"HA-001": record("War memorial", "Town Square"),
		},
	})

	// A run dated before the open version's valid_from cannot close it.
	_, err := svc.Run(ctx, Input{
		RunDate: day(2024, 3, 2),
		Source:  domain.SourceImport,
		Records: map[string]Record{
			"HA-001": record("War memorial", "Relocated"),
			"HA-009": record("Obelisk", "Crossroads"),
		},
	})
	var violation domain.InvariantViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}

	// Nothing from the failed run is visible, not even the added asset
	// that preceded the violating close.
	if _, err := store.Assets().CurrentByUniqueID(ctx, "HA-009"); !domain.IsNotFound(err) {
		t.Errorf("failed run leaked an asset: %v", err)
	}
	count, err := store.Changes().Count(ctx)
	if err != nil {
		t.Fatalf("count events failed: %v", err)
	}
	if count != 1 {
		t.Errorf("failed run leaked change events: %d", count)
	}
	if _, err := store.Snapshots().GetByDate(ctx, day(2024, 3, 2)); !domain.IsNotFound(err) {
		t.Errorf("failed run recorded metadata: %v", err)
	}
}

func TestEmptySnapshotIsRejected(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewService(store)

	mustRun(t, svc, Input{
		RunDate: day(2024, 3, 2),
		Source:  domain.SourceImport,
		Records: map[string]Record{"HA-001": record("War memorial", "Town Square")},
	})

	if _, err := svc.Run(context.Background(), Input{RunDate: day(2024, 4, 6), Source: domain.SourceImport}); err == nil {
		t.Fatal("empty snapshot should be rejected")
	}

	if _, err := store.Assets().CurrentByUniqueID(context.Background(), "HA-001"); err != nil {
		t.Errorf("rejected run must not remove assets: %v", err)
	}
}

// blockingStore parks the first transaction until released, so a second
// run can be attempted while the first is in flight.
type blockingStore struct {
	repository.Store
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) WithinTx(ctx context.Context, fn func(repository.Store) error) error {
	close(s.entered)
	<-s.release
	return s.Store.WithinTx(ctx, fn)
}

func TestConcurrentRunIsRefused(t *testing.T) {
	blocking := &blockingStore{
		Store:   repository.NewMemoryStore(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := NewService(blocking)

	input := Input{
		RunDate: day(2024, 3, 2),
		Source:  domain.SourceImport,
		Records: map[string]Record{"HA-001": record("War memorial", "Town Square")},
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.Run(context.Background(), input)
		done <- err
	}()

	<-blocking.entered
	_, err := svc.Run(context.Background(), input)
	if !errors.Is(err, domain.ErrReconciliationInProgress) {
		t.Fatalf("expected in-progress refusal, got %v", err)
	}

	close(blocking.release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
}
