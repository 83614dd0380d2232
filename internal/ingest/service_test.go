package ingest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tmorland/heritagetrack/internal/domain"
	"github.com/tmorland/heritagetrack/internal/reconcile"
	"github.com/tmorland/heritagetrack/internal/repository"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestService() (*Service, repository.Store) {
	store := repository.NewMemoryStore()
	return NewService(reconcile.NewService(store)), store
}

func TestParseSnapshotDate(t *testing.T) {
	cases := []struct {
		fileName string
		want     time.Time
		wantErr  bool
	}{
		{fileName: "Heritage_assets_downloaded_2_March_2024.csv", want: day(2024, 3, 2)},
		{fileName: "register 14 December 2023.xlsx", want: day(2023, 12, 14)},
		{fileName: "/tmp/uploads/Heritage_assets_downloaded_6_April_2024.csv", want: day(2024, 4, 6)},
		{fileName: "assets.csv", wantErr: true},
		{fileName: "assets_99_Smarch_2024.csv", wantErr: true},
	}

	for _, tc := range cases {
		got, err := ParseSnapshotDate(tc.fileName)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error, got %v", tc.fileName, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.fileName, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("%s: parsed %v, want %v", tc.fileName, got, tc.want)
		}
	}
}

func TestImportCSV(t *testing.T) {
	svc, store := newTestService()

	csvData := strings.Join([]string{
		"UniqueID,Description,Location,Category,Contact Address,Postcode",
		"HA-001,War memorial,Town Square,Monument,1 High Street,AB1 2CD",
		"HA-002,Drinking fountain,Harbour,Monument,,",
		",Missing id row,Nowhere,Monument,,",
		"",
	}, "\n")

	result, err := svc.Import(context.Background(), Request{
		FileName: "Heritage_assets_downloaded_2_March_2024.csv",
		Data:     strings.NewReader(csvData),
	})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	if result.ParsedRows != 2 {
		t.Errorf("parsed rows = %d, want 2", result.ParsedRows)
	}
	if result.SkippedRows != 1 {
		t.Errorf("skipped rows = %d, want 1", result.SkippedRows)
	}
	if result.Added != 2 {
		t.Errorf("added = %d, want 2", result.Added)
	}
	if !result.SnapshotDate.Equal(day(2024, 3, 2)) {
		t.Errorf("snapshot date = %v, want 2 March 2024", result.SnapshotDate)
	}

	asset, err := store.Assets().CurrentByUniqueID(context.Background(), "HA-001")
	if err != nil {
		t.Fatalf("asset not stored: %v", err)
	}
	if asset.AddressLine1 != "1 High Street" {
		t.Errorf("contact address column should map to address line 1, got %q", asset.AddressLine1)
	}
	if asset.AddressPostcode != "AB1 2CD" {
		t.Errorf("postcode = %q", asset.AddressPostcode)
	}

	meta, err := store.Snapshots().GetByDate(context.Background(), day(2024, 3, 2))
	if err != nil {
		t.Fatalf("metadata not recorded: %v", err)
	}
	if meta.Source != domain.SourceImport {
		t.Errorf("source = %q, want import", meta.Source)
	}
	if meta.SourceFile != "Heritage_assets_downloaded_2_March_2024.csv" {
		t.Errorf("source file = %q", meta.SourceFile)
	}
}

func TestImportCSVWithByteOrderMark(t *testing.T) {
	svc, _ := newTestService()

	var buf bytes.Buffer
	buf.Write([]byte{0xEF, 0xBB, 0xBF})
	buf.WriteString("UniqueID,Description\nHA-001,War memorial\n")

	result, err := svc.Import(context.Background(), Request{
		FileName: "register_2_March_2024.csv",
		Data:     &buf,
	})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if result.ParsedRows != 1 {
		t.Errorf("parsed rows = %d, want 1", result.ParsedRows)
	}
}

func TestImportXLSX(t *testing.T) {
	svc, store := newTestService()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"UniqueID", "Description", "Location", "Category"},
		{"HA-001", "War memorial", "Town Square", "Monument"},
		{"HA-002", "Bandstand", "Victoria Park", "Building"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name failed: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row failed: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write xlsx failed: %v", err)
	}

	override := day(2024, 4, 6)
	result, err := svc.Import(context.Background(), Request{
		FileName:     "register.xlsx",
		SnapshotDate: &override,
		Data:         buf,
	})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if result.Added != 2 {
		t.Errorf("added = %d, want 2", result.Added)
	}

	asset, err := store.Assets().CurrentByUniqueID(context.Background(), "HA-002")
	if err != nil {
		t.Fatalf("asset not stored: %v", err)
	}
	if asset.Category != "Building" {
		t.Errorf("category = %q", asset.Category)
	}
}

func TestImportRejectsUnsupportedFormat(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Import(context.Background(), Request{
		FileName: "register_2_March_2024.pdf",
		Data:     strings.NewReader("%PDF-1.4"),
	})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestImportRequiresUniqueIDColumn(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Import(context.Background(), Request{
		FileName: "register_2_March_2024.csv",
		Data:     strings.NewReader("Description,Location\nWar memorial,Town Square\n"),
	})
	if err == nil || !strings.Contains(err.Error(), "unique id column") {
		t.Fatalf("expected missing id column error, got %v", err)
	}
}

func TestImportRequiresDate(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Import(context.Background(), Request{
		FileName: "register.csv",
		Data:     strings.NewReader("UniqueID\nHA-001\n"),
	})
	if err == nil || !strings.Contains(err.Error(), "no date found") {
		t.Fatalf("expected date resolution error, got %v", err)
	}
}
