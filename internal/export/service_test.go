package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tmorland/heritagetrack/internal/domain"
	"github.com/tmorland/heritagetrack/internal/query"
	"github.com/tmorland/heritagetrack/internal/reconcile"
	"github.com/tmorland/heritagetrack/internal/repository"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seededExporter(t *testing.T) *Service {
	t.Helper()
	store := repository.NewMemoryStore()
	reconciler := reconcile.NewService(store)

	runs := []reconcile.Input{
		{
			RunDate: day(2024, 3, 2),
			Source:  domain.SourceImport,
			Records: map[string]reconcile.Record{
				"HA-001": {Fields: domain.AssetFields{Description: "War memorial", Location: "Town Square"}},
				"HA-002": {Fields: domain.AssetFields{Description: "Drinking fountain", Location: "Harbour"}},
			},
		},
		{
			RunDate: day(2024, 4, 6),
			Source:  domain.SourceImport,
			Records: map[string]reconcile.Record{
				"HA-001": {Fields: domain.AssetFields{Description: "War memorial", Location: "Town Square"}},
			},
		},
	}
	for _, run := range runs {
		if _, err := reconciler.Run(context.Background(), run); err != nil {
			t.Fatalf("seed run failed: %v", err)
		}
	}

	return NewService(query.NewService(store))
}

func TestWriteCSVCurrentView(t *testing.T) {
	svc := seededExporter(t)

	var buf bytes.Buffer
	if err := svc.Write(context.Background(), &buf, Request{Format: FormatCSV}); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse export failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("export has %d rows, want header + 1", len(rows))
	}
	if rows[0][0] != "unique_id" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][0] != "HA-001" {
		t.Errorf("row = %v", rows[1])
	}
}

func TestWriteCSVAsOfDate(t *testing.T) {
	svc := seededExporter(t)

	asOf := day(2024, 3, 15)
	var buf bytes.Buffer
	if err := svc.Write(context.Background(), &buf, Request{Format: FormatCSV, AsOf: &asOf}); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse export failed: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("as-of export has %d rows, want header + 2", len(rows))
	}
}

func TestWriteXLSX(t *testing.T) {
	svc := seededExporter(t)

	var buf bytes.Buffer
	if err := svc.Write(context.Background(), &buf, Request{Format: FormatXLSX}); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook failed: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("read rows failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("workbook has %d rows, want header + 1", len(rows))
	}
	if rows[1][0] != "HA-001" {
		t.Errorf("row = %v", rows[1])
	}
}

func TestWriteRejectsUnknownFormat(t *testing.T) {
	svc := seededExporter(t)

	var buf bytes.Buffer
	err := svc.Write(context.Background(), &buf, Request{Format: "pdf"})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}
