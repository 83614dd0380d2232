package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tmorland/heritagetrack/internal/domain"
	"github.com/tmorland/heritagetrack/internal/reconcile"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	// Matches the date embedded in register download names, e.g.
	// "Heritage_assets_downloaded_2_March_2024.csv".
	fileNameDatePattern = regexp.MustCompile(`(\d{1,2})[_ ]([A-Za-z]+)[_ ](\d{4})`)
)

// Reconciler applies one parsed snapshot to the versioned store.
type Reconciler interface {
	Run(ctx context.Context, input reconcile.Input) (reconcile.Result, error)
}

// Service parses register download files and feeds them to the
// reconciler.
type Service struct {
	reconciler Reconciler
}

func NewService(reconciler Reconciler) *Service {
	return &Service{reconciler: reconciler}
}

// Request describes one uploaded register file.
type Request struct {
	FileName string
	// SnapshotDate overrides the date parsed from the file name.
	SnapshotDate *time.Time
	Data         io.Reader
}

// Result reports what one import applied.
type Result struct {
	reconcile.Result
	ParsedRows  int `json:"parsed_rows"`
	SkippedRows int `json:"skipped_rows"`
}

// Import parses the file, resolves the snapshot date, and reconciles
// the batch against the store.
func (s *Service) Import(ctx context.Context, req Request) (Result, error) {
	if req.Data == nil {
		return Result{}, errors.New("data reader is required")
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return Result{}, errors.New("file is empty")
	}

	snapshotDate, err := s.resolveDate(req)
	if err != nil {
		return Result{}, err
	}

	rows, err := parseTable(req.FileName, payload)
	if err != nil {
		return Result{}, err
	}

	records, skipped, err := buildRecords(rows)
	if err != nil {
		return Result{}, err
	}

	runResult, err := s.reconciler.Run(ctx, reconcile.Input{
		RunDate:    snapshotDate,
		Source:     domain.SourceImport,
		SourceFile: filepath.Base(req.FileName),
		Records:    records,
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Result: runResult, ParsedRows: len(records), SkippedRows: skipped}, nil
}

func (s *Service) resolveDate(req Request) (time.Time, error) {
	if req.SnapshotDate != nil {
		return *req.SnapshotDate, nil
	}
	date, err := ParseSnapshotDate(req.FileName)
	if err != nil {
		return time.Time{}, fmt.Errorf("snapshot date not given and %w", err)
	}
	return date, nil
}

// ParseSnapshotDate extracts the publication date embedded in a register
// download file name.
func ParseSnapshotDate(fileName string) (time.Time, error) {
	match := fileNameDatePattern.FindStringSubmatch(filepath.Base(fileName))
	if match == nil {
		return time.Time{}, fmt.Errorf("no date found in file name %q", fileName)
	}
	date, err := time.Parse("2 January 2006", fmt.Sprintf("%s %s %s", match[1], match[2], match[3]))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date in file name %q: %w", fileName, err)
	}
	return date, nil
}

func parseTable(fileName string, payload []byte) ([][]string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

func parseExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return rows, nil
}

// headerAliases maps published register column names onto the
// normalized field set. Keys are sanitized header names.
var headerAliases = map[string]string{
	"uniqueid":        "unique_id",
	"asset_id":        "unique_id",
	"reference":       "unique_id",
	"ownerid":         "owner_id",
	"owner":           "owner_id",
	"contact_address": "address_line1",
	"address":         "address_line1",
	"address_1":       "address_line1",
	"address_2":       "address_line2",
	"town":            "address_city",
	"city":            "address_city",
	"postcode":        "address_postcode",
	"post_code":       "address_postcode",
	"phone":           "telephone",
	"tel":             "telephone",
	"web":             "website",
	"url":             "website",
}

func buildRecords(rows [][]string) (map[string]reconcile.Record, int, error) {
	if len(rows) == 0 {
		return nil, 0, errors.New("no rows found in file")
	}

	headers := make([]string, len(rows[0]))
	idColumn := -1
	for i, raw := range rows[0] {
		name := sanitizeHeader(raw)
		if alias, ok := headerAliases[name]; ok {
			name = alias
		}
		headers[i] = name
		if name == "unique_id" {
			idColumn = i
		}
	}
	if idColumn == -1 {
		return nil, 0, errors.New("no unique id column detected")
	}

	records := map[string]reconcile.Record{}
	skipped := 0
	for _, row := range rows[1:] {
		if isEmptyRow(row) {
			continue
		}
		if idColumn >= len(row) || strings.TrimSpace(row[idColumn]) == "" {
			skipped++
			continue
		}

		uniqueID := strings.TrimSpace(row[idColumn])
		raw := map[string]any{}
		values := map[string]string{}
		for i, header := range headers {
			if i >= len(row) || header == "" {
				continue
			}
			value := strings.TrimSpace(row[i])
			raw[header] = value
			values[header] = value
		}

		records[uniqueID] = reconcile.Record{
			Fields: fieldsFromValues(values),
			Raw:    raw,
		}
	}

	return records, skipped, nil
}

func fieldsFromValues(values map[string]string) domain.AssetFields {
	return domain.AssetFields{
		OwnerID:         values["owner_id"],
		Description:     values["description"],
		Location:        values["location"],
		Category:        values["category"],
		AccessDetails:   values["access_details"],
		ContactName:     values["contact_name"],
		AddressLine1:    values["address_line1"],
		AddressLine2:    values["address_line2"],
		AddressCity:     values["address_city"],
		AddressPostcode: values["address_postcode"],
		Telephone:       values["telephone"],
		Fax:             values["fax"],
		Email:           values["email"],
		Website:         values["website"],
	}
}

func sanitizeHeader(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == '_', r == ' ', r == '-':
			return '_'
		default:
			return -1
		}
	}, name)
	return strings.Trim(name, "_")
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
