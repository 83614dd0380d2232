package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tmorland/heritagetrack/internal/domain"
	"github.com/tmorland/heritagetrack/internal/query"
)

// Supported download formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ErrUnsupportedFormat is returned for formats other than csv and xlsx.
var ErrUnsupportedFormat = errors.New("unsupported export format")

const exportPageSize = 500

// Service streams the register view out as a downloadable file. Exports
// run synchronously; a full register is a few thousand rows at most.
type Service struct {
	queries *query.Service
}

func NewService(queries *query.Service) *Service {
	return &Service{queries: queries}
}

// Request describes one export: the format, the asset filter, and an
// optional as-of date. A nil AsOf exports the current view.
type Request struct {
	Format string
	Filter domain.AssetFilter
	AsOf   *time.Time
}

// Write streams the selected view to w in the requested format.
func (s *Service) Write(ctx context.Context, w io.Writer, req Request) error {
	switch req.Format {
	case FormatCSV:
		return s.writeCSV(ctx, w, req)
	case FormatXLSX:
		return s.writeXLSX(ctx, w, req)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

// ContentType returns the MIME type for a supported format.
func ContentType(format string) string {
	if format == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

func exportHeaders() []string {
	headers := append([]string{"unique_id"}, domain.FieldNames...)
	return append(headers, "valid_from")
}

func exportRow(asset domain.Asset) []string {
	values := asset.Map()
	row := make([]string, 0, len(domain.FieldNames)+2)
	row = append(row, asset.UniqueID)
	for _, name := range domain.FieldNames {
		row = append(row, values[name])
	}
	return append(row, asset.ValidFrom.Format("2006-01-02"))
}

func (s *Service) writeCSV(ctx context.Context, w io.Writer, req Request) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(exportHeaders()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	err := s.forEachAsset(ctx, req, func(asset domain.Asset) error {
		if err := csvWriter.Write(exportRow(asset)); err != nil {
			return fmt.Errorf("write row for %s: %w", asset.UniqueID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("flush export: %w", err)
	}
	return nil
}

func (s *Service) writeXLSX(ctx context.Context, w io.Writer, req Request) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	stream, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("create stream writer: %w", err)
	}

	writeRow := func(rowIndex int, values []string) error {
		cell, err := excelize.CoordinatesToCellName(1, rowIndex)
		if err != nil {
			return err
		}
		row := make([]any, len(values))
		for i, value := range values {
			row[i] = value
		}
		return stream.SetRow(cell, row)
	}

	if err := writeRow(1, exportHeaders()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	rowIndex := 2
	err = s.forEachAsset(ctx, req, func(asset domain.Asset) error {
		if err := writeRow(rowIndex, exportRow(asset)); err != nil {
			return fmt.Errorf("write row for %s: %w", asset.UniqueID, err)
		}
		rowIndex++
		return nil
	})
	if err != nil {
		return err
	}

	if err := stream.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// forEachAsset pages through the selected view in stable order.
func (s *Service) forEachAsset(ctx context.Context, req Request, fn func(domain.Asset) error) error {
	for pageNum := 1; ; pageNum++ {
		pageReq := domain.PageRequest{Page: pageNum, PageSize: exportPageSize}

		var page domain.Page[domain.Asset]
		var err error
		if req.AsOf != nil {
			page, err = s.queries.AsOf(ctx, *req.AsOf, req.Filter, pageReq)
		} else {
			page, err = s.queries.Current(ctx, req.Filter, pageReq)
		}
		if err != nil {
			return err
		}

		for _, asset := range page.Items {
			if err := fn(asset); err != nil {
				return err
			}
		}

		if pageNum >= page.Pages || len(page.Items) == 0 {
			return nil
		}
	}
}
