package ingest

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/comicpulse/priceintel/internal/model"
)

// ReadXLSXDump decodes the first sheet of a spreadsheet dump. The first row
// is the header, matched through the same alias table as CSV dumps. Some
// auction houses only export XLSX.
func ReadXLSXDump(ctx context.Context, path, source string) ([]model.RawListing, Report, error) {
	var report Report

	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, report, eris.Wrap(err, "ingest: xlsx open file")
	}
	if len(f.Sheets) == 0 {
		return nil, report, eris.New("ingest: xlsx file has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, report, nil
	}

	header := rowToStrings(sheet.Rows[0])
	fields := make(map[int]string, len(header))
	for i, name := range header {
		if canonical, ok := csvAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
			fields[i] = canonical
		}
	}
	if len(fields) == 0 {
		return nil, report, eris.New("ingest: xlsx header has no recognized columns")
	}

	var records []model.RawListing
	for _, row := range sheet.Rows[1:] {
		if err := ctx.Err(); err != nil {
			return nil, report, eris.Wrap(err, "ingest: xlsx decode cancelled")
		}

		report.Rows++
		rec, err := csvRecord(rowToStrings(row), fields, source)
		if err != nil {
			report.Skipped++
			continue
		}
		records = append(records, rec)
	}

	return keepValid(records, &report), report, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
