package source

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"salesetl/internal/config"
	"salesetl/internal/table"
)

// ReadXLSX reads one worksheet of a workbook into a table named entity.
//
// The first non-empty row is the header. sheet selects the worksheet; when
// empty the first sheet is used. Cells are read raw (no number formatting),
// so date cells arrive as Excel serial numbers and are converted later by
// table.ParseTime. Options header_map and trim_space behave as in ReadCSV.
func ReadXLSX(ctx context.Context, entity string, src io.Reader, sheet string, opt config.Options) (*table.Table, error) {
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheet, err)
	}
	defer func() { _ = rows.Close() }()

	trim := opt.Bool("trim_space", true)
	hm := opt.StringMap("header_map")

	var t *table.Table
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sheet, err)
		}
		if blankRecord(rec) {
			continue
		}
		if t == nil {
			t = table.New(entity, normalizeHeader(trimTrailingEmpty(rec), hm))
			continue
		}
		row := make(table.Row, len(t.Columns))
		for i := range row {
			if i >= len(rec) {
				break
			}
			row[i] = cellValue(rec[i], trim)
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheet, err)
	}
	if t == nil {
		return nil, fmt.Errorf("sheet %q: no header row", sheet)
	}
	return t, nil
}

func trimTrailingEmpty(rec []string) []string {
	n := len(rec)
	for n > 0 && strings.TrimSpace(rec[n-1]) == "" {
		n--
	}
	return rec[:n]
}
