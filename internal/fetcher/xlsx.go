package fetcher

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/record-gate/internal/model"
)

// xlsxRecords loads a workbook from disk.
func xlsxRecords(ctx context.Context, path string, opts Options) ([]*model.Record, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}
	return workbookRecords(ctx, wb, opts.Sheet)
}

// workbookRecords reads one sheet; its first row is the header.
func workbookRecords(ctx context.Context, wb *xlsx.File, sheet string) ([]*model.Record, error) {
	rows, err := SheetRows(wb, sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := normalizeHeader(rows[0])
	pos := 1
	return drain(ctx, func() (map[string]any, error) {
		for ; pos < len(rows); pos++ {
			if !blankRow(rows[pos]) {
				pos++
				return rowMap(header, rows[pos-1]), nil
			}
		}
		return eof()
	})
}

// SheetRows returns a sheet's cells as display text. An empty name selects
// the first sheet.
func SheetRows(wb *xlsx.File, name string) ([][]string, error) {
	var sheet *xlsx.Sheet
	switch {
	case name != "":
		s, ok := wb.Sheet[name]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", name)
		}
		sheet = s
	case len(wb.Sheets) == 0:
		return nil, eris.New("xlsx: workbook has no sheets")
	default:
		sheet = wb.Sheets[0]
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		text := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			if cell == nil {
				continue
			}
			v, err := cell.FormattedValue()
			if err != nil {
				v = cell.Value
			}
			text[i] = v
		}
		rows = append(rows, text)
	}
	return rows, nil
}
