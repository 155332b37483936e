package fetcher

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

// newWorkbook builds a workbook with sheets added in the given order.
func newWorkbook(t *testing.T, sheets ...sheetData) *xlsx.File {
	t.Helper()
	wb := xlsx.NewFile()
	for _, sd := range sheets {
		sheet, err := wb.AddSheet(sd.name)
		require.NoError(t, err)
		for _, cells := range sd.rows {
			row := sheet.AddRow()
			for _, c := range cells {
				row.AddCell().SetString(c)
			}
		}
	}
	return wb
}

type sheetData struct {
	name string
	rows [][]string
}

func saveWorkbook(t *testing.T, wb *xlsx.File) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leads.xlsx")
	require.NoError(t, wb.Save(path))
	return path
}

var leadsSheet = sheetData{name: "Leads", rows: [][]string{
	{"record_id", "name", "company"},
	{"r1", "Priya Raman", "Acme Robotics"},
	{"", "", ""},
	{"r2", "Marcus Chen", "Globex"},
}}

func TestSheetRows(t *testing.T) {
	wb := newWorkbook(t, leadsSheet, sheetData{name: "Notes", rows: [][]string{{"exported by ops"}}})

	rows, err := SheetRows(wb, "")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"r1", "Priya Raman", "Acme Robotics"}, rows[1])

	rows, err = SheetRows(wb, "Notes")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"exported by ops"}}, rows)

	_, err = SheetRows(wb, "Missing")
	assert.ErrorContains(t, err, `sheet "Missing" not found`)

	_, err = SheetRows(xlsx.NewFile(), "")
	assert.ErrorContains(t, err, "no sheets")
}

func TestLoadRecords_XLSX(t *testing.T) {
	path := saveWorkbook(t, newWorkbook(t, leadsSheet))

	recs, err := LoadRecords(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, recs, 2, "blank rows skipped")
	assert.Equal(t, "r2", recs[1].ID)
	company, _ := recs[1].String("company")
	assert.Equal(t, "Globex", company)
}

func TestLoadRecordsWith_Sheet(t *testing.T) {
	path := saveWorkbook(t, newWorkbook(t,
		sheetData{name: "Cover", rows: [][]string{{"batch 7"}}},
		leadsSheet,
	))

	recs, err := LoadRecordsWith(context.Background(), path, Options{Sheet: "Leads"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = LoadRecords(context.Background(), filepath.Join(t.TempDir(), "nope.xlsx"))
	assert.ErrorContains(t, err, "xlsx: open workbook")
}
