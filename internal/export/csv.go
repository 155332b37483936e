package export

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// WriteCSV writes rows with a header in Columns order.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)

	cols := Columns(rows)
	if err := cw.Write(cols); err != nil {
		return eris.Wrap(err, "export: write CSV header")
	}
	for _, r := range rows {
		if err := cw.Write(cells(r, cols)); err != nil {
			return eris.Wrap(err, "export: write CSV row")
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush CSV")
}
