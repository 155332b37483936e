// Package export writes a run's clean records, rejected records and report
// for downstream delivery.
package export

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/pipeline"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ParseFormats splits a comma-separated format list. Unknown names are an
// error; duplicates are dropped.
func ParseFormats(list string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, f := range strings.Split(list, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		switch f {
		case FormatJSON, FormatCSV, FormatXLSX:
		default:
			return nil, eris.Errorf("export: unknown format %q", f)
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}

// Row is one output row: a record and, for rejected records, its reasons.
type Row struct {
	Record  *model.Record
	Reasons []model.RejectionReason
}

// CleanRows returns the admitted records as rows.
func CleanRows(res *pipeline.Result) []Row {
	rows := make([]Row, len(res.Clean))
	for i, rec := range res.Clean {
		rows[i] = Row{Record: rec}
	}
	return rows
}

// RejectedRows returns the rejected records with their reasons.
func RejectedRows(res *pipeline.Result) []Row {
	rows := make([]Row, len(res.Rejected))
	for i, rej := range res.Rejected {
		rows[i] = Row{Record: rej.Record, Reasons: rej.Reasons}
	}
	return rows
}

// WriteAll writes the requested formats into dir, plus report.md, and
// returns the paths written.
func WriteAll(dir string, formats []string, res *pipeline.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create %s", dir)
	}

	var written []string
	write := func(name string, fn func(io.Writer) error) error {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrapf(err, "export: create %s", path)
		}
		if err := fn(f); err != nil {
			f.Close() //nolint:errcheck
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "export: close %s", path)
		}
		written = append(written, path)
		return nil
	}

	for _, format := range formats {
		var err error
		switch format {
		case FormatJSON:
			if err = write("clean.json", func(w io.Writer) error { return WriteJSON(w, nonNil(res.Clean)) }); err != nil {
				break
			}
			if err = write("rejected.json", func(w io.Writer) error { return WriteJSON(w, nonNil(res.Rejected)) }); err != nil {
				break
			}
			err = write("report.json", func(w io.Writer) error { return WriteJSON(w, res.Report) })
		case FormatCSV:
			if err = write("clean.csv", func(w io.Writer) error { return WriteCSV(w, CleanRows(res)) }); err != nil {
				break
			}
			err = write("rejected.csv", func(w io.Writer) error { return WriteCSV(w, RejectedRows(res)) })
		case FormatXLSX:
			path := filepath.Join(dir, "results.xlsx")
			if err = WriteXLSX(path, res); err == nil {
				written = append(written, path)
			}
		default:
			err = eris.Errorf("export: unknown format %q", format)
		}
		if err != nil {
			return written, err
		}
	}

	if err := write("report.md", func(w io.Writer) error { return WriteReport(w, res.Report) }); err != nil {
		return written, err
	}

	zap.L().Info("export: outputs written",
		zap.String("run_id", res.RunID),
		zap.String("dir", dir),
		zap.Int("files", len(written)),
	)
	return written, nil
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "export: encode json")
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Columns returns the stable column order for rows: provenance, then every
// domain field any row carries (sorted), then the validation columns.
func Columns(rows []Row) []string {
	fields := make(map[string]bool)
	for _, r := range rows {
		for k := range r.Record.Fields {
			if !model.IsInternalField(k) {
				fields[k] = true
			}
		}
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	cols := []string{model.KeyRecordID, model.KeySourceURL, model.KeyScrapedAt}
	cols = append(cols, names...)
	return append(cols, validationColumns...)
}

var validationColumns = []string{"validation_status", "confidence", "completeness", "rejection_reasons"}

// cells renders a row in column order.
func cells(r Row, cols []string) []string {
	out := make([]string, len(cols))
	rec := r.Record
	for i, c := range cols {
		switch c {
		case model.KeyRecordID:
			out[i] = rec.ID
		case model.KeySourceURL:
			out[i] = rec.SourceURL
		case model.KeyScrapedAt:
			if !rec.ScrapedAt.IsZero() {
				out[i] = rec.ScrapedAt.UTC().Format(time.RFC3339)
			}
		case "validation_status":
			if rec.Validation != nil {
				out[i] = string(rec.Validation.Status)
			}
		case "confidence":
			if rec.Validation != nil {
				out[i] = cellValue(rec.Validation.Confidence)
			}
		case "completeness":
			if rec.Validation != nil {
				out[i] = cellValue(rec.Validation.Completeness)
			}
		case "rejection_reasons":
			out[i] = reasonText(r.Reasons)
		default:
			out[i] = cellValue(rec.Fields[c])
		}
	}
	return out
}

// cellValue renders scalars as text and lists or objects as JSON.
func cellValue(v any) string {
	if s, ok := model.ScalarString(v); ok {
		return s
	}
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func reasonText(reasons []model.RejectionReason) string {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r.Category) + ": " + r.Message
	}
	return strings.Join(parts, " | ")
}
