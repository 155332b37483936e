// Package fetcher loads scraped record batches from JSON, JSON Lines, CSV,
// XLSX and ZIP files.
package fetcher

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/record-gate/internal/model"
)

// Format is an input file format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
	FormatXLSX  Format = "xlsx"
	FormatZIP   Format = "zip"
)

// Options tunes how tabular batches are read.
type Options struct {
	Sheet     string // XLSX sheet; empty reads the first one
	Delimiter rune   // CSV delimiter; zero sniffs it from the header line
}

// DetectFormat picks the format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return FormatJSON, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".csv", ".tsv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".zip":
		return FormatZIP, nil
	default:
		return "", eris.Errorf("fetcher: unsupported input format %q", ext)
	}
}

// LoadRecords reads every record in the file at path with default options.
func LoadRecords(ctx context.Context, path string) ([]*model.Record, error) {
	return LoadRecordsWith(ctx, path, Options{})
}

// LoadRecordsWith reads every record in the file at path. A ZIP archive must
// hold exactly one batch file.
func LoadRecordsWith(ctx context.Context, path string, opts Options) ([]*model.Record, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var records []*model.Record
	switch format {
	case FormatXLSX:
		records, err = xlsxRecords(ctx, path, opts)
	case FormatZIP:
		records, err = zipRecords(ctx, path, opts)
	default:
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, eris.Wrapf(openErr, "fetcher: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		records, err = readStream(ctx, f, format, opts)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: load %s", path)
	}

	zap.L().Info("fetcher: batch loaded",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// ReadRecords reads a batch in a stream format (json, jsonl or csv).
func ReadRecords(ctx context.Context, r io.Reader, format Format) ([]*model.Record, error) {
	return readStream(ctx, r, format, Options{})
}

func readStream(ctx context.Context, r io.Reader, format Format, opts Options) ([]*model.Record, error) {
	switch format {
	case FormatJSON:
		return drain(ctx, jsonArrayRows(r))
	case FormatJSONL:
		return drain(ctx, jsonLineRows(r))
	case FormatCSV:
		next, err := csvRows(r, opts.Delimiter)
		if err != nil {
			return nil, err
		}
		return drain(ctx, next)
	default:
		return nil, eris.Errorf("fetcher: %s is not a stream format", format)
	}
}

// rowFunc yields the next raw record of a batch. It returns io.EOF once the
// batch is exhausted and keeps returning it afterwards.
type rowFunc func() (map[string]any, error)

// drain pulls every row and converts it to a record, checking ctx between
// rows.
func drain(ctx context.Context, next rowFunc) ([]*model.Record, error) {
	var records []*model.Record
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "fetcher: context cancelled")
		}
		flat, err := next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, model.FromMap(flat))
	}
}

// rowMap pairs header cells with row cells. Short rows pad with empty
// strings, cells beyond the header are dropped and blank header cells are
// skipped.
func rowMap(header, row []string) map[string]any {
	flat := make(map[string]any, len(header))
	for i, name := range header {
		if name == "" {
			continue
		}
		v := ""
		if i < len(row) {
			v = row[i]
		}
		flat[name] = v
	}
	return flat
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return out
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func eof() (map[string]any, error) { return nil, io.EOF }
