package fetcher

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/record-gate/internal/model"
)

// maxEntryBytes caps the uncompressed size of an archived batch.
const maxEntryBytes = 512 << 20

// batchEntry returns the archive's only batch file. Directories and macOS
// resource forks are ignored.
func batchEntry(zr *zip.Reader) (*zip.File, error) {
	var found []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") || strings.HasPrefix(path.Base(f.Name), "._") {
			continue
		}
		found = append(found, f)
	}
	if len(found) != 1 {
		return nil, eris.Errorf("zip: expected exactly 1 batch file, got %d", len(found))
	}
	return found[0], nil
}

// zipRecords reads the archive's batch file in memory and loads it by its
// own extension.
func zipRecords(ctx context.Context, archive string, opts Options) ([]*model.Record, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer zr.Close() //nolint:errcheck

	entry, err := batchEntry(&zr.Reader)
	if err != nil {
		return nil, err
	}
	format, err := DetectFormat(entry.Name)
	if err != nil {
		return nil, err
	}
	if format == FormatZIP {
		return nil, eris.New("zip: nested archives are not supported")
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open %s", entry.Name)
	}
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, eris.Wrapf(err, "zip: read %s", entry.Name)
	}
	if len(data) > maxEntryBytes {
		return nil, eris.Errorf("zip: %s exceeds %d bytes", entry.Name, maxEntryBytes)
	}

	if format == FormatXLSX {
		wb, err := xlsx.OpenBinary(data)
		if err != nil {
			return nil, eris.Wrapf(err, "zip: open workbook %s", entry.Name)
		}
		return workbookRecords(ctx, wb, opts.Sheet)
	}
	return readStream(ctx, bytes.NewReader(data), format, opts)
}
