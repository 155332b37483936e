package fetcher

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// candidateDelimiters are tried when sniffing, in tie-break order.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

// sniffDelimiter picks the candidate seen most often in the header line,
// ignoring quoted text. It falls back to a comma.
func sniffDelimiter(line []byte) rune {
	counts := make(map[rune]int, len(candidateDelimiters))
	quoted := false
	for _, c := range string(line) {
		if c == '"' {
			quoted = !quoted
			continue
		}
		if !quoted {
			counts[c]++
		}
	}

	best, bestN := ',', 0
	for _, d := range candidateDelimiters {
		if counts[d] > bestN {
			best, bestN = d, counts[d]
		}
	}
	return best
}

// csvRows reads a headed CSV. Cell values stay strings; the normalizer and
// schema validator interpret them. Blank rows are skipped.
func csvRows(r io.Reader, delim rune) (rowFunc, error) {
	br := bufio.NewReader(r)
	if delim == 0 {
		head, _ := br.Peek(64 * 1024)
		if i := bytes.IndexByte(head, '\n'); i >= 0 {
			head = head[:i]
		}
		delim = sniffDelimiter(head)
	}

	reader := csv.NewReader(br)
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	first, err := reader.Read()
	if err == io.EOF {
		return eof, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}
	header := normalizeHeader(first)

	return func() (map[string]any, error) {
		for {
			row, err := reader.Read()
			if err == io.EOF {
				return eof()
			}
			if err != nil {
				return nil, eris.Wrap(err, "csv: read row")
			}
			if !blankRow(row) {
				return rowMap(header, row), nil
			}
		}
	}, nil
}
