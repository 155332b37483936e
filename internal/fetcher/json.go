package fetcher

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// maxLineBytes bounds one JSON Lines record.
const maxLineBytes = 16 << 20

// jsonArrayRows walks a top-level array of record objects one element at a
// time. Empty input is an empty batch.
func jsonArrayRows(r io.Reader) rowFunc {
	dec := json.NewDecoder(r)
	opened, done := false, false
	index := 0

	return func() (map[string]any, error) {
		if done {
			return eof()
		}
		if !opened {
			tok, err := dec.Token()
			if err == io.EOF {
				done = true
				return eof()
			}
			if err != nil {
				return nil, eris.Wrap(err, "json: read batch start")
			}
			if d, ok := tok.(json.Delim); !ok || d != '[' {
				return nil, eris.Errorf("json: batch must be an array of records, got %v", tok)
			}
			opened = true
		}

		if !dec.More() {
			done = true
			if _, err := dec.Token(); err != nil && err != io.EOF {
				return nil, eris.Wrap(err, "json: read batch end")
			}
			return eof()
		}

		var flat map[string]any
		if err := dec.Decode(&flat); err != nil {
			return nil, eris.Wrapf(err, "json: decode record %d", index)
		}
		if flat == nil {
			return nil, eris.Errorf("json: record %d is null", index)
		}
		index++
		return flat, nil
	}
}

// jsonLineRows decodes one record object per line. Blank lines are skipped;
// a malformed line stops the batch with an error naming the line.
func jsonLineRows(r io.Reader) rowFunc {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0

	return func() (map[string]any, error) {
		for scanner.Scan() {
			line++
			b := bytes.TrimSpace(scanner.Bytes())
			if len(b) == 0 {
				continue
			}
			var flat map[string]any
			if err := json.Unmarshal(b, &flat); err != nil {
				return nil, eris.Wrapf(err, "jsonl: decode line %d", line)
			}
			if flat == nil {
				return nil, eris.Errorf("jsonl: line %d is null", line)
			}
			return flat, nil
		}
		if err := scanner.Err(); err != nil {
			return nil, eris.Wrapf(err, "jsonl: read after line %d", line)
		}
		return eof()
	}
}

// DecodeJSONObject decodes a single JSON object from a reader.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	var obj T
	if err := json.NewDecoder(r).Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &obj, nil
}
