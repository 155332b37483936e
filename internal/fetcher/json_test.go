package fetcher

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, next rowFunc) ([]map[string]any, error) {
	t.Helper()
	var rows []map[string]any
	for {
		row, err := next()
		if err == io.EOF {
			_, again := next()
			assert.Equal(t, io.EOF, again, "exhausted batches stay exhausted")
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}

func TestJSONArrayRows(t *testing.T) {
	input := `[{"name":"Priya Raman","email":"priya@acme.io"},{"name":"Marcus Chen"}]`
	rows, err := collectRows(t, jsonArrayRows(strings.NewReader(input)))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "priya@acme.io", rows[0]["email"])
	assert.Equal(t, "Marcus Chen", rows[1]["name"])
}

func TestJSONArrayRows_EmptyInputs(t *testing.T) {
	for _, input := range []string{"", "[]", "  [ ]  "} {
		rows, err := collectRows(t, jsonArrayRows(strings.NewReader(input)))
		require.NoError(t, err, input)
		assert.Empty(t, rows)
	}
}

func TestJSONArrayRows_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"object batch", `{"name":"x"}`, "batch must be an array"},
		{"null element", `[{"name":"x"},null]`, "record 1 is null"},
		{"scalar element", `[{"name":"x"},42]`, "decode record 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := collectRows(t, jsonArrayRows(strings.NewReader(tt.input)))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestJSONLineRows(t *testing.T) {
	input := "{\"name\":\"Priya Raman\"}\n\n  {\"name\":\"Marcus Chen\",\"email\":\"m@globex.com\"}  \n"
	rows, err := collectRows(t, jsonLineRows(strings.NewReader(input)))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "m@globex.com", rows[1]["email"])
}

func TestJSONLineRows_BadLine(t *testing.T) {
	input := "{\"name\":\"ok\"}\n{broken\n{\"name\":\"never\"}\n"
	rows, err := collectRows(t, jsonLineRows(strings.NewReader(input)))
	assert.ErrorContains(t, err, "decode line 2")
	assert.Len(t, rows, 1)
}

func TestReadRecords_JSONCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	input := "[" + strings.Repeat(`{"name":"a"},`, 50) + `{"name":"b"}]`
	_, err := ReadRecords(ctx, strings.NewReader(input), FormatJSON)
	assert.ErrorContains(t, err, "context cancelled")
}

func TestDecodeJSONObject(t *testing.T) {
	type lead struct {
		Name string `json:"name"`
	}
	l, err := DecodeJSONObject[lead](strings.NewReader(`{"name":"Priya Raman"}`))
	require.NoError(t, err)
	assert.Equal(t, "Priya Raman", l.Name)

	_, err = DecodeJSONObject[lead](strings.NewReader("not json"))
	assert.Error(t, err)
}
