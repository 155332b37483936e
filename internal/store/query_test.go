package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/record-gate/internal/model"
)

func TestRunsQuery(t *testing.T) {
	after := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	query, args := runsQuery(RunFilter{
		Status:       model.RunStatusComplete,
		Name:         "leads",
		CreatedAfter: after,
		Limit:        20,
		Offset:       40,
	}, dollarN)
	assert.Equal(t, `SELECT ` + runColumns + ` FROM runs WHERE true AND status = $1 AND name = $2 AND created_at > $3 ORDER BY created_at DESC LIMIT $4 OFFSET $5`, query)
	assert.Equal(t, []any{"complete", "leads", after, 20, 40}, args)

	query, args = runsQuery(RunFilter{}, questionMark)
	assert.Equal(t, `SELECT ` + runColumns + ` FROM runs WHERE true ORDER BY created_at DESC LIMIT ?`, query)
	assert.Equal(t, []any{100}, args, "default limit applies")
}

func TestRecordsQuery(t *testing.T) {
	query, args := recordsQuery("run-1", RecordFilter{Status: model.StatusFail, Limit: 5}, dollarN)
	assert.Equal(t, `SELECT ` + recordColumns + ` FROM run_records WHERE run_id = $1 AND status = $2 ORDER BY record_id LIMIT $3`, query)
	assert.Equal(t, []any{"run-1", "FAIL", 5}, args)

	query, args = recordsQuery("run-1", RecordFilter{Offset: 10}, questionMark)
	assert.Equal(t, `SELECT ` + recordColumns + ` FROM run_records WHERE run_id = ? ORDER BY record_id LIMIT ? OFFSET ?`, query)
	assert.Equal(t, []any{"run-1", 100, 10}, args)
}
