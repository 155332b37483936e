// Package store persists validation runs and their per-record outcomes.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/record-gate/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Name         string          `json:"name,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// RecordFilter specifies criteria for listing the records of a run.
type RecordFilter struct {
	Status model.Status `json:"status,omitempty"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset,omitempty"`
}

// RunRecord is one record's final outcome within a run.
type RunRecord struct {
	RunID     string                  `json:"run_id"`
	RecordID  string                  `json:"record_id"`
	Status    model.Status            `json:"status"`
	Record    json.RawMessage         `json:"record"`
	Reasons   []model.RejectionReason `json:"reasons,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
}

// Store defines the persistence interface for run history.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, name string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, report *model.ValidationReport) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Records
	SaveRecords(ctx context.Context, runID string, records []RunRecord) error
	ListRecords(ctx context.Context, runID string, filter RecordFilter) ([]RunRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// NewRunRecord snapshots rec as persisted JSON. A record without a
// validation annotation is stored as FAIL.
func NewRunRecord(runID string, rec *model.Record, reasons []model.RejectionReason) (RunRecord, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return RunRecord{}, eris.Wrapf(err, "store: marshal record %s", rec.ID)
	}
	status := model.StatusFail
	if rec.Validation != nil && rec.Validation.Status != "" {
		status = rec.Validation.Status
	}
	return RunRecord{
		RunID:    runID,
		RecordID: rec.ID,
		Status:   status,
		Record:   data,
		Reasons:  reasons,
	}, nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func failMessage(cause error) string {
	if cause == nil {
		return "unknown error"
	}
	return cause.Error()
}
