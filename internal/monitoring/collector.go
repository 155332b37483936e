package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run history.
type MetricsSnapshot struct {
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Record totals over completed runs.
	Candidates   int                             `json:"candidates"`
	Passed       int                             `json:"passed"`
	PassRate     float64                         `json:"pass_rate"` // percent
	Rejections   map[model.RejectionCategory]int `json:"rejections"`
	Unverifiable int                             `json:"unverifiable"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the slice of the store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from run history.
type Collector struct {
	runs RunLister
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		Rejections:    make(map[model.RejectionCategory]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		default:
			snap.RunsRunning++
		}
		if r.Report == nil {
			continue
		}
		snap.Candidates += r.Report.Candidates
		snap.Passed += r.Report.Passed
		for cat, n := range r.Report.RejectionsByReason {
			snap.Rejections[cat] += n
		}
	}
	snap.Unverifiable = snap.Rejections[model.RejectUnverifiable]

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.Candidates > 0 {
		snap.PassRate = float64(snap.Passed) / float64(snap.Candidates) * 100
	}
	return snap, nil
}
