package model

import "time"

// MergePhase identifies which dedupe phase produced a group.
type MergePhase string

const (
	MergeExact MergePhase = "exact"
	MergeFuzzy MergePhase = "fuzzy"
)

// SourcedValue is one contributing value in a merge conflict.
type SourcedValue struct {
	RecordID string `json:"record_id"`
	Source   string `json:"source"`
	Value    any    `json:"value"`
}

// Conflict records a field-level disagreement and how it was resolved.
type Conflict struct {
	Field         string         `json:"field"`
	Values        []SourcedValue `json:"values"`
	Winner        any            `json:"winner"`
	WinningSource string         `json:"winning_source"`
	Rule          string         `json:"rule"` // source_priority | longest
}

// MergeGroup is a set of records believed to denote one entity.
type MergeGroup struct {
	CanonicalID    string     `json:"canonical_id"`
	MemberIDs      []string   `json:"member_ids"`
	Phase          MergePhase `json:"phase"`
	Key            string     `json:"key,omitempty"`
	SourcePriority []string   `json:"source_priority,omitempty"`
	Conflicts      []Conflict `json:"conflicts"`
}

// ConstraintStats aggregates verdicts for one constraint across a run.
type ConstraintStats struct {
	Pass      int     `json:"pass"`
	Fail      int     `json:"fail"`
	Uncertain int     `json:"uncertain"`
	PassRate  float64 `json:"pass_rate"`
}

// AuthenticityStats counts authenticity sub-checks performed and failed.
type AuthenticityStats struct {
	Performed map[CheckKind]int         `json:"performed"`
	Failed    map[CheckKind]int         `json:"failed"`
	ByReason  map[RejectionCategory]int `json:"by_category"`
}

// ValidationReport is the per-run aggregate produced after the gate.
type ValidationReport struct {
	RunID              string                     `json:"run_id"`
	Name               string                     `json:"name,omitempty"`
	InputRecords       int                        `json:"input_records"`
	Candidates         int                        `json:"candidates"`
	Passed             int                        `json:"passed"`
	Rejected           int                        `json:"rejected"`
	PassRate           float64                    `json:"pass_rate"`
	DuplicatesMerged   int                        `json:"duplicates_merged"`
	Constraints        map[string]ConstraintStats `json:"constraints"`
	Authenticity       AuthenticityStats          `json:"authenticity"`
	RejectionsByReason map[RejectionCategory]int  `json:"rejections_by_category"`
	AnomalyCounts      map[AnomalyKind]int        `json:"anomaly_counts"`
	BatchFlags         []string                   `json:"batch_flags,omitempty"`
	AvgCompleteness    float64                    `json:"avg_completeness"`
	AvgConfidence      float64                    `json:"avg_confidence"`
	GeneratedAt        time.Time                  `json:"generated_at"`
}

// RunStatus tracks a persisted pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one persisted pipeline invocation.
type Run struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Status    RunStatus         `json:"status"`
	Report    *ValidationReport `json:"report,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
