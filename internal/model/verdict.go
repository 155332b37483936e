package model

import "time"

// Status is the outcome of a single check.
type Status string

const (
	StatusPass      Status = "PASS"
	StatusFail      Status = "FAIL"
	StatusUncertain Status = "UNCERTAIN"
)

// Admits reports whether the status lets a record through. UNCERTAIN counts
// as a failure (strict mode).
func (s Status) Admits() bool {
	return s == StatusPass
}

// Worst returns the more severe of two statuses (FAIL > UNCERTAIN > PASS).
func Worst(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusFail:
			return 2
		case StatusUncertain:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// ConstraintType enumerates supported constraint kinds.
type ConstraintType string

const (
	ConstraintRequiredFields ConstraintType = "required_fields"
	ConstraintFormat         ConstraintType = "format"
	ConstraintLocation       ConstraintType = "location"
	ConstraintExperience     ConstraintType = "experience"
	ConstraintSeniority      ConstraintType = "seniority"
	ConstraintNumeric        ConstraintType = "numeric"
	ConstraintCustom         ConstraintType = "custom"
)

// ConstraintSpec is one named, user-defined rule.
type ConstraintSpec struct {
	Name             string         `yaml:"name" json:"name"`
	Type             ConstraintType `yaml:"type" json:"type"`
	Field            string         `yaml:"field,omitempty" json:"field,omitempty"`
	Fields           []string       `yaml:"fields,omitempty" json:"fields,omitempty"`
	AllowedValues    []string       `yaml:"allowed_values,omitempty" json:"allowed_values,omitempty"`
	Minimum          *float64       `yaml:"minimum,omitempty" json:"minimum,omitempty"`
	Maximum          *float64       `yaml:"maximum,omitempty" json:"maximum,omitempty"`
	PreferredMinimum *float64       `yaml:"preferred_minimum,omitempty" json:"preferred_minimum,omitempty"`
	Pattern          string         `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Regex            string         `yaml:"regex,omitempty" json:"regex,omitempty"`
	Levels           []string       `yaml:"levels,omitempty" json:"levels,omitempty"`
	Method           string         `yaml:"method,omitempty" json:"method,omitempty"`
	HistoryField     string         `yaml:"history_field,omitempty" json:"history_field,omitempty"`
	Check            string         `yaml:"check,omitempty" json:"check,omitempty"`
	Params           map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// ConstraintVerdict is the result of evaluating one ConstraintSpec against one Record.
type ConstraintVerdict struct {
	Name       string         `json:"name"`
	Type       ConstraintType `json:"type"`
	Field      string         `json:"field,omitempty"`
	Status     Status         `json:"status"`
	Expected   string         `json:"expected"`
	Actual     string         `json:"actual"`
	Confidence int            `json:"confidence"`
	Note       string         `json:"note,omitempty"`
}

// Severity grades an authenticity mismatch or anomaly.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
)

// Rank orders severities so thresholds can be compared.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// CheckKind names an authenticity sub-check.
type CheckKind string

const (
	CheckSynthetic   CheckKind = "synthetic"
	CheckSourcePage  CheckKind = "source_page"
	CheckProfile     CheckKind = "profile"
	CheckCrossSource CheckKind = "cross_source"
)

// Mismatch is one field-level disagreement found during verification.
type Mismatch struct {
	Check    CheckKind `json:"check"`
	Field    string    `json:"field"`
	Expected string    `json:"expected"`
	Actual   string    `json:"actual"`
	Severity Severity  `json:"severity"`
}

// CheckResult is the outcome of one authenticity sub-check.
type CheckResult struct {
	Kind       CheckKind         `json:"kind"`
	Status     Status            `json:"status"`
	Confidence int               `json:"confidence"`
	Score      float64           `json:"score,omitempty"`
	Category   RejectionCategory `json:"category,omitempty"`
	Note       string            `json:"note,omitempty"`
}

// AuthenticityVerdict combines synthetic detection and external verification.
type AuthenticityVerdict struct {
	Status     Status        `json:"status"`
	Confidence int           `json:"confidence"`
	Checks     []CheckResult `json:"checks"`
	Mismatches []Mismatch    `json:"mismatches,omitempty"`
	Flags      []string      `json:"flags,omitempty"`
}

// TypeError records a schema type violation.
type TypeError struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// SchemaResult is the structured output of the schema validator.
type SchemaResult struct {
	MissingFields []string    `json:"missing_fields,omitempty"`
	EmptyFields   []string    `json:"empty_fields,omitempty"`
	TypeErrors    []TypeError `json:"type_errors,omitempty"`
}

// RequiredOK reports whether every required field is present and non-blank.
func (s SchemaResult) RequiredOK() bool {
	return len(s.MissingFields) == 0 && len(s.EmptyFields) == 0
}

// Passed reports whether the record satisfied the schema entirely.
func (s SchemaResult) Passed() bool {
	return s.RequiredOK() && len(s.TypeErrors) == 0
}

// AnomalyKind names a data-quality issue.
type AnomalyKind string

const (
	AnomalyOutlier   AnomalyKind = "outlier"
	AnomalyHTML      AnomalyKind = "html_remnant"
	AnomalyBlockPage AnomalyKind = "block_page"
	AnomalyShortText AnomalyKind = "short_text"
)

// AnomalyFlag is an advisory data-quality signal.
type AnomalyFlag struct {
	Field    string      `json:"field"`
	Kind     AnomalyKind `json:"kind"`
	Severity Severity    `json:"severity"`
	Value    string      `json:"value,omitempty"`
	Note     string      `json:"note,omitempty"`
}

// RejectionCategory is the machine-readable reason a record was quarantined.
type RejectionCategory string

const (
	RejectMissingRequired  RejectionCategory = "MISSING_REQUIRED_FIELDS"
	RejectInvalidTypes     RejectionCategory = "INVALID_FIELD_TYPES"
	RejectConstraintFailed RejectionCategory = "CONSTRAINT_FAILED"
	RejectSyntheticData    RejectionCategory = "SYNTHETIC_DATA"
	RejectSourceMismatch   RejectionCategory = "SOURCE_MISMATCH"
	RejectProfileMismatch  RejectionCategory = "PROFILE_MISMATCH"
	RejectCrossSource      RejectionCategory = "CROSS_SOURCE_INCONSISTENT"
	RejectUnverifiable     RejectionCategory = "UNVERIFIABLE"
)

// GateCheck names one of the three admission checks.
type GateCheck string

const (
	GateConstraints  GateCheck = "constraints"
	GateAuthenticity GateCheck = "authenticity"
	GateRequired     GateCheck = "required_fields"
)

// RejectionReason is one structured reason a record failed the gate.
type RejectionReason struct {
	Check    GateCheck         `json:"check"`
	Category RejectionCategory `json:"category"`
	Message  string            `json:"message"`
	Details  []string          `json:"details,omitempty"`
}

// Validation is the block attached to a record during processing.
type Validation struct {
	Status       Status               `json:"status"`
	Confidence   int                  `json:"confidence"`
	Completeness float64              `json:"completeness"`
	Constraints  []ConstraintVerdict  `json:"constraints,omitempty"`
	Authenticity *AuthenticityVerdict `json:"authenticity,omitempty"`
	Schema       *SchemaResult        `json:"schema,omitempty"`
	Anomalies    []AnomalyFlag        `json:"anomalies,omitempty"`
	MergedFrom   []string             `json:"merged_from,omitempty"`
	Reasons      []RejectionReason    `json:"reasons,omitempty"`
	DecidedAt    *time.Time           `json:"decided_at,omitempty"`
}

// Annotate returns the record's validation block, creating it if needed.
func (r *Record) Annotate() *Validation {
	if r.Validation == nil {
		r.Validation = &Validation{}
	}
	return r.Validation
}
