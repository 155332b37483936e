package gate

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/record-gate/internal/authenticity"
	"github.com/sells-group/record-gate/internal/constraint"
	"github.com/sells-group/record-gate/internal/evidence"
	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/normalize"
	"github.com/sells-group/record-gate/internal/rules"
	"github.com/sells-group/record-gate/internal/schema"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newGate(t *testing.T) *Gate {
	t.Helper()
	r := rules.Default()
	n := normalize.New(r, testNow)
	spec := &rules.RunSpec{
		Schema: map[string]rules.FieldType{
			"name":  rules.TypeString,
			"email": rules.TypeEmail,
			"title": rules.TypeString,
		},
		Required: []string{"name", "email"},
		Constraints: []model.ConstraintSpec{
			{Name: "email_format", Type: model.ConstraintFormat, Field: "email", Pattern: "email"},
			{Name: "senior", Type: model.ConstraintSeniority, Field: "title", Levels: []string{"vp", "c_suite"}},
		},
	}
	eng := constraint.New(r, n, constraint.Options{})
	require.NoError(t, spec.Validate(r, eng.CustomChecks()))
	g := New(eng, authenticity.New(r, n, authenticity.Options{}), schema.New(spec), spec.Constraints)
	return g.WithClock(func() time.Time { return testNow })
}

func page(text string) evidence.Bundle {
	return evidence.Bundle{Page: &evidence.PageEvidence{Status: evidence.StatusFetched, Text: text}}
}

func TestDecide_Admitted(t *testing.T) {
	g := newGate(t)
	rec := model.NewRecord("r1", map[string]any{
		"name":  "Priya Raman",
		"email": "priya@acme.io",
		"title": "VP Engineering",
	})
	rec.Annotate().Anomalies = []model.AnomalyFlag{{Field: "bio", Kind: model.AnomalyShortText}}

	d := g.Decide(rec, page("Priya Raman, VP Engineering at Acme. Reach her at priya@acme.io."), authenticity.BatchSignal{})
	require.True(t, d.Admitted, "%+v", d.Reasons)
	assert.Empty(t, d.Reasons)

	v := d.Validation()
	assert.Equal(t, model.StatusPass, v.Status)
	assert.GreaterOrEqual(t, v.Confidence, 80)
	assert.Equal(t, 1.0, v.Completeness)
	assert.Len(t, v.Constraints, 2)
	assert.Len(t, v.Anomalies, 1, "earlier annotations survive")
	require.NotNil(t, v.DecidedAt)
	assert.Equal(t, testNow, *v.DecidedAt)
}

func TestDecide_OneReasonPerFailingCheck(t *testing.T) {
	g := newGate(t)
	rec := model.NewRecord("r2", map[string]any{
		"name":  "Test User",
		"title": "Junior Analyst",
	})
	d := g.Decide(rec, evidence.Bundle{
		Page: &evidence.PageEvidence{Status: evidence.StatusUnreachable, Error: "timeout"},
	}, authenticity.BatchSignal{})

	require.False(t, d.Admitted)
	var cats []model.RejectionCategory
	checks := map[model.GateCheck]int{}
	for _, r := range d.Reasons {
		cats = append(cats, r.Category)
		checks[r.Check]++
		assert.NotEmpty(t, r.Message)
	}
	assert.Contains(t, cats, model.RejectConstraintFailed)
	assert.Contains(t, cats, model.RejectSyntheticData)
	assert.Contains(t, cats, model.RejectUnverifiable)
	assert.Contains(t, cats, model.RejectMissingRequired)
	assert.Equal(t, 1, checks[model.GateConstraints])
	assert.Equal(t, 2, checks[model.GateAuthenticity], "one per failing sub-check")
	assert.Equal(t, 1, checks[model.GateRequired])

	for _, r := range d.Reasons {
		switch r.Category {
		case model.RejectConstraintFailed:
			assert.Equal(t, "constraints not met: email_format, senior", r.Message)
			assert.Len(t, r.Details, 2)
		case model.RejectSyntheticData:
			assert.Contains(t, r.Details, "generic_name:name:test user")
		case model.RejectMissingRequired:
			assert.Equal(t, "required fields missing: email", r.Message)
		}
	}
	assert.Equal(t, model.StatusFail, d.Validation().Status)
	assert.Equal(t, 0, d.Validation().Confidence)
}

func TestDecide_UncertainIsRejected(t *testing.T) {
	g := newGate(t)
	rec := model.NewRecord("r3", map[string]any{
		"name":  "Priya Raman",
		"email": "priya@acme.io",
		"title": "VP Engineering",
	})
	// 2 of 3 fields on the page: 67%, between the uncertain and pass thresholds.
	d := g.Decide(rec, page("Priya Raman leads engineering. priya@acme.io"), authenticity.BatchSignal{})
	require.False(t, d.Admitted)
	require.Len(t, d.Reasons, 1)
	assert.Equal(t, model.RejectSourceMismatch, d.Reasons[0].Category)
	assert.Equal(t, model.StatusUncertain, d.Validation().Status)
	assert.Contains(t, d.Reasons[0].Details[0], "title")
}

func TestDecide_TypeErrorsReject(t *testing.T) {
	g := newGate(t)
	rec := model.NewRecord("r4", map[string]any{
		"name":  "Priya Raman",
		"email": "priya@acme.io",
		"title": []any{"VP", "Engineering"},
	})
	g.specs = nil
	d := g.Decide(rec, evidence.Bundle{}, authenticity.BatchSignal{})
	require.False(t, d.Admitted)
	require.Len(t, d.Reasons, 1)
	assert.Equal(t, model.RejectInvalidTypes, d.Reasons[0].Category)
	assert.Equal(t, model.GateRequired, d.Reasons[0].Check)
}

func TestDecide_BatchFlagsAdvisory(t *testing.T) {
	g := newGate(t)
	rec := model.NewRecord("r5", map[string]any{
		"name":  "Priya Raman",
		"email": "priya@acme.io",
		"title": "Chief Executive Officer",
	})
	d := g.Decide(rec, evidence.Bundle{}, authenticity.BatchSignal{Flags: []string{"batch_fully_complete"}})
	assert.True(t, d.Admitted)
	assert.Contains(t, d.Validation().Authenticity.Flags, "batch_fully_complete")
}

func TestBuildReport(t *testing.T) {
	g := newGate(t)
	good := model.NewRecord("a", map[string]any{"name": "Priya Raman", "email": "priya@acme.io", "title": "VP Sales"})
	bad := model.NewRecord("b", map[string]any{"name": "Priya Raman", "title": "VP Sales"})
	synthetic := model.NewRecord("c", map[string]any{"name": "Test User", "email": "test@example.com", "title": "CEO"})
	synthetic.Annotate().Anomalies = []model.AnomalyFlag{{Field: "x", Kind: model.AnomalyHTML}}

	decisions := []Decision{
		g.Decide(good, evidence.Bundle{}, authenticity.BatchSignal{}),
		g.Decide(bad, evidence.Bundle{}, authenticity.BatchSignal{}),
		g.Decide(synthetic, evidence.Bundle{}, authenticity.BatchSignal{}),
	}
	rep := BuildReport(decisions, ReportMeta{RunID: "run-1", Name: "leads", InputRecords: 4, DuplicatesMerged: 1, GeneratedAt: testNow})

	assert.Equal(t, 3, rep.Candidates)
	assert.Equal(t, 1, rep.Passed)
	assert.Equal(t, 2, rep.Rejected)
	assert.Equal(t, 33.3, rep.PassRate)
	assert.Equal(t, model.ConstraintStats{Pass: 2, Fail: 1, PassRate: 66.7}, rep.Constraints["email_format"])
	assert.Equal(t, model.ConstraintStats{Pass: 3, PassRate: 100}, rep.Constraints["senior"])
	assert.Equal(t, 3, rep.Authenticity.Performed[model.CheckSynthetic])
	assert.Equal(t, 1, rep.Authenticity.Failed[model.CheckSynthetic])
	assert.Equal(t, 1, rep.Authenticity.ByReason[model.RejectSyntheticData])
	assert.Equal(t, 1, rep.RejectionsByReason[model.RejectMissingRequired])
	assert.Equal(t, 1, rep.AnomalyCounts[model.AnomalyHTML])
	assert.InDelta(t, 0.889, rep.AvgCompleteness, 1e-9)

	md := FormatReport(rep)
	assert.True(t, strings.HasPrefix(md, "# Validation Report: leads\n"))
	assert.Contains(t, md, "- Pass rate: 33.3%")
	assert.Contains(t, md, "- **email_format**: 66.7% pass (2 pass, 1 fail, 0 uncertain)")
	assert.Contains(t, md, "- SYNTHETIC_DATA: 1")
	assert.Contains(t, md, "## Anomalies")
}

func TestBuildReport_Empty(t *testing.T) {
	rep := BuildReport(nil, ReportMeta{RunID: "run-0", GeneratedAt: testNow})
	assert.Zero(t, rep.PassRate)
	assert.NotNil(t, rep.Constraints)
	assert.NotNil(t, rep.RejectionsByReason)
	assert.NotNil(t, rep.Authenticity.Performed)

	md := FormatReport(rep)
	assert.Contains(t, md, "# Validation Report: run-0")
	assert.Contains(t, md, "No constraints evaluated.")
	assert.Contains(t, md, "No rejections.")
	assert.NotContains(t, md, "## Batch Flags")
}
