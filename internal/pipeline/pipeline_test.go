package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/record-gate/internal/constraint"
	"github.com/sells-group/record-gate/internal/enrich"
	"github.com/sells-group/record-gate/internal/evidence"
	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/rules"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const specYAML = `
name: leads
schema:
  name: string
  email: email
  title: string
  company: string
  location: string
required: [name, email]
constraints:
  - name: us_only
    type: location
    field: location
    allowed_values: ["United States"]
  - name: leadership
    type: seniority
    field: title
    levels: [c_suite, vp, director]
`

func newPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	spec, err := rules.ParseRunSpec([]byte(specYAML))
	require.NoError(t, err)
	opts.Now = testNow
	opts.RunID = "run-test"
	p, err := New(rules.Default(), spec, opts)
	require.NoError(t, err)
	return p
}

func batch() []*model.Record {
	return []*model.Record{
		model.NewRecord("r1", map[string]any{
			"name":     "Priya Raman",
			"email":    "Priya@Acme.io",
			"title":    "VP Engineering",
			"company":  "Acme Robotics",
			"location": "Austin, TX",
		}),
		model.NewRecord("r2", map[string]any{
			"name":     "Marcus Chen",
			"title":    "Director of Sales",
			"company":  "Globex",
			"location": "Denver, CO",
		}),
		model.NewRecord("r3", map[string]any{
			"name":     "Alex Kim",
			"email":    "alex@example.com",
			"title":    "Test User",
			"company":  "Initech",
			"website":  "https://example.com",
			"location": "Boston, MA",
		}),
	}
}

func TestRun_EndToEnd(t *testing.T) {
	p := newPipeline(t, Options{})
	set := evidence.Set{
		"r1": {Page: &evidence.PageEvidence{
			Status: evidence.StatusFetched,
			Text:   "Priya Raman is VP Engineering at Acme Robotics in Austin, TX. Contact: priya@acme.io",
		}},
	}
	recs := batch()
	res, err := p.Run(context.Background(), recs, set)
	require.NoError(t, err)

	require.Len(t, res.Clean, 1)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, "r1", res.Clean[0].ID)
	assert.GreaterOrEqual(t, res.Clean[0].Validation.Confidence, 80)
	assert.Equal(t, model.StatusPass, res.Clean[0].Validation.Status)

	byID := map[string]Rejection{}
	for _, r := range res.Rejected {
		require.NotEmpty(t, r.Reasons)
		byID[r.Record.ID] = r
	}
	assert.Equal(t, model.RejectMissingRequired, byID["r2"].Reasons[0].Category)
	var r3 []model.RejectionCategory
	for _, reason := range byID["r3"].Reasons {
		r3 = append(r3, reason.Category)
	}
	assert.Contains(t, r3, model.RejectSyntheticData)

	assert.Equal(t, 33.3, res.Report.PassRate)
	assert.Equal(t, 3, res.Report.InputRecords)
	assert.Equal(t, "run-test", res.Report.RunID)
	assert.Equal(t, []string{"r1", "r2", "r3"}, res.AccountedIDs())

	var stages []string
	for _, s := range res.Stages {
		stages = append(stages, s.Name)
	}
	assert.Equal(t, []string{"ingest", "normalize", "schema", "authenticity", "anomaly", "constraints", "dedupe", "enrich", "gate"}, stages)

	email, _ := res.Clean[0].String("email")
	assert.Equal(t, "priya@acme.io", email, "normalized before verification")
	assert.True(t, res.Clean[0].Has(enrich.FieldEmailDomain))
}

func TestRun_MergesDuplicates(t *testing.T) {
	p := newPipeline(t, Options{})
	recs := []*model.Record{
		model.NewRecord("a", map[string]any{
			"name": "Priya Raman", "email": "priya@acme.io", "title": "VP Engineering",
			"website": "https://www.acme.io/", "location": "Austin, TX",
		}),
		model.NewRecord("b", map[string]any{
			"name": "Priya Raman", "email": "priya@acme.io", "title": "Vice President, Engineering",
			"website": "https://acme.io", "location": "Austin, Texas",
		}),
	}
	res, err := p.Run(context.Background(), recs, nil)
	require.NoError(t, err)

	require.Len(t, res.Groups, 1)
	assert.Equal(t, map[string]string{"b": "a"}, res.Duplicates)
	assert.Equal(t, []string{"a", "b"}, res.AccountedIDs())
	assert.Equal(t, 1, res.Report.Candidates)
	assert.Equal(t, 1, res.Report.DuplicatesMerged)
	require.Len(t, res.Clean, 1)
	assert.Equal(t, []string{"b"}, res.Clean[0].Validation.MergedFrom)
}

func TestRun_EnricherFillsRequiredField(t *testing.T) {
	crm := enrich.NewStaticProvider("crm", "name", map[string]map[string]any{
		"Marcus Chen": {"email": "marcus@globex.com"},
	})
	p := newPipeline(t, Options{Enricher: enrich.NewChain(2, crm)})
	res, err := p.Run(context.Background(), batch()[1:2], nil)
	require.NoError(t, err)

	require.Len(t, res.Clean, 1)
	by, _ := res.Clean[0].Get(enrich.EnrichedByField)
	assert.Equal(t, map[string]any{"email": "crm"}, by)
}

type fakePages struct{ called int }

func (f *fakePages) FillPages(_ context.Context, records []*model.Record, set evidence.Set) (evidence.Set, error) {
	f.called++
	out := evidence.Set{}
	for k, v := range set {
		out[k] = v
	}
	for _, r := range records {
		if r.SourceURL != "" {
			out[r.ID] = evidence.Bundle{Page: &evidence.PageEvidence{Status: evidence.StatusUnreachable, Error: "blocked"}}
		}
	}
	return out, nil
}

func TestRun_FetchedEvidenceUsed(t *testing.T) {
	pages := &fakePages{}
	p := newPipeline(t, Options{Pages: pages})
	recs := batch()[:1]
	recs[0].SourceURL = "https://acme.io/team"

	res, err := p.Run(context.Background(), recs, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, pages.called)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, model.RejectUnverifiable, res.Rejected[0].Reasons[0].Category)
}

func TestRun_EmptyBatchStillReports(t *testing.T) {
	p := newPipeline(t, Options{})
	res, err := p.Run(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Clean)
	assert.Empty(t, res.Rejected)
	assert.Zero(t, res.Report.PassRate)
	assert.NotNil(t, res.Report.Constraints)
}

func TestRun_IDs(t *testing.T) {
	p := newPipeline(t, Options{})
	rec := model.NewRecord("", map[string]any{"name": "Priya Raman"})
	res, err := p.Run(context.Background(), []*model.Record{rec}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, []string{rec.ID}, res.AccountedIDs())

	_, err = p.Run(context.Background(), []*model.Record{
		model.NewRecord("x", nil), model.NewRecord("x", nil),
	}, nil)
	assert.ErrorContains(t, err, "duplicate record_id")
}

func TestRun_IdenticalRecordsWithoutIDsMerge(t *testing.T) {
	p := newPipeline(t, Options{})
	scraped := func() *model.Record {
		rec := model.NewRecord("", map[string]any{
			"name": "Priya Raman", "email": "priya@acme.io", "title": "VP Engineering",
			"website": "https://acme.io", "location": "Austin, TX",
		})
		rec.SourceURL = "https://acme.io/team"
		return rec
	}
	first, second := scraped(), scraped()
	plainID := scraped().ContentID(0)

	res, err := p.Run(context.Background(), []*model.Record{first, second}, nil)
	require.NoError(t, err)

	require.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, plainID, first.ID, "first copy keeps the plain content id")
	assert.ElementsMatch(t, []string{first.ID, second.ID}, res.AccountedIDs())
	require.Len(t, res.Groups, 1)
	assert.Equal(t, map[string]string{second.ID: first.ID}, res.Duplicates)
	assert.Equal(t, 1, res.Report.Candidates)
}

func TestRun_IDsStableAcrossReruns(t *testing.T) {
	p := newPipeline(t, Options{})
	mk := func() []*model.Record {
		return []*model.Record{
			model.NewRecord("", map[string]any{"name": "Priya Raman"}),
			model.NewRecord("", map[string]any{"name": "Priya Raman"}),
		}
	}
	a, b := mk(), mk()
	_, err := p.Run(context.Background(), a, nil)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), b, nil)
	require.NoError(t, err)

	assert.Equal(t, a[0].ID, b[0].ID)
	assert.Equal(t, a[1].ID, b[1].ID)
}

func TestRun_OutliersInStringCells(t *testing.T) {
	spec, err := rules.ParseRunSpec([]byte(`
name: influencers
schema:
  name: string
  followers: integer
required: [name]
dedupe:
  fuzzy: false
`))
	require.NoError(t, err)
	p, err := New(rules.Default(), spec, Options{Now: testNow, RunID: "run-csv"})
	require.NoError(t, err)

	var recs []*model.Record
	for i, followers := range []string{"10", "12", "11", "13", "-5000"} {
		recs = append(recs, model.NewRecord(fmt.Sprintf("c%d", i), map[string]any{
			"name":      fmt.Sprintf("Creator %d", i),
			"followers": followers,
		}))
	}
	res, err := p.Run(context.Background(), recs, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Report.AnomalyCounts[model.AnomalyOutlier])

	var flagged *model.Record
	for _, rec := range res.Clean {
		if rec.ID == "c4" {
			flagged = rec
		}
	}
	for _, rej := range res.Rejected {
		if rej.Record.ID == "c4" {
			flagged = rej.Record
		}
	}
	require.NotNil(t, flagged)
	require.Len(t, flagged.Validation.Anomalies, 1)
	assert.Equal(t, "followers", flagged.Validation.Anomalies[0].Field)
}

func TestNew_InvalidSpec(t *testing.T) {
	spec, err := rules.ParseRunSpec([]byte(`
name: bad
constraints:
  - name: c1
    type: vibes
    field: x
`))
	require.NoError(t, err)
	_, err = New(rules.Default(), spec, Options{})
	assert.ErrorIs(t, err, rules.ErrInvalidSpec)

	_, err = New(rules.Default(), nil, Options{})
	assert.ErrorIs(t, err, rules.ErrInvalidSpec)
}

func TestNew_CustomCheckRegistered(t *testing.T) {
	spec, err := rules.ParseRunSpec([]byte(`
name: custom
constraints:
  - name: has_domain
    type: custom
    check: corporate_email
`))
	require.NoError(t, err)
	_, err = New(rules.Default(), spec, Options{})
	require.ErrorIs(t, err, rules.ErrInvalidSpec)

	_, err = New(rules.Default(), spec, Options{CustomChecks: map[string]constraint.CustomCheck{
		"corporate_email": func(*model.Record, model.ConstraintSpec) model.ConstraintVerdict {
			return model.ConstraintVerdict{Status: model.StatusPass, Confidence: 90}
		},
	}})
	assert.NoError(t, err)
}
