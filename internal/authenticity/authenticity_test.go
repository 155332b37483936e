package authenticity

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/record-gate/internal/evidence"
	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/normalize"
	"github.com/sells-group/record-gate/internal/rules"
)

var testNow = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func newChecker(opts Options) *Checker {
	r := rules.Default()
	return New(r, normalize.New(r, testNow), opts)
}

func person(fields map[string]any) *model.Record {
	return model.NewRecord("r1", fields)
}

func TestSyntheticFlags(t *testing.T) {
	c := newChecker(DefaultOptions())
	rec := person(map[string]any{
		"name":    "Test User",
		"email":   "test@example.com",
		"bio":     "Hello {{first_name}}",
		"company": "Testament Labs",
	})
	flags := c.SyntheticFlags(rec)
	assert.Contains(t, flags, "generic_name:name:test user")
	assert.Contains(t, flags, "placeholder:email:example.com")
	assert.Contains(t, flags, "placeholder:email:test@")
	assert.Contains(t, flags, "template_markup:bio")
	for _, f := range flags {
		assert.NotContains(t, f, ":company", "whole-word matching must not flag %q", f)
	}

	assert.Empty(t, c.SyntheticFlags(person(map[string]any{"name": "Priya Raman", "company": "Acme"})))
}

func TestCheck_SyntheticRecordFails(t *testing.T) {
	c := newChecker(DefaultOptions())
	rec := person(map[string]any{"name": "Test User", "website": "https://example.com"})

	v := c.Check(rec, evidence.Bundle{}, BatchSignal{})
	assert.Equal(t, model.StatusFail, v.Status)
	assert.Zero(t, v.Confidence)
	require.NotEmpty(t, v.Checks)
	assert.Equal(t, model.RejectSyntheticData, v.Checks[0].Category)
}

func TestCheck_NotRequestedSkipped(t *testing.T) {
	c := newChecker(DefaultOptions())
	rec := person(map[string]any{"name": "Priya Raman"})
	rec.SourceURL = "https://acme.com/team"

	v := c.Check(rec, evidence.Bundle{
		Page:    &evidence.PageEvidence{Status: evidence.StatusNotRequested},
		Profile: &evidence.ProfileEvidence{Status: evidence.StatusNotRequested},
	}, BatchSignal{})
	assert.Equal(t, model.StatusPass, v.Status)
	assert.Equal(t, 100, v.Confidence)
	assert.Len(t, v.Checks, 1)
}

func TestCheck_UnreachableIsUnverifiable(t *testing.T) {
	c := newChecker(DefaultOptions())
	rec := person(map[string]any{"name": "Priya Raman"})

	v := c.Check(rec, evidence.Bundle{
		Profile: &evidence.ProfileEvidence{Status: evidence.StatusUnreachable, Error: "timeout"},
	}, BatchSignal{})
	assert.Equal(t, model.StatusFail, v.Status)
	assert.Zero(t, v.Confidence)
	require.Len(t, v.Checks, 2)
	assert.Equal(t, model.RejectUnverifiable, v.Checks[1].Category)
	assert.Contains(t, v.Checks[1].Note, "timeout")
}

func TestCheck_RequireSourceVerification(t *testing.T) {
	opts := DefaultOptions()
	opts.RequireSourceVerification = true
	c := newChecker(opts)
	rec := person(map[string]any{"name": "Priya Raman"})
	rec.SourceURL = "https://acme.com/team"

	v := c.Check(rec, evidence.Bundle{}, BatchSignal{})
	assert.Equal(t, model.StatusFail, v.Status)
	assert.Equal(t, model.RejectUnverifiable, v.Checks[len(v.Checks)-1].Category)

	rec.SourceURL = ""
	v = c.Check(rec, evidence.Bundle{}, BatchSignal{})
	assert.Equal(t, model.StatusPass, v.Status)
}

func TestCheck_BatchFlagsAdvisory(t *testing.T) {
	c := newChecker(DefaultOptions())
	rec := person(map[string]any{"name": "Priya Raman"})
	v := c.Check(rec, evidence.Bundle{}, BatchSignal{Flags: []string{"batch_fully_complete"}})
	assert.Equal(t, model.StatusPass, v.Status)
	assert.Contains(t, v.Flags, "batch_fully_complete")
}

func TestVerifyPage_Thresholds(t *testing.T) {
	const page = "Priya Raman, VP Engineering at Acme Corp. Austin, TX. Call (512) 555-0142."
	tests := []struct {
		name   string
		fields map[string]any
		want   model.Status
		conf   int
	}{
		{
			name: "all found",
			fields: map[string]any{
				"name": "Priya Raman", "title": "VP Engineering", "company": "Acme Corp",
				"location": "Austin, TX", "phone": "+15125550142",
			},
			want: model.StatusPass, conf: 100,
		},
		{
			name: "four of five",
			fields: map[string]any{
				"name": "Priya Raman", "title": "VP Engineering", "company": "Acme Corp",
				"location": "Austin, TX", "email": "priya@acme.com",
			},
			want: model.StatusPass, conf: 80,
		},
		{
			name: "two of three",
			fields: map[string]any{
				"name": "Priya Raman", "title": "VP Engineering", "email": "priya@acme.com",
			},
			want: model.StatusUncertain, conf: 67,
		},
		{
			name: "one of three",
			fields: map[string]any{
				"name": "Priya Raman", "title": "Chief of Staff", "email": "priya@acme.com",
			},
			want: model.StatusFail, conf: 33,
		},
	}
	c := newChecker(DefaultOptions())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, mm := c.VerifyPage(person(tt.fields), page)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.conf, res.Confidence)
			if tt.want != model.StatusPass {
				assert.Equal(t, model.RejectSourceMismatch, res.Category)
			}
			for _, m := range mm {
				assert.Equal(t, model.SeverityMedium, m.Severity)
			}
		})
	}
}

func TestVerifyPage_SkipsEnrichedAndExcluded(t *testing.T) {
	c := newChecker(DefaultOptions())
	rec := person(map[string]any{
		"name":                "Priya Raman",
		"linkedin_url":        "https://linkedin.com/in/praman",
		"industry":            "Software",
		"domain":              "acme.com",
		model.FieldEnrichedBy: map[string]any{"industry": "clearbit"},
		model.FieldDerived:    []any{"domain"},
	})
	res, mm := c.VerifyPage(rec, "Priya Raman")
	assert.Equal(t, model.StatusPass, res.Status)
	assert.Empty(t, mm)

	res, _ = c.VerifyPage(person(map[string]any{"linkedin_url": "https://linkedin.com/in/x"}), "anything")
	assert.Equal(t, model.StatusUncertain, res.Status)
}

func TestVerifyPage_URLAndDate(t *testing.T) {
	c := newChecker(DefaultOptions())
	rec := person(map[string]any{
		"website":      "https://www.acme.com/",
		"founded_date": "2014-06-01T00:00:00Z",
	})
	res, _ := c.VerifyPage(rec, "Visit acme.com. Founded June 2014.")
	assert.Equal(t, model.StatusPass, res.Status)
}

func profileRecord() *model.Record {
	return person(map[string]any{
		"name":             "Priya Raman",
		"company":          "Acme, Inc.",
		"title":            "VP Engineering",
		"location":         "Austin, TX",
		"years_experience": 5,
	})
}

func matchingProfile() *evidence.ProfileEvidence {
	return &evidence.ProfileEvidence{
		Status:   evidence.StatusFetched,
		Name:     "Priya Raman",
		Company:  "ACME Incorporated",
		Title:    "VP of Engineering",
		Location: "United States",
		WorkHistory: []map[string]any{
			{"company": "Acme", "start_date": "2020-03", "end_date": "present"},
		},
	}
}

func TestVerifyProfile_SeverityMatrix(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *evidence.ProfileEvidence)
		want   model.Status
		conf   int
	}{
		{"match", func(*evidence.ProfileEvidence) {}, model.StatusPass, 100},
		{"location medium", func(p *evidence.ProfileEvidence) { p.Location = "London, UK" }, model.StatusPass, 90},
		{"one high", func(p *evidence.ProfileEvidence) { p.Company = "Globex" }, model.StatusUncertain, 75},
		{"two high", func(p *evidence.ProfileEvidence) {
			p.Company = "Globex"
			p.Title = "Account Executive"
		}, model.StatusFail, 50},
		{"name critical", func(p *evidence.ProfileEvidence) { p.Name = "Marcus Webb" }, model.StatusFail, 0},
		{"duration critical", func(p *evidence.ProfileEvidence) {
			p.WorkHistory = []map[string]any{{"start_date": "2023-01", "end_date": "2024-01"}}
		}, model.StatusFail, 0},
	}
	c := newChecker(DefaultOptions())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := matchingProfile()
			tt.mutate(p)
			res, _ := c.VerifyProfile(profileRecord(), p)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.conf, res.Confidence)
			if tt.want != model.StatusPass {
				assert.Equal(t, model.RejectProfileMismatch, res.Category)
			}
		})
	}
}

func TestVerifyCrossSource(t *testing.T) {
	c := newChecker(DefaultOptions())

	agree := &evidence.SourceEvidence{Status: evidence.StatusFetched, Values: map[string]map[string]any{
		"apollo":  {"company": "Acme Inc", "title": "VP Engineering", "phone": "(512) 555-0142", "city": "Austin"},
		"hunter":  {"company": "ACME INC", "title": "vp engineering", "phone": "+1 512 555 0142", "city": "Dallas"},
		"zoominf": {"company": " acme  inc "},
	}}
	res, mm, ok := c.VerifyCrossSource(agree)
	require.True(t, ok)
	assert.Equal(t, model.StatusPass, res.Status)
	assert.Equal(t, 75, res.Confidence)
	require.Len(t, mm, 1)
	assert.Equal(t, "city", mm[0].Field)
	assert.Equal(t, model.SeverityHigh, mm[0].Severity)

	single := &evidence.SourceEvidence{Status: evidence.StatusFetched, Values: map[string]map[string]any{
		"apollo": {"company": "Acme"},
		"hunter": {"company": "Globex"},
	}}
	res, _, ok = c.VerifyCrossSource(single)
	require.True(t, ok)
	assert.Equal(t, model.StatusFail, res.Status)
	assert.Equal(t, model.RejectCrossSource, res.Category)

	_, _, ok = c.VerifyCrossSource(&evidence.SourceEvidence{Values: map[string]map[string]any{"apollo": {"company": "Acme"}}})
	assert.False(t, ok)
	_, _, ok = c.VerifyCrossSource(&evidence.SourceEvidence{Values: map[string]map[string]any{
		"apollo": {"company": "Acme"},
		"hunter": {"title": "CTO"},
	}})
	assert.False(t, ok, "no shared fields")
}

func TestVerifyCrossSource_LegalSuffixesDisagree(t *testing.T) {
	c := newChecker(DefaultOptions())

	companyOnly := &evidence.SourceEvidence{Status: evidence.StatusFetched, Values: map[string]map[string]any{
		"apollo":  {"company": "Acme Inc"},
		"hunter":  {"company": "Acme Inc"},
		"zoominf": {"company": "Acme Corp"},
	}}
	res, mm, ok := c.VerifyCrossSource(companyOnly)
	require.True(t, ok)
	assert.Equal(t, model.StatusFail, res.Status)
	assert.Equal(t, model.RejectCrossSource, res.Category)
	require.Len(t, mm, 1)
	assert.Equal(t, "company", mm[0].Field)

	withAgreeingFields := &evidence.SourceEvidence{Status: evidence.StatusFetched, Values: map[string]map[string]any{
		"apollo":  {"company": "Acme Inc", "title": "CTO", "city": "Austin", "phone": "512-555-0142"},
		"hunter":  {"company": "Acme Inc", "title": "cto", "city": "Austin", "phone": "(512) 555 0142"},
		"zoominf": {"company": "Acme Corp", "title": "CTO", "city": "AUSTIN", "phone": "+1 512 555 0142"},
	}}
	res, mm, ok = c.VerifyCrossSource(withAgreeingFields)
	require.True(t, ok)
	assert.Equal(t, model.StatusPass, res.Status, "3 of 4 fields agree")
	assert.Equal(t, 75, res.Confidence)
	require.Len(t, mm, 1)
	assert.Equal(t, "company", mm[0].Field)
}

func TestCheck_CombinesWithMinConfidence(t *testing.T) {
	c := newChecker(DefaultOptions())
	rec := profileRecord()
	p := matchingProfile()
	p.Location = "Toronto, Canada"

	v := c.Check(rec, evidence.Bundle{
		Page:    &evidence.PageEvidence{Status: evidence.StatusFetched, Text: "Priya Raman VP Engineering Acme, Inc. Austin, TX 5"},
		Profile: p,
	}, BatchSignal{})
	assert.Equal(t, model.StatusPass, v.Status)
	assert.Equal(t, 90, v.Confidence)
	assert.Len(t, v.Checks, 3)
	assert.Len(t, v.Mismatches, 1)
}

func TestBatchUniformity(t *testing.T) {
	var recs []*model.Record
	for i := range 6 {
		recs = append(recs, model.NewRecord(fmt.Sprint(i), map[string]any{
			"name":  fmt.Sprintf("User%d Person", i),
			"email": fmt.Sprintf("user%d@corp%d.io", i, i),
		}))
	}
	sig := BatchUniformity(recs)
	assert.True(t, sig.FullyComplete)
	assert.Contains(t, sig.Flags, "batch_fully_complete")
	assert.Contains(t, sig.UniformFormats, "email")

	assert.Empty(t, BatchUniformity(recs[:4]).Flags, "small batches are not judged")

	recs[0].Set("email", nil)
	sig = BatchUniformity(recs)
	assert.False(t, sig.FullyComplete)
}

func TestShape(t *testing.T) {
	assert.Equal(t, "a a", shape("Jane Smith"))
	assert.Equal(t, "a9@a9.a", shape("user1@corp1.io"))
	assert.Equal(t, "(9) 9-9", shape("(512) 555-0142"))
}
