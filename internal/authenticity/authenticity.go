// Package authenticity decides whether a record looks real. It combines
// synthetic-pattern detection with verification against pre-fetched evidence
// (source page, social profile, independent sources). All checks that run
// must pass; unreachable evidence fails rather than being skipped.
package authenticity

import (
	"github.com/sells-group/record-gate/internal/evidence"
	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/normalize"
	"github.com/sells-group/record-gate/internal/rules"
)

// Options tunes verification thresholds. Percentages are 0-100.
type Options struct {
	PagePass                  float64
	PageUncertain             float64
	CrossPass                 float64
	CrossUncertain            float64
	NameSimilarity            float64
	DurationTolerance         float64 // years
	RequireSourceVerification bool
	VerifyExclude             []string
	ProfileFields             map[string]string // profile attribute -> record field
	ExperienceField           string
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		PagePass:          80,
		PageUncertain:     60,
		CrossPass:         70,
		CrossUncertain:    50,
		NameSimilarity:    0.85,
		DurationTolerance: 1.0,
		VerifyExclude: []string{
			"canonical_url", "linkedin_url", "twitter_url", "x_url", "github_url",
			"source", "work_history",
		},
		ProfileFields: map[string]string{
			"name":     "name",
			"company":  "company",
			"title":    "title",
			"location": "location",
		},
		ExperienceField: "years_experience",
	}
}

// Checker runs the authenticity checks. It is safe for concurrent use.
type Checker struct {
	rules   *rules.Rules
	norm    *normalize.Normalizer
	opts    Options
	exclude map[string]bool
}

// New creates a Checker. Zero thresholds in opts fall back to the defaults.
func New(r *rules.Rules, n *normalize.Normalizer, opts Options) *Checker {
	def := DefaultOptions()
	if opts.PagePass == 0 {
		opts.PagePass = def.PagePass
	}
	if opts.PageUncertain == 0 {
		opts.PageUncertain = def.PageUncertain
	}
	if opts.CrossPass == 0 {
		opts.CrossPass = def.CrossPass
	}
	if opts.CrossUncertain == 0 {
		opts.CrossUncertain = def.CrossUncertain
	}
	if opts.NameSimilarity == 0 {
		opts.NameSimilarity = def.NameSimilarity
	}
	if opts.DurationTolerance == 0 {
		opts.DurationTolerance = def.DurationTolerance
	}
	if opts.VerifyExclude == nil {
		opts.VerifyExclude = def.VerifyExclude
	}
	if len(opts.ProfileFields) == 0 {
		opts.ProfileFields = def.ProfileFields
	}
	if opts.ExperienceField == "" {
		opts.ExperienceField = def.ExperienceField
	}

	c := &Checker{rules: r, norm: n, opts: opts, exclude: make(map[string]bool)}
	for _, f := range opts.VerifyExclude {
		c.exclude[f] = true
	}
	return c
}

// Check runs every applicable sub-check and combines them with AND
// semantics. Evidence marked not_requested (or absent) is skipped, except
// that RequireSourceVerification demands page evidence for records with a
// source URL. Batch flags are attached as advisory flags only.
func (c *Checker) Check(rec *model.Record, b evidence.Bundle, batch BatchSignal) model.AuthenticityVerdict {
	var v model.AuthenticityVerdict

	flags := c.SyntheticFlags(rec)
	v.Checks = append(v.Checks, syntheticResult(flags))
	v.Flags = append(v.Flags, flags...)

	switch {
	case b.Page != nil:
		switch b.Page.Status {
		case evidence.StatusFetched:
			res, mm := c.VerifyPage(rec, b.Page.Content())
			v.Checks = append(v.Checks, res)
			v.Mismatches = append(v.Mismatches, mm...)
		case evidence.StatusUnreachable:
			v.Checks = append(v.Checks, unverifiable(model.CheckSourcePage, "source page unreachable", b.Page.Error))
		}
	case c.opts.RequireSourceVerification && rec.SourceURL != "":
		v.Checks = append(v.Checks, unverifiable(model.CheckSourcePage, "no source page evidence", ""))
	}

	if b.Profile != nil {
		switch b.Profile.Status {
		case evidence.StatusFetched:
			res, mm := c.VerifyProfile(rec, b.Profile)
			v.Checks = append(v.Checks, res)
			v.Mismatches = append(v.Mismatches, mm...)
		case evidence.StatusUnreachable:
			v.Checks = append(v.Checks, unverifiable(model.CheckProfile, "profile unreachable", b.Profile.Error))
		}
	}

	if b.Sources != nil {
		switch b.Sources.Status {
		case evidence.StatusFetched:
			if res, mm, ok := c.VerifyCrossSource(b.Sources); ok {
				v.Checks = append(v.Checks, res)
				v.Mismatches = append(v.Mismatches, mm...)
			}
		case evidence.StatusUnreachable:
			v.Checks = append(v.Checks, unverifiable(model.CheckCrossSource, "sources unreachable", ""))
		}
	}

	v.Flags = append(v.Flags, batch.Flags...)

	v.Status = model.StatusPass
	v.Confidence = 100
	for _, ch := range v.Checks {
		v.Status = model.Worst(v.Status, ch.Status)
		v.Confidence = min(v.Confidence, ch.Confidence)
	}
	return v
}

func unverifiable(kind model.CheckKind, note, detail string) model.CheckResult {
	if detail != "" {
		note += ": " + detail
	}
	return model.CheckResult{
		Kind:       kind,
		Status:     model.StatusFail,
		Confidence: 0,
		Category:   model.RejectUnverifiable,
		Note:       note,
	}
}

// statusFor grades a percentage against pass/uncertain thresholds.
func statusFor(pct, pass, uncertain float64) model.Status {
	switch {
	case pct >= pass:
		return model.StatusPass
	case pct >= uncertain:
		return model.StatusUncertain
	default:
		return model.StatusFail
	}
}
