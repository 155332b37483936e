// Package gate makes the admission decision. A candidate is admitted only
// when its constraint aggregate, its authenticity verdict and its schema
// check all pass; otherwise it carries one reason per failing check.
package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/record-gate/internal/authenticity"
	"github.com/sells-group/record-gate/internal/constraint"
	"github.com/sells-group/record-gate/internal/evidence"
	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/schema"
)

// Gate re-runs the three admission checks for each candidate.
type Gate struct {
	engine    *constraint.Engine
	checker   *authenticity.Checker
	validator *schema.Validator
	specs     []model.ConstraintSpec
	now       func() time.Time
}

// New creates a Gate for one run's constraints.
func New(engine *constraint.Engine, checker *authenticity.Checker, validator *schema.Validator, specs []model.ConstraintSpec) *Gate {
	return &Gate{engine: engine, checker: checker, validator: validator, specs: specs, now: time.Now}
}

// WithClock fixes the time stamped on decisions.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Decision is the outcome for one candidate.
type Decision struct {
	Record   *model.Record
	Admitted bool
	Reasons  []model.RejectionReason
}

// Validation returns the block written onto the record.
func (d Decision) Validation() *model.Validation { return d.Record.Validation }

// Decide evaluates rec and writes its validation block. Anomaly flags and
// merge provenance already on the block are kept. The record must not be
// modified after this call.
func (g *Gate) Decide(rec *model.Record, b evidence.Bundle, batch authenticity.BatchSignal) Decision {
	verdicts := g.engine.EvaluateAll(rec, g.specs)
	constraintStatus := constraint.Aggregate(verdicts)
	auth := g.checker.Check(rec, b, batch)
	sch := g.validator.Validate(rec)

	var reasons []model.RejectionReason
	if !constraintStatus.Admits() {
		reasons = append(reasons, constraintReason(verdicts))
	}
	if !auth.Status.Admits() {
		reasons = append(reasons, authenticityReasons(auth)...)
	}
	if !sch.Passed() {
		reasons = append(reasons, schemaReason(sch))
	}

	v := rec.Annotate()
	v.Constraints = verdicts
	v.Authenticity = &auth
	v.Schema = &sch
	v.Completeness = g.validator.Completeness(rec)
	v.Confidence = confidence(verdicts, auth)
	v.Reasons = reasons
	v.Status = model.Worst(model.Worst(constraintStatus, auth.Status), schemaStatus(sch))
	decided := g.now().UTC()
	v.DecidedAt = &decided

	return Decision{Record: rec, Admitted: len(reasons) == 0, Reasons: reasons}
}

// confidence is the lowest confidence among the verdicts that were produced.
func confidence(verdicts []model.ConstraintVerdict, auth model.AuthenticityVerdict) int {
	c := auth.Confidence
	for _, v := range verdicts {
		c = min(c, v.Confidence)
	}
	return c
}

func schemaStatus(s model.SchemaResult) model.Status {
	if s.Passed() {
		return model.StatusPass
	}
	return model.StatusFail
}

func constraintReason(verdicts []model.ConstraintVerdict) model.RejectionReason {
	var names, details []string
	for _, v := range verdicts {
		if v.Status.Admits() {
			continue
		}
		names = append(names, v.Name)
		d := fmt.Sprintf("%s [%s]: expected %s, got %s", v.Name, v.Status, v.Expected, v.Actual)
		if v.Note != "" {
			d += " (" + v.Note + ")"
		}
		details = append(details, d)
	}
	return model.RejectionReason{
		Check:    model.GateConstraints,
		Category: model.RejectConstraintFailed,
		Message:  "constraints not met: " + strings.Join(names, ", "),
		Details:  details,
	}
}

// authenticityReasons yields one reason per failing sub-check.
func authenticityReasons(auth model.AuthenticityVerdict) []model.RejectionReason {
	var out []model.RejectionReason
	for _, ch := range auth.Checks {
		if ch.Status.Admits() {
			continue
		}
		r := model.RejectionReason{
			Check:    model.GateAuthenticity,
			Category: ch.Category,
			Message:  fmt.Sprintf("%s check %s", ch.Kind, strings.ToLower(string(ch.Status))),
		}
		if ch.Note != "" {
			r.Message += ": " + ch.Note
		}
		for _, m := range auth.Mismatches {
			if m.Check == ch.Kind {
				r.Details = append(r.Details, fmt.Sprintf("%s [%s]: expected %q, got %q", m.Field, m.Severity, m.Expected, m.Actual))
			}
		}
		if ch.Kind == model.CheckSynthetic {
			for _, f := range auth.Flags {
				if !strings.HasPrefix(f, "batch_") {
					r.Details = append(r.Details, f)
				}
			}
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		out = append(out, model.RejectionReason{
			Check:    model.GateAuthenticity,
			Category: model.RejectUnverifiable,
			Message:  "authenticity not established",
		})
	}
	return out
}

func schemaReason(s model.SchemaResult) model.RejectionReason {
	r := model.RejectionReason{Check: model.GateRequired}
	var parts []string
	if len(s.MissingFields) > 0 {
		parts = append(parts, "missing: "+strings.Join(s.MissingFields, ", "))
	}
	if len(s.EmptyFields) > 0 {
		parts = append(parts, "empty: "+strings.Join(s.EmptyFields, ", "))
	}
	for _, te := range s.TypeErrors {
		r.Details = append(r.Details, fmt.Sprintf("%s: expected %s, got %s", te.Field, te.Expected, te.Actual))
	}
	if s.RequiredOK() {
		r.Category = model.RejectInvalidTypes
		r.Message = fmt.Sprintf("%d field(s) have the wrong type", len(s.TypeErrors))
		return r
	}
	r.Category = model.RejectMissingRequired
	r.Message = "required fields " + strings.Join(parts, "; ")
	return r
}
