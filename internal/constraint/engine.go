// Package constraint evaluates user-defined hard constraints against records.
// Evaluation is stateless per (record, constraint) pair; a record's aggregate
// passes only when every constraint passes.
package constraint

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sells-group/record-gate/internal/history"
	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/normalize"
	"github.com/sells-group/record-gate/internal/rules"
)

// CustomCheck evaluates a custom constraint. It must be safe for concurrent use.
type CustomCheck func(rec *model.Record, spec model.ConstraintSpec) model.ConstraintVerdict

// Options configures the engine's field defaults.
type Options struct {
	ExperienceField  string
	WorkHistoryField string
}

// Engine evaluates constraints. It holds no per-record state.
type Engine struct {
	rules  *rules.Rules
	norm   *normalize.Normalizer
	opts   Options
	custom map[string]CustomCheck

	mu      sync.Mutex
	regexes map[string]*regexp.Regexp
}

// New creates an Engine with the built-in custom checks registered.
func New(r *rules.Rules, n *normalize.Normalizer, opts Options) *Engine {
	if opts.ExperienceField == "" {
		opts.ExperienceField = "years_experience"
	}
	if opts.WorkHistoryField == "" {
		opts.WorkHistoryField = "work_history"
	}
	e := &Engine{
		rules:   r,
		norm:    n,
		opts:    opts,
		custom:  make(map[string]CustomCheck),
		regexes: make(map[string]*regexp.Regexp),
	}
	e.Register("no_outliers", noOutliers)
	e.Register("no_content_issues", noContentIssues)
	return e
}

// Register adds a named custom check. Registering an existing name replaces it.
// Call before the engine is shared between goroutines.
func (e *Engine) Register(name string, check CustomCheck) {
	e.custom[name] = check
}

// CustomChecks returns the registered custom check names, sorted.
func (e *Engine) CustomChecks() []string {
	names := make([]string, 0, len(e.custom))
	for n := range e.custom {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EvaluateAll evaluates every spec in order.
func (e *Engine) EvaluateAll(rec *model.Record, specs []model.ConstraintSpec) []model.ConstraintVerdict {
	out := make([]model.ConstraintVerdict, 0, len(specs))
	for _, s := range specs {
		out = append(out, e.Evaluate(rec, s))
	}
	return out
}

// Aggregate is conjunctive: PASS only if every verdict is PASS.
func Aggregate(verdicts []model.ConstraintVerdict) model.Status {
	for _, v := range verdicts {
		if !v.Status.Admits() {
			return model.StatusFail
		}
	}
	return model.StatusPass
}

// Evaluate dispatches on the constraint type.
func (e *Engine) Evaluate(rec *model.Record, spec model.ConstraintSpec) model.ConstraintVerdict {
	v := model.ConstraintVerdict{Name: spec.Name, Type: spec.Type, Field: spec.Field}
	switch spec.Type {
	case model.ConstraintRequiredFields:
		e.requiredFields(rec, spec, &v)
	case model.ConstraintFormat:
		e.format(rec, spec, &v)
	case model.ConstraintLocation:
		e.location(rec, spec, &v)
	case model.ConstraintNumeric:
		e.numeric(rec, spec, &v)
	case model.ConstraintExperience:
		e.experience(rec, spec, &v)
	case model.ConstraintSeniority:
		e.seniority(rec, spec, &v)
	case model.ConstraintCustom:
		check, ok := e.custom[spec.Check]
		if !ok {
			fail(&v, 100, "unknown custom check %q", spec.Check)
			break
		}
		cv := check(rec, spec)
		cv.Name, cv.Type = spec.Name, spec.Type
		if cv.Field == "" {
			cv.Field = spec.Field
		}
		return cv
	default:
		fail(&v, 100, "unknown constraint type %q", spec.Type)
	}
	return v
}

func pass(v *model.ConstraintVerdict, confidence int) {
	v.Status = model.StatusPass
	v.Confidence = confidence
}

func fail(v *model.ConstraintVerdict, confidence int, format string, args ...any) {
	v.Status = model.StatusFail
	v.Confidence = confidence
	v.Note = fmt.Sprintf(format, args...)
}

func (e *Engine) requiredFields(rec *model.Record, spec model.ConstraintSpec, v *model.ConstraintVerdict) {
	fields := spec.Fields
	if len(fields) == 0 {
		fields = []string{spec.Field}
	}
	v.Expected = "present: " + strings.Join(fields, ", ")
	var missing []string
	for _, f := range fields {
		if !rec.Has(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		v.Actual = "missing: " + strings.Join(missing, ", ")
		fail(v, 100, "%d of %d required fields missing", len(missing), len(fields))
		return
	}
	v.Actual = "all present"
	pass(v, 100)
}

func (e *Engine) format(rec *model.Record, spec model.ConstraintSpec, v *model.ConstraintVerdict) {
	var re *regexp.Regexp
	if spec.Regex != "" {
		v.Expected = "matches " + spec.Regex
		var err error
		if re, err = e.compile(spec.Regex); err != nil {
			fail(v, 100, "invalid regex: %v", err)
			return
		}
	} else {
		v.Expected = "matches " + spec.Pattern
		re = e.rules.FormatPatterns[spec.Pattern]
		if re == nil {
			fail(v, 100, "unknown format pattern %q", spec.Pattern)
			return
		}
	}

	val, ok := rec.String(spec.Field)
	if !ok || val == "" {
		v.Actual = "missing"
		fail(v, 100, "field %s is missing", spec.Field)
		return
	}
	v.Actual = val
	if !re.MatchString(val) {
		fail(v, 100, "value does not match")
		return
	}
	pass(v, 100)
}

func (e *Engine) compile(expr string) (*regexp.Regexp, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if re, ok := e.regexes[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	e.regexes[expr] = re
	return re, nil
}

func (e *Engine) location(rec *model.Record, spec model.ConstraintSpec, v *model.ConstraintVerdict) {
	allowed := make(map[string]bool, len(spec.AllowedValues))
	for _, a := range spec.AllowedValues {
		c, _ := e.norm.Country(a)
		allowed[normalize.Fold(c)] = true
	}
	v.Expected = "one of: " + strings.Join(spec.AllowedValues, ", ")

	raw, ok := rec.String(spec.Field)
	if !ok || raw == "" {
		v.Actual = "missing"
		fail(v, 100, "field %s is missing", spec.Field)
		return
	}
	country, resolved := e.norm.Country(raw)
	v.Actual = country
	if allowed[normalize.Fold(country)] {
		pass(v, 95)
		return
	}
	if !resolved {
		fail(v, 70, "location %q could not be resolved to a country", raw)
		return
	}
	fail(v, 95, "normalized location %q not allowed", country)
}

func (e *Engine) numeric(rec *model.Record, spec model.ConstraintSpec, v *model.ConstraintVerdict) {
	v.Expected = rangeText(spec.Minimum, spec.Maximum)

	raw, present := rec.Get(spec.Field)
	if !present || model.IsBlank(raw) {
		v.Actual = "missing"
		fail(v, 100, "field %s is missing", spec.Field)
		return
	}

	var (
		n  float64
		ok bool
	)
	if kind, inferred := normalize.InferKind(spec.Field); inferred && kind == rules.KindCompanySize {
		var size int
		size, ok = e.norm.CompanySize(raw)
		n = float64(size)
	} else {
		n, ok = toNumber(raw)
	}
	if !ok {
		v.Actual = fmt.Sprint(raw)
		fail(v, 90, "value is not numeric")
		return
	}
	v.Actual = formatNumber(n)

	if spec.Minimum != nil && n < *spec.Minimum {
		fail(v, 95, "below minimum %s", formatNumber(*spec.Minimum))
		return
	}
	if spec.Maximum != nil && n > *spec.Maximum {
		fail(v, 95, "above maximum %s", formatNumber(*spec.Maximum))
		return
	}
	if spec.PreferredMinimum != nil && n < *spec.PreferredMinimum {
		pass(v, 90)
		v.Note = "meets minimum but not preferred minimum " + formatNumber(*spec.PreferredMinimum)
		return
	}
	pass(v, 95)
}

// HomeRegionYears sums the home-region time in a raw work-history value.
func (e *Engine) HomeRegionYears(raw any) history.Summary {
	positions := history.Parse(raw, e.norm)
	return history.Sum(positions, history.InRegion(e.norm, e.rules.HomeRegion.Country))
}

// experience methods: "" or "auto" prefers the claimed field and falls back
// to the work history; "field" and "history" force one source.
func (e *Engine) experience(rec *model.Record, spec model.ConstraintSpec, v *model.ConstraintVerdict) {
	field := spec.Field
	if field == "" {
		field = e.opts.ExperienceField
	}
	histField := spec.HistoryField
	if histField == "" {
		histField = e.opts.WorkHistoryField
	}
	v.Field = field
	v.Expected = rangeText(spec.Minimum, spec.Maximum) + " years"

	var (
		years       float64
		haveYears   bool
		unparseable int
		source      string
	)
	if spec.Method != "history" {
		if raw, ok := rec.Get(field); ok && !model.IsBlank(raw) {
			years, haveYears = toNumber(raw)
			source = field
		}
	}
	if !haveYears && spec.Method != "field" {
		if raw, ok := rec.Get(histField); ok && !model.IsBlank(raw) {
			sum := e.HomeRegionYears(raw)
			if sum.Counted > 0 || sum.Unparseable > 0 {
				years, haveYears = sum.Years, true
				unparseable = sum.Unparseable
				source = fmt.Sprintf("%s (%d positions in %s)", histField, sum.Counted, e.rules.HomeRegion.Country)
			}
		}
	}
	if !haveYears {
		v.Actual = "unknown"
		fail(v, 100, "no experience data in %s or %s", field, histField)
		return
	}

	v.Actual = fmt.Sprintf("%.2f years", years)
	v.Note = "from " + source
	if spec.Maximum != nil && years > *spec.Maximum {
		fail(v, 90, "above maximum; from %s", source)
		return
	}
	if spec.Minimum != nil && years < *spec.Minimum {
		if unparseable > 0 {
			v.Status = model.StatusUncertain
			v.Confidence = 50
			v.Note = fmt.Sprintf("below minimum with %d unparseable positions; from %s", unparseable, source)
			return
		}
		fail(v, 90, "below minimum; from %s", source)
		return
	}
	conf := 90
	if unparseable > 0 {
		conf = 80
	}
	pass(v, conf)
}

func (e *Engine) seniority(rec *model.Record, spec model.ConstraintSpec, v *model.ConstraintVerdict) {
	v.Expected = "level in: " + strings.Join(spec.Levels, ", ")
	title, ok := rec.String(spec.Field)
	if !ok || title == "" {
		v.Actual = "missing"
		fail(v, 100, "field %s is missing", spec.Field)
		return
	}
	v.Actual = title
	level, junior := e.Classify(title, spec.Levels)
	switch {
	case junior:
		fail(v, 95, "junior indicator in title")
	case level == "":
		fail(v, 85, "title matches no requested level")
	default:
		pass(v, 90)
		v.Note = "classified as " + level
	}
}

// Classify returns the first requested seniority family matching title, in
// rule order. Junior markers win over everything: junior is true and level
// empty. With no levels requested every family is considered.
func (e *Engine) Classify(title string, levels []string) (level string, junior bool) {
	s := e.rules.Seniority
	if s.Junior != nil && s.Junior.MatchString(title) {
		return "", true
	}
	want := make(map[string]bool, len(levels))
	for _, l := range levels {
		want[l] = true
	}
	for _, l := range s.Levels {
		if len(want) > 0 && !want[l.Name] {
			continue
		}
		if l.Include.MatchString(title) && (l.Exclude == nil || !l.Exclude.MatchString(title)) {
			return l.Name, false
		}
	}
	return "", false
}

func rangeText(lo, hi *float64) string {
	switch {
	case lo != nil && hi != nil:
		return fmt.Sprintf("between %s and %s", formatNumber(*lo), formatNumber(*hi))
	case lo != nil:
		return ">= " + formatNumber(*lo)
	case hi != nil:
		return "<= " + formatNumber(*hi)
	}
	return "any"
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', -1, 64)
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case bool:
		return 0, false
	}
	s, ok := model.ScalarString(v)
	if !ok {
		return 0, false
	}
	s = strings.NewReplacer(",", "", "$", "", "_", "").Replace(s)
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
