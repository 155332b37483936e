package authenticity

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agext/levenshtein"

	"github.com/sells-group/record-gate/internal/evidence"
	"github.com/sells-group/record-gate/internal/history"
	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/normalize"
	"github.com/sells-group/record-gate/internal/rules"
)

var phoneRunRe = regexp.MustCompile(`[+(]?\d[\d\s().\-]{5,}\d`)

// VerifyPage checks that the record's scalar fields appear in the source
// page text. The match ratio is graded against PagePass/PageUncertain.
func (c *Checker) VerifyPage(rec *model.Record, text string) (model.CheckResult, []model.Mismatch) {
	res := model.CheckResult{Kind: model.CheckSourcePage}
	page := normalize.Fold(text)
	var phones []string
	for _, run := range phoneRunRe.FindAllString(text, -1) {
		phones = append(phones, digits(run))
	}

	skip := provenance(rec)
	var (
		compared int
		matched  int
		mm       []model.Mismatch
	)
	for _, field := range rec.PopulatedFields() {
		if c.exclude[field] || skip[field] {
			continue
		}
		raw, ok := rec.String(field)
		if !ok || raw == "" {
			continue
		}
		compared++
		if foundOnPage(field, raw, page, phones) {
			matched++
			continue
		}
		mm = append(mm, model.Mismatch{
			Check:    model.CheckSourcePage,
			Field:    field,
			Expected: raw,
			Actual:   "not found on page",
			Severity: model.SeverityMedium,
		})
	}

	if compared == 0 {
		res.Status = model.StatusUncertain
		res.Category = model.RejectSourceMismatch
		res.Note = "no comparable fields"
		return res, nil
	}

	pct := float64(matched) / float64(compared) * 100
	res.Score = math.Round(pct*10) / 10
	res.Confidence = int(math.Round(pct))
	res.Status = statusFor(pct, c.opts.PagePass, c.opts.PageUncertain)
	res.Note = fmt.Sprintf("%d/%d fields found on page", matched, compared)
	if res.Status != model.StatusPass {
		res.Category = model.RejectSourceMismatch
	}
	return res, mm
}

func foundOnPage(field, raw, page string, phones []string) bool {
	folded := normalize.Fold(raw)
	if strings.Contains(page, folded) {
		return true
	}

	if kind, ok := normalize.InferKind(field); ok {
		switch kind {
		case rules.KindPhone:
			d := digits(raw)
			if len(d) < 7 {
				return false
			}
			tail := d[max(0, len(d)-10):]
			for _, p := range phones {
				if strings.HasSuffix(p, tail) || (len(p) >= 7 && strings.HasSuffix(d, p)) {
					return true
				}
			}
			return false
		case rules.KindURL:
			return strings.Contains(page, bareURL(folded))
		}
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		for _, layout := range []string{"2006-01-02", "January 2006", "Jan 2006", "01/2006", "1/2/2006", "01/02/2006"} {
			if strings.Contains(page, normalize.Fold(t.Format(layout))) {
				return true
			}
		}
	}
	return false
}

func bareURL(s string) string {
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimRight(s, "/")
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// provenance returns fields that enrichment or derivation added to rec. They
// were not scraped from the source page, so they are not expected on it.
func provenance(rec *model.Record) map[string]bool {
	out := make(map[string]bool)
	for _, key := range []string{model.FieldEnrichedBy, model.FieldDerived} {
		v, _ := rec.Get(key)
		switch t := v.(type) {
		case []string:
			for _, f := range t {
				out[f] = true
			}
		case []any:
			for _, f := range t {
				if s, ok := f.(string); ok {
					out[s] = true
				}
			}
		case map[string]string:
			for f := range t {
				out[f] = true
			}
		case map[string]any:
			for f := range t {
				out[f] = true
			}
		}
	}
	return out
}

// VerifyProfile compares the record against a fetched social profile.
// Severity: a name mismatch or an experience claim off by more than
// DurationTolerance years is CRITICAL; company and title mismatches are HIGH;
// location is MEDIUM. Any CRITICAL or two HIGH fail the check, one HIGH
// makes it uncertain.
func (c *Checker) VerifyProfile(rec *model.Record, p *evidence.ProfileEvidence) (model.CheckResult, []model.Mismatch) {
	var mm []model.Mismatch
	add := func(field, expected, actual string, sev model.Severity) {
		mm = append(mm, model.Mismatch{
			Check:    model.CheckProfile,
			Field:    field,
			Expected: expected,
			Actual:   actual,
			Severity: sev,
		})
	}

	attrs := map[string]string{
		"name":     p.Name,
		"company":  p.Company,
		"title":    p.Title,
		"location": p.Location,
	}
	compared := 0
	for _, attr := range []string{"name", "company", "title", "location"} {
		field, ok := c.opts.ProfileFields[attr]
		if !ok {
			continue
		}
		have, ok := rec.String(field)
		want := strings.TrimSpace(attrs[attr])
		if !ok || have == "" || want == "" {
			continue
		}
		compared++
		switch attr {
		case "name":
			if levenshtein.Similarity(normalize.Fold(have), normalize.Fold(want), nil) < c.opts.NameSimilarity {
				add(field, want, have, model.SeverityCritical)
			}
		case "company":
			if !sameCompany(have, want) {
				add(field, want, have, model.SeverityHigh)
			}
		case "title":
			if !sameTitle(have, want) {
				add(field, want, have, model.SeverityHigh)
			}
		case "location":
			if !c.sameLocation(have, want) {
				add(field, want, have, model.SeverityMedium)
			}
		}
	}

	if claimed, ok := number(rec.Fields[c.opts.ExperienceField]); ok && len(p.WorkHistory) > 0 {
		positions := history.Parse(p.WorkHistory, c.norm)
		sum := history.Sum(positions, nil)
		if sum.Counted > 0 {
			compared++
			if math.Abs(claimed-sum.Years) > c.opts.DurationTolerance {
				add(c.opts.ExperienceField,
					strconv.FormatFloat(math.Round(sum.Years*100)/100, 'f', -1, 64),
					strconv.FormatFloat(claimed, 'f', -1, 64),
					model.SeverityCritical)
			}
		}
	}

	res := model.CheckResult{Kind: model.CheckProfile}
	if compared == 0 {
		res.Status = model.StatusUncertain
		res.Category = model.RejectProfileMismatch
		res.Note = "no comparable profile fields"
		return res, nil
	}

	var critical, high, medium int
	for _, m := range mm {
		switch m.Severity {
		case model.SeverityCritical:
			critical++
		case model.SeverityHigh:
			high++
		case model.SeverityMedium:
			medium++
		}
	}
	switch {
	case critical > 0 || high >= 2:
		res.Status = model.StatusFail
	case high == 1:
		res.Status = model.StatusUncertain
	default:
		res.Status = model.StatusPass
	}
	if critical == 0 {
		res.Confidence = max(0, 100-25*high-10*medium)
	}
	res.Score = float64(res.Confidence)
	res.Note = fmt.Sprintf("%d critical, %d high, %d medium", critical, high, medium)
	if res.Status != model.StatusPass {
		res.Category = model.RejectProfileMismatch
	}
	return res, mm
}

func sameCompany(a, b string) bool {
	ka, kb := normalize.CompanyName(a), normalize.CompanyName(b)
	if ka == "" || kb == "" {
		return false
	}
	if ka == kb || strings.Contains(ka, kb) || strings.Contains(kb, ka) {
		return true
	}
	return levenshtein.Similarity(ka, kb, nil) >= 0.85
}

func sameTitle(a, b string) bool {
	fa, fb := normalize.Fold(a), normalize.Fold(b)
	if fa == fb || strings.Contains(fa, fb) || strings.Contains(fb, fa) {
		return true
	}
	return levenshtein.Similarity(fa, fb, nil) >= 0.8
}

func (c *Checker) sameLocation(a, b string) bool {
	ca, okA := c.norm.Country(a)
	cb, okB := c.norm.Country(b)
	if okA && okB {
		return ca == cb
	}
	fa, fb := normalize.Fold(a), normalize.Fold(b)
	return strings.Contains(fa, fb) || strings.Contains(fb, fa)
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// VerifyCrossSource checks that independent sources agree on the fields
// they share. It reports false when fewer than two sources are present or
// no field is reported by more than one source.
func (c *Checker) VerifyCrossSource(src *evidence.SourceEvidence) (model.CheckResult, []model.Mismatch, bool) {
	if src == nil || len(src.Values) < 2 {
		return model.CheckResult{}, nil, false
	}

	names := make([]string, 0, len(src.Values))
	for n := range src.Values {
		names = append(names, n)
	}
	sort.Strings(names)

	byField := make(map[string][]string)
	for _, n := range names {
		for field, v := range src.Values[n] {
			if s, ok := model.ScalarString(v); ok && s != "" {
				byField[field] = append(byField[field], s)
			}
		}
	}
	fields := make([]string, 0, len(byField))
	for f, vals := range byField {
		if len(vals) >= 2 {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return model.CheckResult{}, nil, false
	}
	sort.Strings(fields)

	var (
		agreed int
		mm     []model.Mismatch
	)
	for _, f := range fields {
		vals := byField[f]
		key := crossKey(f, vals[0])
		same := true
		for _, v := range vals[1:] {
			if crossKey(f, v) != key {
				same = false
				break
			}
		}
		if same {
			agreed++
			continue
		}
		mm = append(mm, model.Mismatch{
			Check:    model.CheckCrossSource,
			Field:    f,
			Expected: vals[0],
			Actual:   strings.Join(vals[1:], " | "),
			Severity: model.SeverityHigh,
		})
	}

	pct := float64(agreed) / float64(len(fields)) * 100
	res := model.CheckResult{
		Kind:       model.CheckCrossSource,
		Status:     statusFor(pct, c.opts.CrossPass, c.opts.CrossUncertain),
		Confidence: int(math.Round(pct)),
		Score:      math.Round(pct*10) / 10,
		Note:       fmt.Sprintf("%d/%d shared fields agree across %d sources", agreed, len(fields), len(names)),
	}
	if res.Status != model.StatusPass {
		res.Category = model.RejectCrossSource
	}
	return res, mm, true
}

func crossKey(field, v string) string {
	if kind, ok := normalize.InferKind(field); ok {
		switch kind {
		case rules.KindPhone:
			d := digits(v)
			return d[max(0, len(d)-10):]
		case rules.KindURL:
			return bareURL(normalize.Fold(v))
		}
	}
	return normalize.Fold(v)
}
