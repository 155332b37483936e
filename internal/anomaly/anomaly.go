// Package anomaly flags data-quality issues: batch-level numeric outliers and
// per-record content problems. Flags are advisory; they never reject a record
// unless a constraint reads them.
package anomaly

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/rules"
)

// minOutlierSample is the fewest values a field needs before quartiles mean
// anything.
const minOutlierSample = 4

// Detector scans records for anomalies.
type Detector struct {
	rules  *rules.Rules
	fields []string
}

// New creates a Detector.
func New(r *rules.Rules) *Detector {
	return &Detector{rules: r}
}

// WithFields returns a copy of d whose Scan also checks the given fields for
// outliers, parsing numeric strings (CSV and XLSX cells) in them.
func (d *Detector) WithFields(fields []string) *Detector {
	c := *d
	c.fields = fields
	return &c
}

// Scan runs outlier detection over the batch and content checks over every
// record. The result is keyed by record ID; records without flags are absent.
func (d *Detector) Scan(records []*model.Record) map[string][]model.AnomalyFlag {
	out := d.Outliers(records, d.scanFields(records))
	for _, r := range records {
		if flags := d.ContentIssues(r); len(flags) > 0 {
			out[r.ID] = append(out[r.ID], flags...)
		}
	}
	return out
}

// Fences are the Tukey fences for one numeric field.
type Fences struct {
	Q1, Q3, IQR, Low, High float64
}

// Outliers flags values outside [Q1 - 1.5 IQR, Q3 + 1.5 IQR]. When fields is
// empty, fields holding only native numbers are detected automatically;
// listed fields also accept numeric strings.
func (d *Detector) Outliers(records []*model.Record, fields []string) map[string][]model.AnomalyFlag {
	out := make(map[string][]model.AnomalyFlag)
	explicit := len(fields) > 0
	if !explicit {
		fields = numericFields(records)
	}

	for _, field := range fields {
		type point struct {
			id string
			v  float64
		}
		var pts []point
		for _, r := range records {
			raw, ok := r.Get(field)
			if !ok || model.IsBlank(raw) {
				continue
			}
			if v, ok := number(raw, explicit); ok {
				pts = append(pts, point{r.ID, v})
			}
		}
		if len(pts) < minOutlierSample {
			continue
		}
		values := make([]float64, len(pts))
		for i, p := range pts {
			values[i] = p.v
		}
		f := ComputeFences(values)
		for _, p := range pts {
			if p.v >= f.Low && p.v <= f.High {
				continue
			}
			sev := model.SeverityMedium
			if p.v < 0 {
				sev = model.SeverityHigh
			}
			out[p.id] = append(out[p.id], model.AnomalyFlag{
				Field:    field,
				Kind:     model.AnomalyOutlier,
				Severity: sev,
				Value:    strconv.FormatFloat(p.v, 'f', -1, 64),
				Note:     fmt.Sprintf("outside [%g, %g]", f.Low, f.High),
			})
		}
	}
	return out
}

// ComputeFences returns quartiles by linear interpolation between closest
// ranks and the 1.5 IQR fences.
func ComputeFences(values []float64) Fences {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	q1, q3 := quantile(s, 0.25), quantile(s, 0.75)
	iqr := q3 - q1
	return Fences{Q1: q1, Q3: q3, IQR: iqr, Low: q1 - 1.5*iqr, High: q3 + 1.5*iqr}
}

func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// scanFields is the configured fields plus the auto-detected numeric ones.
func (d *Detector) scanFields(records []*model.Record) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range append(append([]string(nil), d.fields...), numericFields(records)...) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func numericFields(records []*model.Record) []string {
	numeric := make(map[string]bool)
	rejected := make(map[string]bool)
	for _, r := range records {
		for k, v := range r.Fields {
			if model.IsInternalField(k) || model.IsBlank(v) {
				continue
			}
			if _, ok := number(v, false); ok {
				numeric[k] = true
			} else {
				rejected[k] = true
			}
		}
	}
	var out []string
	for k := range numeric {
		if !rejected[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func number(v any, allowStrings bool) (float64, bool) {
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
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		if !allowStrings {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", ""), 64)
		return f, err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
	}
	return 0, false
}

// ContentIssues flags HTML remnants, block-page text and too-short
// description fields in a single record.
func (d *Detector) ContentIssues(rec *model.Record) []model.AnomalyFlag {
	var flags []model.AnomalyFlag
	for _, field := range rec.PopulatedFields() {
		raw, _ := rec.Get(field)
		s, ok := raw.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)

		if m := d.rules.HTMLRemnant.FindString(s); m != "" && confirmHTML(s, m) {
			flags = append(flags, model.AnomalyFlag{
				Field:    field,
				Kind:     model.AnomalyHTML,
				Severity: model.SeverityMedium,
				Value:    m,
				Note:     "markup left in text",
			})
		}

		lower := strings.ToLower(s)
		for _, marker := range d.rules.BlockMarkers {
			if strings.Contains(lower, marker) {
				flags = append(flags, model.AnomalyFlag{
					Field:    field,
					Kind:     model.AnomalyBlockPage,
					Severity: model.SeverityHigh,
					Value:    marker,
					Note:     "block page text captured",
				})
				break
			}
		}

		if d.rules.IsShortTextField(field) && utf8.RuneCountInString(s) < d.rules.MinTextLength {
			flags = append(flags, model.AnomalyFlag{
				Field:    field,
				Kind:     model.AnomalyShortText,
				Severity: model.SeverityMedium,
				Value:    s,
				Note:     fmt.Sprintf("shorter than %d characters", d.rules.MinTextLength),
			})
		}
	}
	return flags
}

// confirmHTML parses the text and checks that a tag-like regex hit produced
// an element. Entity hits need no confirmation.
func confirmHTML(s, match string) bool {
	if strings.HasPrefix(match, "&") {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return false
	}
	return doc.Find("body *").Length() > 0
}
