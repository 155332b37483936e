package authenticity

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/normalize"
)

// SyntheticFlags scans every scalar field for placeholder text, generic
// names and unfilled template markup. Flags are sorted for stable output.
func (c *Checker) SyntheticFlags(rec *model.Record) []string {
	syn := c.rules.Synthetic
	var flags []string
	for _, field := range rec.PopulatedFields() {
		raw, ok := rec.String(field)
		if !ok || raw == "" {
			continue
		}
		lower := strings.ToLower(raw)
		for _, p := range syn.Placeholders {
			if strings.Contains(lower, p) {
				flags = append(flags, fmt.Sprintf("placeholder:%s:%s", field, p))
			}
		}
		folded := normalize.Fold(raw)
		for _, g := range syn.GenericNames {
			if containsPhrase(folded, g) {
				flags = append(flags, fmt.Sprintf("generic_name:%s:%s", field, g))
			}
		}
		for _, re := range syn.Templates {
			if re.MatchString(raw) {
				flags = append(flags, "template_markup:"+field)
				break
			}
		}
	}
	sort.Strings(flags)
	return flags
}

func syntheticResult(flags []string) model.CheckResult {
	if len(flags) == 0 {
		return model.CheckResult{Kind: model.CheckSynthetic, Status: model.StatusPass, Confidence: 100}
	}
	return model.CheckResult{
		Kind:       model.CheckSynthetic,
		Status:     model.StatusFail,
		Confidence: 0,
		Category:   model.RejectSyntheticData,
		Note:       strings.Join(flags, ", "),
	}
}

// containsPhrase matches phrase on word boundaries within s.
func containsPhrase(s, phrase string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], phrase)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(phrase)
		if boundary(s, start-1) && boundary(s, end) {
			return true
		}
		i = start + 1
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// BatchSignal carries advisory flags computed over a whole batch.
type BatchSignal struct {
	Flags          []string `json:"flags,omitempty"`
	FullyComplete  bool     `json:"fully_complete"`
	UniformFormats []string `json:"uniform_formats,omitempty"`
}

const (
	minBatchForUniformity = 5
	uniformShare          = 0.8
)

// BatchUniformity looks for batch-level signs of generated data: every
// record filling every field, or one field sharing a single shape across
// most records. The signal is advisory; it never decides a record.
func BatchUniformity(records []*model.Record) BatchSignal {
	var sig BatchSignal
	if len(records) < minBatchForUniformity {
		return sig
	}

	union := make(map[string]bool)
	for _, r := range records {
		for f := range r.Fields {
			if !model.IsInternalField(f) {
				union[f] = true
			}
		}
	}
	fields := make([]string, 0, len(union))
	for f := range union {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	complete := len(fields) > 0
	for _, r := range records {
		if len(r.PopulatedFields()) != len(fields) {
			complete = false
			break
		}
	}
	if complete {
		sig.FullyComplete = true
		sig.Flags = append(sig.Flags, "batch_fully_complete")
	}

	for _, f := range fields {
		counts := make(map[string]int)
		total := 0
		for _, r := range records {
			s, ok := r.String(f)
			if !ok || s == "" {
				continue
			}
			counts[shape(s)]++
			total++
		}
		if total < minBatchForUniformity {
			continue
		}
		top := 0
		for _, n := range counts {
			top = max(top, n)
		}
		// A single distinct value repeated is not a format signal.
		if len(counts) == 1 && distinct(records, f) == 1 {
			continue
		}
		if float64(top)/float64(total) >= uniformShare && hasVariableShape(counts) {
			sig.UniformFormats = append(sig.UniformFormats, f)
			sig.Flags = append(sig.Flags, "batch_uniform_format:"+f)
		}
	}
	return sig
}

// shape maps letters to 'a' and digits to '9', collapsing runs, so
// "Jane Smith" and "Bob Jones" share the shape "a a".
func shape(s string) string {
	var b strings.Builder
	var last rune
	for _, r := range s {
		var c rune
		switch {
		case unicode.IsLetter(r):
			c = 'a'
		case unicode.IsDigit(r):
			c = '9'
		default:
			c = r
		}
		if c == last && (c == 'a' || c == '9') {
			continue
		}
		b.WriteRune(c)
		last = c
	}
	return b.String()
}

// hasVariableShape skips shapes with no structure (a bare word or number),
// which are uniform in any real dataset.
func hasVariableShape(counts map[string]int) bool {
	for s := range counts {
		if s != "a" && s != "9" {
			return true
		}
	}
	return false
}

func distinct(records []*model.Record, field string) int {
	seen := make(map[string]bool)
	for _, r := range records {
		if s, ok := r.String(field); ok && s != "" {
			seen[s] = true
		}
	}
	return len(seen)
}
