// Package normalize canonicalizes raw scraped values. Every normalizer is a
// pure function of its input and the injected rule tables: malformed input
// yields (zero, false), never an error, and normalizing an already-normalized
// value returns it unchanged.
package normalize

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/rules"
)

// ErrUnknownKind is returned when a caller asks for a normalization kind that
// does not exist. It signals a programming or configuration error.
var ErrUnknownKind = eris.New("unknown field kind")

// UnnormalizedField lists social-profile fields whose shape was not recognized.
const UnnormalizedField = "_unnormalized"

// Normalizer applies the rule tables to individual values and records.
type Normalizer struct {
	rules        *rules.Rules
	now          time.Time
	aliasesByLen []string // country alias keys >= 4 runes, longest first
	regionNames  []string // subdivision keys >= 4 bytes, longest first
}

// New creates a Normalizer. now is the processing time used for open-ended
// dates ("present", "current").
func New(r *rules.Rules, now time.Time) *Normalizer {
	n := &Normalizer{rules: r, now: now.UTC()}
	for k := range r.CountryAliases {
		if len([]rune(k)) >= 4 {
			n.aliasesByLen = append(n.aliasesByLen, k)
		}
	}
	for k := range r.Subdivisions {
		if len(k) >= 4 {
			n.regionNames = append(n.regionNames, k)
		}
	}
	longestFirst(n.aliasesByLen)
	longestFirst(n.regionNames)
	return n
}

func longestFirst(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
}

// Now returns the processing time.
func (n *Normalizer) Now() time.Time {
	return n.now
}

// Rules returns the rule tables the normalizer was built with.
func (n *Normalizer) Rules() *rules.Rules {
	return n.rules
}

// Field normalizes one raw value according to kind. A nil result means the
// input could not be parsed.
func (n *Normalizer) Field(kind rules.FieldKind, raw any) (any, error) {
	if !rules.KnownKind(kind) {
		return nil, eris.Wrapf(ErrUnknownKind, "normalize: kind %q", kind)
	}

	if kind == rules.KindCompanySize {
		if v, ok := n.CompanySize(raw); ok {
			return v, nil
		}
		return nil, nil
	}

	s, ok := model.ScalarString(raw)
	if !ok || s == "" {
		return nil, nil
	}

	var (
		out      string
		resolved bool
	)
	switch kind {
	case rules.KindText:
		out, resolved = n.Text(s)
	case rules.KindURL:
		out, resolved = n.URL(s)
	case rules.KindSocial:
		p := n.SocialProfile(s)
		out, resolved = p.URL, p.URL != ""
	case rules.KindDate:
		out, resolved = n.Date(s)
	case rules.KindCountry:
		out, _ = n.Country(s)
		resolved = out != ""
	case rules.KindPhone:
		out, resolved = n.Phone(s, "")
	case rules.KindEmail:
		out, resolved = n.Email(s)
	}
	if !resolved {
		return nil, nil
	}
	return out, nil
}

// InferKind guesses a normalization kind from a field name.
func InferKind(field string) (rules.FieldKind, bool) {
	f := strings.ToLower(field)
	switch {
	case f == "website" || f == "url" || f == "canonical_url" || f == "company_url":
		return rules.KindURL, true
	case f == "linkedin_url" || f == "twitter_url" || f == "x_url" || f == "github_url" ||
		strings.HasSuffix(f, "_profile"):
		return rules.KindSocial, true
	case f == "email" || strings.HasSuffix(f, "_email"):
		return rules.KindEmail, true
	case f == "phone" || strings.HasSuffix(f, "_phone"):
		return rules.KindPhone, true
	case f == "country":
		return rules.KindCountry, true
	case f == "company_size" || f == "employee_count" || f == "employees":
		return rules.KindCompanySize, true
	}
	return "", false
}

// Record rewrites a record's fields in place. Fields listed in kinds use that
// kind; other fields use InferKind; remaining string fields are cleaned as
// text. Unparseable values become nil and surface downstream as missing.
// canonical_url is derived from website when absent, never from source_url.
func (n *Normalizer) Record(rec *model.Record, kinds map[string]rules.FieldKind) error {
	rec.SourceURL = strings.TrimSpace(rec.SourceURL)

	fields := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		if !model.IsInternalField(k) {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)

	var unnormalized []string
	for _, field := range fields {
		raw := rec.Fields[field]
		kind, ok := kinds[field]
		if !ok {
			kind, ok = InferKind(field)
		}
		if !ok {
			if s, isStr := raw.(string); isStr {
				if t, ok := n.Text(s); ok {
					rec.Fields[field] = t
				} else {
					rec.Fields[field] = nil
				}
			}
			continue
		}

		if kind == rules.KindSocial {
			if s, ok := model.ScalarString(raw); ok && s != "" {
				p := n.SocialProfile(s)
				if !p.Normalized {
					unnormalized = append(unnormalized, field)
				}
				rec.Fields[field] = p.URL
				continue
			}
		}

		v, err := n.Field(kind, raw)
		if err != nil {
			return eris.Wrapf(err, "normalize: record %s field %s", rec.ID, field)
		}
		rec.Fields[field] = v
	}

	if len(unnormalized) > 0 {
		rec.Fields[UnnormalizedField] = unnormalized
	}

	if !rec.Has("canonical_url") {
		if w, ok := rec.String("website"); ok && w != "" {
			if u, ok := n.URL(w); ok {
				rec.Fields["canonical_url"] = u
			}
		}
	}
	return nil
}

// Text collapses whitespace (including non-breaking spaces) and trims.
func (n *Normalizer) Text(s string) (string, bool) {
	s = strings.ReplaceAll(s, " ", " ")
	s = strings.Join(strings.Fields(s), " ")
	return s, s != ""
}

// Fold returns the comparison form of s: compatibility-decomposed, combining
// marks removed, lower-cased, whitespace collapsed.
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// FoldValue folds any scalar value; non-scalars fold to "".
func FoldValue(v any) string {
	s, ok := model.ScalarString(v)
	if !ok {
		return ""
	}
	return Fold(s)
}
