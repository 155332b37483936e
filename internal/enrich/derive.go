// Package enrich adds fields to records that passed through dedupe: values
// derived locally from data already present, and values looked up from an
// ordered chain of external providers. Enrichment never overwrites a
// populated field and records what it added so verification can skip it.
package enrich

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/sells-group/record-gate/internal/history"
	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/normalize"
)

// Provenance fields.
const (
	DerivedField    = model.FieldDerived
	EnrichedByField = model.FieldEnrichedBy
)

// Derived field names.
const (
	FieldDomain          = "domain"
	FieldEmailDomain     = "email_domain"
	FieldEmailHash       = "email_sha256"
	FieldRecordHash      = "record_hash"
	FieldExperienceYears = "experience_years"
)

// Deriver computes fields from a record's own data.
type Deriver struct {
	norm             *normalize.Normalizer
	workHistoryField string
	experienceField  string
}

// NewDeriver creates a Deriver. experienceField is the claimed-experience
// field constraints read; a history total is never written into it.
func NewDeriver(n *normalize.Normalizer, workHistoryField, experienceField string) *Deriver {
	if workHistoryField == "" {
		workHistoryField = "work_history"
	}
	return &Deriver{norm: n, workHistoryField: workHistoryField, experienceField: experienceField}
}

// Derive adds every derivable field that is absent and returns the names it
// added. The names are appended to the record's _derived list.
func (d *Deriver) Derive(rec *model.Record) []string {
	// Hash first so it covers scraped content only.
	hash := RecordHash(rec)

	var added []string
	set := func(field string, v any) {
		if rec.Has(field) || v == nil {
			return
		}
		if s, ok := v.(string); ok && s == "" {
			return
		}
		rec.Set(field, v)
		added = append(added, field)
	}

	for _, f := range []string{"canonical_url", "website", "url"} {
		if s, ok := rec.String(f); ok && s != "" {
			set(FieldDomain, RegistrableDomain(s))
			break
		}
	}

	if email, ok := rec.String("email"); ok && email != "" {
		email = strings.ToLower(email)
		if at := strings.LastIndex(email, "@"); at > 0 && at < len(email)-1 {
			set(FieldEmailDomain, email[at+1:])
			sum := sha256.Sum256([]byte(email))
			set(FieldEmailHash, hex.EncodeToString(sum[:]))
		}
	}

	set(FieldRecordHash, hash)

	if d.experienceField != FieldExperienceYears {
		if raw, ok := rec.Get(d.workHistoryField); ok && !model.IsBlank(raw) {
			sum := history.Sum(history.Parse(raw, d.norm), nil)
			if sum.Counted > 0 {
				set(FieldExperienceYears, math.Round(sum.Years*100)/100)
			}
		}
	}

	if len(added) > 0 {
		rec.Set(DerivedField, appendUnique(stringList(rec, DerivedField), added...))
	}
	return added
}

// RegistrableDomain returns the eTLD+1 of a URL or bare host, or "".
func RegistrableDomain(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(u.Hostname()))
	if err != nil {
		return ""
	}
	return d
}

// RecordHash is a content hash over the folded, sorted scalar fields. Two
// records with the same scraped content hash the same regardless of field
// order, case or accents.
func RecordHash(rec *model.Record) string {
	h := sha256.New()
	for _, f := range rec.PopulatedFields() {
		if f == FieldRecordHash {
			continue
		}
		v, _ := rec.Get(f)
		h.Write([]byte(f))
		h.Write([]byte{0})
		h.Write([]byte(normalize.FoldValue(v)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func stringList(rec *model.Record, field string) []string {
	v, _ := rec.Get(field)
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func appendUnique(list []string, items ...string) []string {
	out := slices.Clone(list)
	for _, it := range items {
		if !slices.Contains(out, it) {
			out = append(out, it)
		}
	}
	return out
}
