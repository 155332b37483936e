package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Reserved record keys. Everything else in a flattened record is a domain field.
const (
	KeyRecordID   = "record_id"
	KeySourceURL  = "source_url"
	KeyScrapedAt  = "scraped_at"
	KeyValidation = "validation"
)

// Provenance fields written during enrichment. They list the fields that
// were not scraped from the source.
const (
	FieldDerived    = "_derived"
	FieldEnrichedBy = "_enriched_by"
)

// recordNamespace seeds deterministic record IDs.
var recordNamespace = uuid.MustParse("6f1c2b7e-3d5a-4f0e-9a41-0c8e7b2d9f13")

// Record is one entity candidate moving through the pipeline.
type Record struct {
	ID         string
	SourceURL  string
	ScrapedAt  time.Time
	Fields     map[string]any
	Validation *Validation
}

// NewRecord creates a record with an initialized field map.
func NewRecord(id string, fields map[string]any) *Record {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Record{ID: id, Fields: fields}
}

// Get returns the raw value for a field.
func (r *Record) Get(field string) (any, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[field]
	return v, ok
}

// Set assigns a field value.
func (r *Record) Set(field string, v any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[field] = v
}

// Delete removes a field.
func (r *Record) Delete(field string) {
	delete(r.Fields, field)
}

// String returns the trimmed textual form of a scalar field. Lists, maps and
// nil values report false.
func (r *Record) String(field string) (string, bool) {
	v, ok := r.Get(field)
	if !ok {
		return "", false
	}
	s, ok := ScalarString(v)
	if !ok {
		return "", false
	}
	return s, true
}

// Has reports whether a field is present and non-blank.
func (r *Record) Has(field string) bool {
	v, ok := r.Get(field)
	if !ok {
		return false
	}
	return !IsBlank(v)
}

// PopulatedFields returns the sorted names of non-blank, non-internal fields.
func (r *Record) PopulatedFields() []string {
	var out []string
	for k, v := range r.Fields {
		if IsInternalField(k) || IsBlank(v) {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy of the record's fields. The validation block is
// not copied.
func (r *Record) Clone() *Record {
	c := &Record{
		ID:        r.ID,
		SourceURL: r.SourceURL,
		ScrapedAt: r.ScrapedAt,
		Fields:    make(map[string]any, len(r.Fields)),
	}
	for k, v := range r.Fields {
		c.Fields[k] = cloneValue(v)
	}
	return c
}

// EnsureID assigns a deterministic record_id derived from the source URL and
// field content when the record has none.
func (r *Record) EnsureID() {
	if strings.TrimSpace(r.ID) != "" {
		return
	}
	r.ID = r.ContentID(0)
}

// ContentID derives a record_id from the source URL and field content.
// Occurrence separates byte-identical records within one batch: the first
// copy gets occurrence 0, which is also what EnsureID assigns.
func (r *Record) ContentID(occurrence int) string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(r.SourceURL)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, r.Fields[k])
	}
	if occurrence > 0 {
		fmt.Fprintf(&b, "#%d", occurrence)
	}
	return uuid.NewSHA1(recordNamespace, []byte(b.String())).String()
}

// IsInternalField reports whether a field is pipeline bookkeeping rather than
// scraped data. Internal fields start with an underscore.
func IsInternalField(name string) bool {
	return strings.HasPrefix(name, "_")
}

// IsBlank reports whether v is nil, an empty/whitespace string, or an empty
// collection.
func IsBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// ScalarString renders strings, numbers and booleans as trimmed text.
func ScalarString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	case time.Time:
		return t.UTC().Format(time.RFC3339), true
	default:
		return "", false
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// MarshalJSON flattens the record: provenance keys, domain fields, and the
// validation block share one object.
func (r *Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		flat[k] = v
	}
	flat[KeyRecordID] = r.ID
	if r.SourceURL != "" {
		flat[KeySourceURL] = r.SourceURL
	}
	if !r.ScrapedAt.IsZero() {
		flat[KeyScrapedAt] = r.ScrapedAt.UTC().Format(time.RFC3339)
	}
	if r.Validation != nil {
		flat[KeyValidation] = r.Validation
	}
	return json.Marshal(flat)
}

// UnmarshalJSON reads a flattened record.
func (r *Record) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return eris.Wrap(err, "model: unmarshal record")
	}
	rec := FromMap(flat)
	if raw, ok := flat[KeyValidation]; ok && raw != nil {
		b, err := json.Marshal(raw)
		if err != nil {
			return eris.Wrap(err, "model: re-encode validation")
		}
		var v Validation
		if err := json.Unmarshal(b, &v); err != nil {
			return eris.Wrap(err, "model: unmarshal validation")
		}
		rec.Validation = &v
	}
	*r = *rec
	return nil
}

// FromMap builds a record from a flat field map, lifting the provenance keys.
func FromMap(flat map[string]any) *Record {
	rec := NewRecord("", nil)
	for k, v := range flat {
		switch k {
		case KeyRecordID:
			rec.ID, _ = ScalarString(v)
		case KeySourceURL:
			rec.SourceURL, _ = ScalarString(v)
		case KeyScrapedAt:
			if s, ok := ScalarString(v); ok && s != "" {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					rec.ScrapedAt = t.UTC()
				}
			}
		case KeyValidation:
		default:
			rec.Fields[k] = v
		}
	}
	return rec
}
