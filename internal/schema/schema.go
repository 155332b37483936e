// Package schema checks records against the field types and required fields
// declared in a run spec. It reports problems; it never rejects a record.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/rules"
)

// Validator holds the declared schema for one run.
type Validator struct {
	Types    map[string]rules.FieldType
	Required []string
}

// New builds a Validator from a run spec.
func New(spec *rules.RunSpec) *Validator {
	return &Validator{Types: spec.Schema, Required: spec.Required}
}

// Validate reports missing required fields, required fields present but
// blank, and values that do not match their declared type. Blank optional
// fields are not type-checked.
func (v *Validator) Validate(rec *model.Record) model.SchemaResult {
	var res model.SchemaResult

	for _, f := range v.Required {
		raw, ok := rec.Get(f)
		switch {
		case !ok:
			res.MissingFields = append(res.MissingFields, f)
		case model.IsBlank(raw):
			res.EmptyFields = append(res.EmptyFields, f)
		}
	}

	fields := make([]string, 0, len(v.Types))
	for f := range v.Types {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, f := range fields {
		raw, ok := rec.Get(f)
		if !ok || model.IsBlank(raw) {
			continue
		}
		want := v.Types[f]
		if !matchesType(raw, want) {
			res.TypeErrors = append(res.TypeErrors, model.TypeError{
				Field:    f,
				Expected: string(want),
				Actual:   describe(raw),
			})
		}
	}
	return res
}

// Completeness is the fraction of schema fields (or, with no schema, required
// fields) that are populated, in [0,1]. A record with nothing declared is
// complete.
func (v *Validator) Completeness(rec *model.Record) float64 {
	fields := make([]string, 0, len(v.Types)+len(v.Required))
	seen := make(map[string]bool)
	for f := range v.Types {
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	for _, f := range v.Required {
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return 1
	}
	populated := 0
	for _, f := range fields {
		if rec.Has(f) {
			populated++
		}
	}
	return float64(populated) / float64(len(fields))
}

func matchesType(v any, t rules.FieldType) bool {
	switch t {
	case rules.TypeString:
		_, ok := v.(string)
		return ok
	case rules.TypeNumber:
		_, ok := toFloat(v)
		return ok
	case rules.TypeInteger:
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f)
	case rules.TypeBoolean:
		_, ok := toBool(v)
		return ok
	case rules.TypeEmail:
		s, ok := v.(string)
		if !ok {
			return false
		}
		addr, err := mail.ParseAddress(s)
		return err == nil && addr.Address == strings.TrimSpace(s)
	case rules.TypeURL:
		s, ok := v.(string)
		if !ok {
			return false
		}
		u, err := url.Parse(strings.TrimSpace(s))
		return err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https")
	case rules.TypePhone:
		s, ok := v.(string)
		if !ok {
			return false
		}
		digits := 0
		for _, r := range s {
			switch {
			case r >= '0' && r <= '9':
				digits++
			case strings.ContainsRune(" +-().", r):
			default:
				return false
			}
		}
		return digits >= 7
	case rules.TypeDate:
		switch t := v.(type) {
		case time.Time:
			return true
		case string:
			_, err := dateparse.ParseIn(strings.TrimSpace(t), time.UTC)
			return err == nil
		}
		return false
	case rules.TypeList:
		switch v.(type) {
		case []any, []string, []map[string]any:
			return true
		}
		return false
	case rules.TypeObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n), ",", ""), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "y", "1":
			return true, true
		case "false", "no", "n", "0":
			return false, true
		}
	}
	return false, false
}

func describe(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32, json.Number:
		return "number"
	case []any, []string, []map[string]any:
		return "list"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
