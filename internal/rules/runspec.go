package rules

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/record-gate/internal/model"
)

// ErrInvalidSpec marks a configuration error in a run spec. A run never starts
// with an invalid spec.
var ErrInvalidSpec = eris.New("invalid run spec")

// FieldType is a schema type declared for a field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeEmail   FieldType = "email"
	TypeURL     FieldType = "url"
	TypePhone   FieldType = "phone"
	TypeDate    FieldType = "date"
	TypeList    FieldType = "list"
	TypeObject  FieldType = "object"
)

var knownTypes = map[FieldType]bool{
	TypeString: true, TypeNumber: true, TypeInteger: true, TypeBoolean: true,
	TypeEmail: true, TypeURL: true, TypePhone: true, TypeDate: true,
	TypeList: true, TypeObject: true,
}

// FieldKind tags a field for normalization.
type FieldKind string

const (
	KindText        FieldKind = "text"
	KindURL         FieldKind = "url"
	KindSocial      FieldKind = "social"
	KindDate        FieldKind = "date"
	KindCountry     FieldKind = "country"
	KindPhone       FieldKind = "phone"
	KindEmail       FieldKind = "email"
	KindCompanySize FieldKind = "company_size"
)

// KnownKind reports whether k is a supported normalization kind.
func KnownKind(k FieldKind) bool {
	switch k {
	case KindText, KindURL, KindSocial, KindDate, KindCountry, KindPhone, KindEmail, KindCompanySize:
		return true
	}
	return false
}

// DedupeSpec configures entity resolution for a run.
type DedupeSpec struct {
	Keys           []string `yaml:"keys,omitempty" json:"keys,omitempty"`
	Fuzzy          *bool    `yaml:"fuzzy,omitempty" json:"fuzzy,omitempty"`
	Threshold      float64  `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	SourcePriority []string `yaml:"source_priority,omitempty" json:"source_priority,omitempty"`
	Blocking       bool     `yaml:"blocking,omitempty" json:"blocking,omitempty"`
}

// RunSpec is the user-supplied specification for one pipeline run.
type RunSpec struct {
	Name             string                 `yaml:"name" json:"name"`
	Schema           map[string]FieldType   `yaml:"schema" json:"schema"`
	Required         []string               `yaml:"required" json:"required"`
	Normalize        map[string]FieldKind   `yaml:"normalize,omitempty" json:"normalize,omitempty"`
	Constraints      []model.ConstraintSpec `yaml:"constraints" json:"constraints"`
	Dedupe           DedupeSpec             `yaml:"dedupe,omitempty" json:"dedupe,omitempty"`
	ExperienceField  string                 `yaml:"experience_field,omitempty" json:"experience_field,omitempty"`
	WorkHistoryField string                 `yaml:"work_history_field,omitempty" json:"work_history_field,omitempty"`
	HomeRegion       *HomeRegion            `yaml:"home_region,omitempty" json:"home_region,omitempty"`
	PhoneRegion      string                 `yaml:"phone_region,omitempty" json:"phone_region,omitempty"`
	VerifyExclude    []string               `yaml:"verify_exclude,omitempty" json:"verify_exclude,omitempty"`
	ProfileFields    map[string]string      `yaml:"profile_fields,omitempty" json:"profile_fields,omitempty"`
	AnomalyFields    []string               `yaml:"anomaly_fields,omitempty" json:"anomaly_fields,omitempty"`
}

// OutlierFields lists the fields scanned for numeric outliers even when
// their values arrive as strings: AnomalyFields when set, otherwise every
// schema field typed number or integer.
func (s *RunSpec) OutlierFields() []string {
	if len(s.AnomalyFields) > 0 {
		return s.AnomalyFields
	}
	var out []string
	for f, t := range s.Schema {
		if t == TypeNumber || t == TypeInteger {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// LoadRunSpec reads a run spec from a YAML file.
func LoadRunSpec(path string) (*RunSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read run spec %s", path)
	}
	return ParseRunSpec(data)
}

// LoadRunSpecWith reads a run spec from a YAML file, inheriting unset dedupe
// settings from base.
func LoadRunSpecWith(path string, base DedupeSpec) (*RunSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read run spec %s", path)
	}
	return ParseRunSpecWith(data, base)
}

// ParseRunSpec decodes a YAML (or JSON) run spec and fills defaults.
func ParseRunSpec(data []byte) (*RunSpec, error) {
	return ParseRunSpecWith(data, DedupeSpec{})
}

// ParseRunSpecWith is ParseRunSpec with dedupe settings the document leaves
// unset taken from base.
func ParseRunSpecWith(data []byte, base DedupeSpec) (*RunSpec, error) {
	var spec RunSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, eris.Wrap(err, "rules: parse run spec")
	}
	spec.Complete(base)
	return &spec, nil
}

// Complete fills unset dedupe settings from base, then the remaining
// defaults. Specs decoded by other means (a request body) must call it.
func (s *RunSpec) Complete(base DedupeSpec) {
	d := &s.Dedupe
	if len(d.Keys) == 0 {
		d.Keys = base.Keys
	}
	if d.Fuzzy == nil {
		d.Fuzzy = base.Fuzzy
	}
	if d.Threshold == 0 {
		d.Threshold = base.Threshold
	}
	if len(d.SourcePriority) == 0 {
		d.SourcePriority = base.SourcePriority
	}
	s.applyDefaults()
}

func (s *RunSpec) applyDefaults() {
	if s.ExperienceField == "" {
		s.ExperienceField = "years_experience"
	}
	if s.WorkHistoryField == "" {
		s.WorkHistoryField = "work_history"
	}
	if len(s.Dedupe.Keys) == 0 {
		s.Dedupe.Keys = []string{"canonical_url"}
	}
	if s.Dedupe.Threshold == 0 {
		s.Dedupe.Threshold = 0.85
	}
	if s.Dedupe.Fuzzy == nil {
		on := true
		s.Dedupe.Fuzzy = &on
	}
}

// Validate checks the spec against the rule set and the registered custom
// checks. Every problem wraps ErrInvalidSpec.
func (s *RunSpec) Validate(r *Rules, customChecks []string) error {
	s.applyDefaults()

	for field, t := range s.Schema {
		if !knownTypes[t] {
			return eris.Wrapf(ErrInvalidSpec, "rules: field %q: unknown type %q", field, t)
		}
	}
	for _, f := range s.AnomalyFields {
		if strings.TrimSpace(f) == "" {
			return eris.Wrap(ErrInvalidSpec, "rules: blank anomaly field name")
		}
	}
	for field, k := range s.Normalize {
		if !KnownKind(k) {
			return eris.Wrapf(ErrInvalidSpec, "rules: field %q: unknown normalization kind %q", field, k)
		}
	}
	for _, f := range s.Required {
		if strings.TrimSpace(f) == "" {
			return eris.Wrap(ErrInvalidSpec, "rules: blank required field name")
		}
	}
	if s.Dedupe.Threshold < 0 || s.Dedupe.Threshold > 1 {
		return eris.Wrapf(ErrInvalidSpec, "rules: dedupe threshold %.2f outside [0,1]", s.Dedupe.Threshold)
	}

	custom := make(map[string]bool, len(customChecks))
	for _, c := range customChecks {
		custom[c] = true
	}

	seen := make(map[string]bool, len(s.Constraints))
	for _, c := range s.Constraints {
		if strings.TrimSpace(c.Name) == "" {
			return eris.Wrapf(ErrInvalidSpec, "rules: constraint of type %q has no name", c.Type)
		}
		if seen[c.Name] {
			return eris.Wrapf(ErrInvalidSpec, "rules: duplicate constraint name %q", c.Name)
		}
		seen[c.Name] = true
		if err := validateConstraint(c, r, custom); err != nil {
			return err
		}
	}
	return nil
}

func validateConstraint(c model.ConstraintSpec, r *Rules, custom map[string]bool) error {
	fail := func(format string, args ...any) error {
		return eris.Wrapf(ErrInvalidSpec, "rules: constraint %q: "+format, append([]any{c.Name}, args...)...)
	}

	switch c.Type {
	case model.ConstraintRequiredFields:
		if len(c.Fields) == 0 && c.Field == "" {
			return fail("required_fields needs fields")
		}
	case model.ConstraintFormat:
		if c.Field == "" {
			return fail("format needs a field")
		}
		switch {
		case c.Regex != "":
			if _, err := regexp.Compile(c.Regex); err != nil {
				return fail("invalid regex: %v", err)
			}
		case c.Pattern != "":
			if _, ok := r.FormatPatterns[c.Pattern]; !ok {
				return fail("unknown format pattern %q (known: %s)", c.Pattern, strings.Join(r.FormatPatternNames(), ", "))
			}
		default:
			return fail("format needs pattern or regex")
		}
	case model.ConstraintLocation:
		if c.Field == "" || len(c.AllowedValues) == 0 {
			return fail("location needs a field and allowed_values")
		}
	case model.ConstraintNumeric:
		if c.Field == "" {
			return fail("numeric needs a field")
		}
		if c.Minimum == nil && c.Maximum == nil {
			return fail("numeric needs minimum or maximum")
		}
		if c.Minimum != nil && c.Maximum != nil && *c.Minimum > *c.Maximum {
			return fail("minimum %.2f exceeds maximum %.2f", *c.Minimum, *c.Maximum)
		}
	case model.ConstraintExperience:
		if c.Minimum == nil {
			return fail("experience needs minimum")
		}
	case model.ConstraintSeniority:
		if c.Field == "" || len(c.Levels) == 0 {
			return fail("seniority needs a field and levels")
		}
		for _, l := range c.Levels {
			if _, ok := r.Seniority.Level(l); !ok {
				return fail("unknown seniority level %q", l)
			}
		}
	case model.ConstraintCustom:
		if !custom[c.Check] {
			return fail("unknown custom check %q", c.Check)
		}
	default:
		return fail("unknown constraint type %q", c.Type)
	}
	return nil
}
