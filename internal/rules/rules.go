// Package rules holds the rule tables and per-run specification that every
// pipeline component receives at construction. Nothing here is a mutable
// package-level table: Default builds a fresh copy for each caller, so runs
// with different rule sets can execute side by side.
package rules

import (
	"regexp"
	"sort"
	"strings"
)

// HomeRegion describes the region whose positions count toward experience.
type HomeRegion struct {
	Country string   `yaml:"country" json:"country"`
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

// SeniorityLevel is one named family of title patterns.
type SeniorityLevel struct {
	Name    string
	Include *regexp.Regexp
	Exclude *regexp.Regexp
}

// SeniorityRules orders the seniority families. Junior is checked first and
// disqualifies regardless of any other match.
type SeniorityRules struct {
	Junior *regexp.Regexp
	Levels []SeniorityLevel
}

// Level returns the named family, if defined.
func (s SeniorityRules) Level(name string) (SeniorityLevel, bool) {
	for _, l := range s.Levels {
		if l.Name == name {
			return l, true
		}
	}
	return SeniorityLevel{}, false
}

// SyntheticRules lists markers of fabricated or template data.
type SyntheticRules struct {
	Placeholders []string // case-insensitive substrings
	GenericNames []string // case-insensitive whole-word phrases
	Templates    []*regexp.Regexp
}

// Rules bundles every rule table a pipeline run consults.
type Rules struct {
	CountryAliases   map[string]string // folded alias -> canonical country
	Subdivisions     map[string]string // folded region code/name -> canonical country
	// CodePreference resolves codes that are both a country alias and a
	// subdivision ("de", "in") when no postal code follows them. Clashing
	// codes missing here resolve as the country.
	CodePreference   map[string]string
	HomeRegion       HomeRegion
	TrackingParams   []string
	TrackingPrefixes []string
	FormatPatterns   map[string]*regexp.Regexp
	Seniority        SeniorityRules
	Synthetic        SyntheticRules
	BlockMarkers     []string
	HTMLRemnant      *regexp.Regexp
	ShortTextFields  []string
	MinTextLength    int
	PhoneRegion      string
}

// Default returns a fresh rule set with the built-in tables.
func Default() *Rules {
	r := &Rules{
		CountryAliases:   defaultCountryAliases(),
		Subdivisions:     defaultSubdivisions(),
		CodePreference:   defaultCodePreference(),
		HomeRegion:       HomeRegion{Country: "United States"},
		TrackingParams:   []string{"gclid", "fbclid", "msclkid", "mc_cid", "mc_eid"},
		TrackingPrefixes: []string{"utm_"},
		FormatPatterns:   defaultFormatPatterns(),
		Seniority:        defaultSeniority(),
		Synthetic:        defaultSynthetic(),
		BlockMarkers: []string{
			"checking your browser",
			"cf-browser-verification",
			"captcha",
			"access denied",
			"are you a robot",
			"unusual traffic",
			"request blocked",
			"please enable javascript",
			"just a moment...",
		},
		HTMLRemnant:     regexp.MustCompile(`(?i)</?[a-z][a-z0-9]*(\s[^<>]*)?/?>|&(nbsp|amp|lt|gt|quot|#\d+);`),
		ShortTextFields: []string{"description", "bio", "summary", "about"},
		MinTextLength:   10,
		PhoneRegion:     "US",
	}
	return r
}

// WithHomeRegion returns a shallow copy of r using the given home region.
// Extra aliases are registered as subdivisions of the home country.
func (r *Rules) WithHomeRegion(h HomeRegion) *Rules {
	if strings.TrimSpace(h.Country) == "" {
		return r
	}
	c := *r
	c.HomeRegion = h
	if len(h.Aliases) > 0 {
		c.Subdivisions = make(map[string]string, len(r.Subdivisions)+len(h.Aliases))
		for k, v := range r.Subdivisions {
			c.Subdivisions[k] = v
		}
		for _, a := range h.Aliases {
			c.Subdivisions[strings.ToLower(strings.TrimSpace(a))] = h.Country
		}
	}
	return &c
}

// FormatPatternNames returns the sorted names of the built-in format patterns.
func (r *Rules) FormatPatternNames() []string {
	names := make([]string, 0, len(r.FormatPatterns))
	for n := range r.FormatPatterns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsShortTextField reports whether a field holds description-like text that
// must meet MinTextLength.
func (r *Rules) IsShortTextField(field string) bool {
	f := strings.ToLower(field)
	for _, s := range r.ShortTextFields {
		if f == s || strings.HasSuffix(f, "_"+s) {
			return true
		}
	}
	return false
}

func defaultFormatPatterns() map[string]*regexp.Regexp {
	return map[string]*regexp.Regexp{
		"email":            regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`),
		"us_phone":         regexp.MustCompile(`^(\+?1[\s.\-]?)?\(?[2-9]\d{2}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}$`),
		"us_postal":        regexp.MustCompile(`^\d{5}(-\d{4})?$`),
		"uk_postal":        regexp.MustCompile(`(?i)^[A-Z]{1,2}\d[A-Z\d]?\s*\d[A-Z]{2}$`),
		"linkedin_person":  regexp.MustCompile(`^https?://(www\.)?linkedin\.com/in/[A-Za-z0-9\-_%]+/?$`),
		"linkedin_company": regexp.MustCompile(`^https?://(www\.)?linkedin\.com/company/[A-Za-z0-9\-_%]+/?$`),
	}
}

func defaultSeniority() SeniorityRules {
	return SeniorityRules{
		Junior: regexp.MustCompile(`(?i)\b(junior|jr\.?|entry[\s-]?level|entry|associate|analyst|intern|internship|trainee|graduate)\b`),
		Levels: []SeniorityLevel{
			{
				Name:    "c_suite",
				Include: regexp.MustCompile(`(?i)\b(chief\s+\w+(\s+\w+)?\s+officer|ceo|cto|cfo|coo|cmo|cio|ciso|cpo|founder|co-founder|president|owner|managing\s+partner)\b`),
				Exclude: regexp.MustCompile(`(?i)\b(vice|vp|svp|evp|avp)\b`),
			},
			{
				Name:    "vp",
				Include: regexp.MustCompile(`(?i)\b(vice\s+president|vp|svp|evp|avp|head\s+of)\b`),
			},
			{
				Name:    "director",
				Include: regexp.MustCompile(`(?i)\b(director|head)\b`),
			},
			{
				Name:    "manager",
				Include: regexp.MustCompile(`(?i)\b(manager|supervisor|team\s+lead|lead)\b`),
			},
			{
				Name:    "senior_specialist",
				Include: regexp.MustCompile(`(?i)\b(senior|sr\.?|principal|staff|lead|expert|architect|specialist\s+ii+)\b`),
			},
		},
	}
}

func defaultSynthetic() SyntheticRules {
	return SyntheticRules{
		Placeholders: []string{
			"lorem ipsum",
			"dolor sit amet",
			"example.com",
			"example.org",
			"example.net",
			"test@",
			"placeholder",
			"sample text",
			"your name here",
			"company name here",
		},
		GenericNames: []string{
			"john doe",
			"jane doe",
			"test user",
			"demo user",
			"sample user",
			"first last",
			"firstname lastname",
		},
		Templates: []*regexp.Regexp{
			regexp.MustCompile(`\[[^\[\]]+\]`),
			regexp.MustCompile(`\{\{[^{}]*\}\}`),
		},
	}
}
