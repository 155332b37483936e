// Package evidence carries the pre-fetched verification inputs handed to the
// authenticity checker, plus the HTTP collaborator that can fetch source pages
// ahead of a run. The checker itself never performs I/O.
package evidence

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
)

// Status tells the checker whether a piece of evidence is usable.
type Status string

const (
	StatusFetched      Status = "fetched"
	StatusUnreachable  Status = "unreachable"
	StatusNotRequested Status = "not_requested"
)

// PageEvidence is the content of a record's source page.
type PageEvidence struct {
	Status    Status    `json:"status"`
	URL       string    `json:"url,omitempty"`
	Text      string    `json:"text,omitempty"`
	HTML      string    `json:"html,omitempty"`
	Error     string    `json:"error,omitempty"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

// Content returns the page's visible text, extracting it from HTML when no
// text was supplied.
func (p *PageEvidence) Content() string {
	if p.Text != "" || p.HTML == "" {
		return p.Text
	}
	text, err := PageText(p.HTML, p.URL)
	if err != nil {
		return ""
	}
	return text
}

// ProfileEvidence is structured data from a social profile.
type ProfileEvidence struct {
	Status      Status           `json:"status"`
	URL         string           `json:"url,omitempty"`
	Name        string           `json:"name,omitempty"`
	Company     string           `json:"company,omitempty"`
	Title       string           `json:"title,omitempty"`
	Location    string           `json:"location,omitempty"`
	WorkHistory []map[string]any `json:"work_history,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// SourceEvidence holds the same record as reported by independent sources:
// source name -> field -> value.
type SourceEvidence struct {
	Status Status                    `json:"status"`
	Values map[string]map[string]any `json:"values,omitempty"`
}

// Bundle is all evidence for one record. Nil members were not requested.
type Bundle struct {
	Page    *PageEvidence    `json:"page,omitempty"`
	Profile *ProfileEvidence `json:"profile,omitempty"`
	Sources *SourceEvidence  `json:"sources,omitempty"`
}

// Set maps record IDs to their evidence.
type Set map[string]Bundle

// Get returns the bundle for a record, or an empty bundle.
func (s Set) Get(recordID string) Bundle {
	if s == nil {
		return Bundle{}
	}
	return s[recordID]
}

// Merge combines the bundles of several records (members of a merge group).
// The first member with a given kind of evidence wins; source bundles are
// unioned.
func (s Set) Merge(recordIDs []string) Bundle {
	var out Bundle
	for _, id := range recordIDs {
		b := s.Get(id)
		if out.Page == nil || out.Page.Status != StatusFetched {
			if b.Page != nil && (out.Page == nil || b.Page.Status == StatusFetched) {
				out.Page = b.Page
			}
		}
		if out.Profile == nil || out.Profile.Status != StatusFetched {
			if b.Profile != nil && (out.Profile == nil || b.Profile.Status == StatusFetched) {
				out.Profile = b.Profile
			}
		}
		if b.Sources != nil {
			if out.Sources == nil {
				out.Sources = &SourceEvidence{Status: b.Sources.Status, Values: make(map[string]map[string]any)}
			}
			if b.Sources.Status == StatusFetched {
				out.Sources.Status = StatusFetched
			}
			for src, fields := range b.Sources.Values {
				if _, ok := out.Sources.Values[src]; !ok {
					out.Sources.Values[src] = fields
				}
			}
		}
	}
	return out
}

// Load reads an evidence set from a JSON file keyed by record ID.
func Load(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "evidence: read %s", path)
	}
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrapf(err, "evidence: parse %s", path)
	}
	if s == nil {
		s = make(Set)
	}
	return s, nil
}
