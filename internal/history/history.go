// Package history parses work-history lists and sums the time spent in them.
package history

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/normalize"
)

// DaysPerYear converts elapsed days to fractional years.
const DaysPerYear = 365.25

// Position is one entry of a work history.
type Position struct {
	Title    string    `json:"title,omitempty"`
	Company  string    `json:"company,omitempty"`
	Location string    `json:"location,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	StartRaw string    `json:"start_raw,omitempty"`
	EndRaw   string    `json:"end_raw,omitempty"`
	Open     bool      `json:"open"`
}

// Dated reports whether both ends of the position could be resolved.
func (p Position) Dated() bool {
	return !p.Start.IsZero() && !p.End.IsZero() && !p.End.Before(p.Start)
}

// Days is the elapsed whole days of a dated position.
func (p Position) Days() int {
	if !p.Dated() {
		return 0
	}
	return int(p.End.Sub(p.Start).Hours() / 24)
}

var (
	titleKeys    = []string{"title", "position", "role", "job_title"}
	companyKeys  = []string{"company", "organization", "employer", "company_name"}
	locationKeys = []string{"location", "country", "city", "region"}
	startKeys    = []string{"start_date", "start", "from", "started", "started_at"}
	endKeys      = []string{"end_date", "end", "to", "ended", "ended_at"}
)

// Parse reads a work-history value: a list of objects, or a JSON string
// holding one (as CSV input carries it). Open-ended positions ("present",
// missing end) close at the normalizer's processing time.
func Parse(raw any, n *normalize.Normalizer) []Position {
	var items []map[string]any
	switch v := raw.(type) {
	case []map[string]any:
		items = v
	case []any:
		for _, e := range v {
			if m, ok := e.(map[string]any); ok {
				items = append(items, m)
			}
		}
	case string:
		s := strings.TrimSpace(v)
		if strings.HasPrefix(s, "[") {
			var decoded []map[string]any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				items = decoded
			}
		}
	}

	out := make([]Position, 0, len(items))
	for _, m := range items {
		p := Position{
			Title:    first(m, titleKeys),
			Company:  first(m, companyKeys),
			Location: first(m, locationKeys),
			StartRaw: first(m, startKeys),
			EndRaw:   first(m, endKeys),
		}
		if t, ok := n.ParseTime(p.StartRaw); ok {
			p.Start = t
		}
		if normalize.IsOpenEnded(p.EndRaw) {
			p.Open = true
			p.End = n.Now()
		} else if t, ok := n.ParseTime(p.EndRaw); ok {
			p.End = t
		}
		out = append(out, p)
	}
	return out
}

func first(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := model.ScalarString(m[k]); ok && s != "" {
			return s
		}
	}
	return ""
}

// Summary is the total time across the positions that were counted.
type Summary struct {
	Years       float64 `json:"years"`
	Days        int     `json:"days"`
	Counted     int     `json:"counted"`
	Unparseable int     `json:"unparseable"`
}

// Sum totals the positions accepted by include (nil accepts all). Positions
// whose dates cannot be resolved are counted as unparseable and add nothing.
func Sum(positions []Position, include func(Position) bool) Summary {
	var s Summary
	for _, p := range positions {
		if include != nil && !include(p) {
			continue
		}
		if !p.Dated() {
			s.Unparseable++
			continue
		}
		s.Days += p.Days()
		s.Counted++
	}
	s.Years = float64(s.Days) / DaysPerYear
	return s
}

// InRegion returns a filter accepting positions whose location normalizes to
// the given country.
func InRegion(n *normalize.Normalizer, country string) func(Position) bool {
	return func(p Position) bool {
		if p.Location == "" {
			return false
		}
		c, ok := n.Country(p.Location)
		return ok && c == country
	}
}
