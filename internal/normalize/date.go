package normalize

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var openEndedDates = map[string]bool{
	"present": true, "current": true, "now": true, "ongoing": true, "today": true,
}

// Layouts tried before falling back to dateparse, in order.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01",
	"2006/01",
	"01/2006",
	"Jan 2006",
	"January 2006",
	"Jan. 2006",
	"Jan, 2006",
	"January, 2006",
	"2006",
}

var ambiguousDateRe = regexp.MustCompile(`^(\d{1,2})([/.\-])(\d{1,2})([/.\-])(\d{2,4})$`)

// Date parses free-text dates into an RFC 3339 UTC timestamp. Open-ended
// markers ("present", "current") resolve to the processing time.
func (n *Normalizer) Date(raw string) (string, bool) {
	t, ok := n.ParseTime(raw)
	if !ok {
		return "", false
	}
	return t.Format(time.RFC3339), true
}

// ParseTime is Date without the final formatting step.
func (n *Normalizer) ParseTime(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if openEndedDates[strings.ToLower(s)] {
		return n.now, true
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
		return t.UTC(), true
	}

	// dd/mm/yyyy that dateparse read as mm/dd and rejected (day > 12).
	if m := ambiguousDateRe.FindStringSubmatch(s); m != nil {
		swapped := m[3] + m[2] + m[1] + m[4] + m[5]
		if t, err := dateparse.ParseIn(swapped, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// IsOpenEnded reports whether raw is a "still ongoing" marker or blank.
func IsOpenEnded(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	return s == "" || openEndedDates[s]
}
