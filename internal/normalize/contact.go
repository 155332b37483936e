package normalize

import (
	"math"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/sells-group/record-gate/internal/model"
)

const minPhoneDigits = 7

// Phone formats a phone number as E.164 using region as the default country
// (the rule set's PhoneRegion when empty). Numbers libphonenumber rejects fall
// back to digits with an optional leading plus; fewer than seven digits yields
// false.
func (n *Normalizer) Phone(raw, region string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "tel:"), "TEL:")
	if s == "" {
		return "", false
	}
	if region == "" {
		region = n.rules.PhoneRegion
	}

	if num, err := phonenumbers.Parse(s, strings.ToUpper(region)); err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164), true
	}

	var b strings.Builder
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	if digits < minPhoneDigits {
		return "", false
	}
	return b.String(), true
}

// Email syntax-checks and lower-cases an address. Display names and mailto:
// prefixes are stripped.
func (n *Normalizer) Email(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if len(s) > 7 && strings.EqualFold(s[:7], "mailto:") {
		s = s[7:]
	}
	if s == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", false
	}
	out := strings.ToLower(addr.Address)
	if re, ok := n.rules.FormatPatterns["email"]; ok && !re.MatchString(out) {
		return "", false
	}
	return out, true
}

var (
	sizeRangeRe  = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(?:([km])\b)?\s*(?:-|–|—|to)\s*\d`)
	sizeNumberRe = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(?:([km])\b)?`)
)

// CompanySize parses employee counts: ranges take the lower bound
// ("1001-5000" -> 1001), open-ended values the stated floor ("500+" -> 500),
// and free text the first number ("about 2.5k staff" -> 2500).
func (n *Normalizer) CompanySize(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, v >= 0
	case int64:
		return int(v), v >= 0
	case float64:
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int(v), true
	}

	s, ok := model.ScalarString(raw)
	if !ok {
		return 0, false
	}
	s = strings.ToLower(s)

	m := sizeRangeRe.FindStringSubmatch(s)
	if m == nil {
		m = sizeNumberRe.FindStringSubmatch(s)
	}
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "k":
		f *= 1_000
	case "m":
		f *= 1_000_000
	}
	return int(f), true
}
