package normalize

import (
	"regexp"
	"strings"
)

var (
	countryTrimRe = regexp.MustCompile(`^[\s\p{P}]+|[\s\p{P}]+$`)
	upperCodeRe   = regexp.MustCompile(`\b[A-Z]{2,3}\b`)
	postalCodeRe  = regexp.MustCompile(`^(\d{5}(-\d{4})?|[A-Za-z]\d[A-Za-z] ?\d[A-Za-z]\d)$`)
)

// Country maps a country or location string to a canonical country name.
// Resolution order: exact alias, comma-separated components (last first,
// regional codes and names included, see regionOrCountry for codes that are
// both), upper-case two/three letter codes, then a whole-word substring match. Unresolved input comes back unchanged with
// false.
func (n *Normalizer) Country(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	if c, ok := n.lookupAlias(s); ok {
		return c, true
	}

	parts := strings.Split(s, ",")
	if len(parts) > 1 {
		for i := len(parts) - 1; i >= 0; i-- {
			p := strings.TrimSpace(parts[i])
			if p == "" {
				continue
			}
			if i == 0 {
				if c, ok := n.lookupAlias(p); ok {
					return c, true
				}
				continue
			}
			if c, ok := n.regionOrCountry(p, false); ok {
				return c, true
			}
			// "CA 94043" style trailing component
			if f := strings.Fields(p); len(f) > 1 {
				if c, ok := n.regionOrCountry(f[0], postalCodeRe.MatchString(strings.Join(f[1:], " "))); ok {
					return c, true
				}
			}
		}
	}

	for _, code := range upperCodeRe.FindAllString(s, -1) {
		if c, ok := n.lookupAlias(code); ok {
			return c, true
		}
	}

	folded := " " + Fold(s) + " "
	for _, alias := range n.aliasesByLen {
		if containsWord(folded, alias) {
			return n.rules.CountryAliases[alias], true
		}
	}
	for _, name := range n.regionNames {
		if containsWord(folded, name) {
			return n.rules.Subdivisions[name], true
		}
	}
	return s, false
}

// regionOrCountry resolves a trailing location component. A code that is
// both a subdivision and a country alias reads as the subdivision only when
// a postal code backs it, else as CodePreference says, else as the country.
func (n *Normalizer) regionOrCountry(p string, postal bool) (string, bool) {
	sub, isSub := n.lookupSubdivision(p)
	country, isCountry := n.lookupAlias(p)
	switch {
	case isSub && isCountry:
		if postal {
			return sub, true
		}
		if c, ok := n.rules.CodePreference[countryTrimRe.ReplaceAllString(Fold(p), "")]; ok {
			return c, true
		}
		return country, true
	case isSub:
		return sub, true
	case isCountry:
		return country, true
	}
	return "", false
}

func (n *Normalizer) lookupAlias(s string) (string, bool) {
	return lookup(n.rules.CountryAliases, s)
}

func (n *Normalizer) lookupSubdivision(s string) (string, bool) {
	return lookup(n.rules.Subdivisions, s)
}

// lookup tries the folded key as-is, then with surrounding punctuation
// trimmed, then with a single trailing dot ("u.s.a" vs "u.s.a.").
func lookup(table map[string]string, s string) (string, bool) {
	f := Fold(s)
	trimmed := countryTrimRe.ReplaceAllString(f, "")
	for _, k := range []string{f, trimmed, trimmed + "."} {
		if c, ok := table[k]; ok {
			return c, true
		}
	}
	return "", false
}

// containsWord reports whether word occurs in padded text bounded by
// non-letters on both sides.
func containsWord(padded, word string) bool {
	idx := 0
	for {
		i := strings.Index(padded[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		if !isLetter(padded[start-1]) && (end >= len(padded) || !isLetter(padded[end])) {
			return true
		}
		idx = start + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b >= 0x80
}
