package normalize

import "strings"

// legalSuffixes are entity suffixes dropped when comparing company names.
// Folded form, without the leading separator.
var legalSuffixes = []string{
	"llc", "l.l.c.", "l.l.c",
	"inc", "inc.", "incorporated",
	"corp", "corp.", "corporation",
	"ltd", "ltd.", "limited",
	"gmbh", "ag", "s.a.", "sa", "bv", "b.v.",
	"lp", "l.p.", "llp", "l.l.p.",
	"pc", "p.c.", "pllc",
	"co", "co.", "company",
	"plc", "p.l.c.",
}

var companyPunct = strings.NewReplacer(
	",", " ",
	".", "",
	"'", "",
	"\"", "",
	"&", " and ",
	"-", " ",
)

// CompanyName returns the comparison key for an organization name: folded,
// legal suffixes removed, punctuation stripped, whitespace collapsed.
// "Acme, Inc." and "ACME Incorporated" both yield "acme".
func CompanyName(name string) string {
	s := Fold(name)
	if s == "" {
		return ""
	}
	for {
		trimmed := false
		for _, suf := range legalSuffixes {
			if strings.HasSuffix(s, " "+suf) || strings.HasSuffix(s, ","+suf) {
				s = strings.TrimSpace(strings.TrimRight(s[:len(s)-len(suf)], " ,"))
				trimmed = true
				break
			}
		}
		if !trimmed {
			break
		}
	}
	s = companyPunct.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
