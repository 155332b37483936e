package rules

func defaultCountryAliases() map[string]string {
	table := map[string][]string{
		"United States": {
			"united states", "us", "u.s.", "usa", "u.s.a.", "united states of america",
			"the united states", "estados unidos",
		},
		"United Kingdom": {
			"united kingdom", "uk", "u.k.", "gb", "great britain", "britain",
			"england", "scotland", "wales", "northern ireland",
		},
		"Canada":               {"canada", "ca", "can"},
		"Germany":              {"germany", "de", "deutschland"},
		"France":               {"france", "fr"},
		"India":                {"india", "in", "ind"},
		"Australia":            {"australia", "au", "aus"},
		"Netherlands":          {"netherlands", "the netherlands", "nl", "holland"},
		"Spain":                {"spain", "es", "espana"},
		"Mexico":               {"mexico", "mx"},
		"Brazil":               {"brazil", "br", "brasil"},
		"Japan":                {"japan", "jp"},
		"China":                {"china", "cn", "prc", "people's republic of china"},
		"Ireland":              {"ireland", "ie", "eire"},
		"Singapore":            {"singapore", "sg"},
		"Switzerland":          {"switzerland", "ch", "schweiz", "suisse"},
		"Sweden":               {"sweden", "se", "sverige"},
		"Italy":                {"italy", "it", "italia"},
		"Israel":               {"israel", "il"},
		"United Arab Emirates": {"united arab emirates", "uae", "ae"},
		"South Korea":          {"south korea", "korea", "kr", "republic of korea"},
		"New Zealand":          {"new zealand", "nz"},
		"Poland":               {"poland", "pl", "polska"},
		"Portugal":             {"portugal", "pt"},
	}
	out := make(map[string]string)
	for canonical, aliases := range table {
		for _, a := range aliases {
			out[a] = canonical
		}
	}
	return out
}

// defaultCodePreference keeps the usual US reading of "City, CA" and
// "City, IL"; the other clashing codes read as countries.
func defaultCodePreference() map[string]string {
	return map[string]string{
		"ca": "United States",
		"il": "United States",
		"de": "Germany",
		"in": "India",
		"nl": "Netherlands",
	}
}

func defaultSubdivisions() map[string]string {
	us := map[string]string{
		"al": "alabama", "ak": "alaska", "az": "arizona", "ar": "arkansas",
		"ca": "california", "co": "colorado", "ct": "connecticut", "de": "delaware",
		"fl": "florida", "ga": "georgia", "hi": "hawaii", "id": "idaho",
		"il": "illinois", "in": "indiana", "ia": "iowa", "ks": "kansas",
		"ky": "kentucky", "la": "louisiana", "me": "maine", "md": "maryland",
		"ma": "massachusetts", "mi": "michigan", "mn": "minnesota", "ms": "mississippi",
		"mo": "missouri", "mt": "montana", "ne": "nebraska", "nv": "nevada",
		"nh": "new hampshire", "nj": "new jersey", "nm": "new mexico", "ny": "new york",
		"nc": "north carolina", "nd": "north dakota", "oh": "ohio", "ok": "oklahoma",
		"or": "oregon", "pa": "pennsylvania", "ri": "rhode island", "sc": "south carolina",
		"sd": "south dakota", "tn": "tennessee", "tx": "texas", "ut": "utah",
		"vt": "vermont", "va": "virginia", "wa": "washington", "wv": "west virginia",
		"wi": "wisconsin", "wy": "wyoming", "dc": "district of columbia",
	}
	ca := map[string]string{
		"on": "ontario", "qc": "quebec", "bc": "british columbia", "ab": "alberta",
		"mb": "manitoba", "sk": "saskatchewan", "ns": "nova scotia",
		"nb": "new brunswick", "nl": "newfoundland and labrador", "pe": "prince edward island",
	}
	out := make(map[string]string, 2*(len(us)+len(ca)))
	for code, name := range us {
		out[code] = "United States"
		out[name] = "United States"
	}
	for code, name := range ca {
		out[code] = "Canada"
		out[name] = "Canada"
	}
	return out
}
