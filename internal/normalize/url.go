package normalize

import (
	"net/url"
	"strings"
)

// ProfileKind classifies what a social profile URL points at.
type ProfileKind string

const (
	ProfilePerson ProfileKind = "person"
	ProfileOrg    ProfileKind = "org"
	ProfileUser   ProfileKind = "user"
)

// Profile is a normalized social profile link.
type Profile struct {
	URL        string      `json:"url"`
	Platform   string      `json:"platform,omitempty"`
	Kind       ProfileKind `json:"kind,omitempty"`
	Slug       string      `json:"slug,omitempty"`
	Normalized bool        `json:"normalized"`
}

// URL canonicalizes a web address: lower-case scheme and host, tracking
// parameters removed, fragment dropped, trailing slash stripped (the root
// path stays "/"). A missing scheme defaults to https.
func (n *Normalizer) URL(raw string) (string, bool) {
	u, ok := parseWebURL(raw)
	if !ok {
		return "", false
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if n.isTrackingParam(key) {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}

	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		p = "/"
	}
	u.Path = p
	u.RawPath = ""

	return u.String(), true
}

func (n *Normalizer) isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	for _, p := range n.rules.TrackingParams {
		if k == p {
			return true
		}
	}
	for _, prefix := range n.rules.TrackingPrefixes {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func parseWebURL(raw string) (*url.URL, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return nil, false
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		if strings.Contains(s, "://") {
			return nil, false
		}
		s = "https://" + strings.TrimPrefix(s, "//")
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || !strings.Contains(u.Hostname(), ".") {
		return nil, false
	}
	return u, true
}

// SocialProfile extracts the platform slug from a LinkedIn, X/Twitter or
// GitHub link and rebuilds it as https://<platform>/<path>. Unrecognized
// shapes come back unchanged with Normalized false.
func (n *Normalizer) SocialProfile(raw string) Profile {
	passthrough := Profile{URL: strings.TrimSpace(raw)}

	u, ok := parseWebURL(raw)
	if !ok {
		return passthrough
	}
	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "m.", "mobile.", "uk.", "ca.", "in."} {
		host = strings.TrimPrefix(host, prefix)
	}
	segs := pathSegments(u.Path)

	switch host {
	case "linkedin.com":
		if len(segs) < 2 {
			return passthrough
		}
		slug := strings.ToLower(segs[1])
		switch strings.ToLower(segs[0]) {
		case "in", "pub":
			return Profile{URL: "https://linkedin.com/in/" + slug, Platform: "linkedin", Kind: ProfilePerson, Slug: slug, Normalized: true}
		case "company", "school", "showcase":
			return Profile{URL: "https://linkedin.com/company/" + slug, Platform: "linkedin", Kind: ProfileOrg, Slug: slug, Normalized: true}
		}
	case "twitter.com", "x.com":
		if len(segs) == 0 || reservedXPaths[strings.ToLower(segs[0])] {
			return passthrough
		}
		handle := strings.ToLower(strings.TrimPrefix(segs[0], "@"))
		return Profile{URL: "https://x.com/" + handle, Platform: "x", Kind: ProfileUser, Slug: handle, Normalized: true}
	case "github.com":
		if len(segs) == 0 {
			return passthrough
		}
		name := strings.ToLower(segs[0])
		kind := ProfileUser
		if name == "orgs" && len(segs) > 1 {
			name, kind = strings.ToLower(segs[1]), ProfileOrg
		}
		if reservedGitHubPaths[name] {
			return passthrough
		}
		return Profile{URL: "https://github.com/" + name, Platform: "github", Kind: kind, Slug: name, Normalized: true}
	}
	return passthrough
}

var reservedXPaths = map[string]bool{
	"i": true, "home": true, "intent": true, "share": true, "search": true,
	"hashtag": true, "explore": true, "settings": true, "login": true,
}

var reservedGitHubPaths = map[string]bool{
	"features": true, "about": true, "pricing": true, "topics": true,
	"marketplace": true, "explore": true, "login": true, "settings": true,
	"orgs": true, "sponsors": true,
}

func pathSegments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
