package evidence

import (
	"net/http"
	"strings"
)

// BlockType names the kind of interstitial served instead of a page.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
	BlockLogin      BlockType = "login_wall"
	BlockMarker     BlockType = "marker"
)

// shellMaxBytes is the size under which a script-only page counts as a shell.
const shellMaxBytes = 2000

type blockSignature struct {
	kind  BlockType
	match func(resp *http.Response, lower string, size int) bool
}

// signatures are checked in order; the first match names the block.
var signatures = []blockSignature{
	{BlockCloudflare, func(resp *http.Response, _ string, _ int) bool {
		if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusServiceUnavailable {
			return false
		}
		return resp.Header.Get("Cf-Ray") != "" ||
			resp.Header.Get("Cf-Cache-Status") != "" ||
			strings.EqualFold(resp.Header.Get("Server"), "cloudflare")
	}},
	{BlockCloudflare, func(_ *http.Response, lower string, _ int) bool {
		return containsAny(lower, "checking your browser", "cf-browser-verification", "cf-chl-") ||
			(strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge"))
	}},
	{BlockCaptcha, func(_ *http.Response, lower string, _ int) bool {
		return containsAny(lower, "captcha", "are you a robot", "verify you are human")
	}},
	{BlockLogin, func(resp *http.Response, lower string, _ int) bool {
		if resp.StatusCode == http.StatusUnauthorized {
			return true
		}
		return strings.Contains(lower, "authwall") || strings.Contains(lower, "sign in to view")
	}},
	{BlockJSShell, func(_ *http.Response, lower string, size int) bool {
		if size >= shellMaxBytes {
			return false
		}
		return (strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript")) ||
			strings.Contains(lower, `http-equiv="refresh"`)
	}},
}

// DetectBlock reports whether a response is an anti-bot or login
// interstitial rather than the page itself. Extra markers are
// case-insensitive substrings checked after the built-in signatures. A
// blocked page is never evidence for a record.
func DetectBlock(resp *http.Response, body []byte, markers ...string) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}
	lower := strings.ToLower(string(body))
	for _, sig := range signatures {
		if sig.match(resp, lower, len(body)) {
			return true, sig.kind
		}
	}
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true, BlockMarker
		}
	}
	return false, BlockNone
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
