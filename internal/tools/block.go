package tools

import (
	"net/http"
	"strings"
)

// Pages larger than this carry real content even when they mention a
// captcha (contact forms, login widgets).
const blockScanBytes = 16 << 10

// blockReason reports what kind of anti-bot wall a response is, or "" when
// it looks like the page itself.
func blockReason(resp *http.Response, body []byte) string {
	if resp == nil {
		return ""
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("Cf-Ray") != "" || strings.EqualFold(resp.Header.Get("Server"), "cloudflare") {
			return "cloudflare"
		}
	}
	if len(body) > blockScanBytes {
		return ""
	}

	lower := strings.ToLower(string(body))
	switch {
	case strings.Contains(lower, "checking your browser"),
		strings.Contains(lower, "cf-browser-verification"),
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge"):
		return "cloudflare"
	case strings.Contains(lower, "captcha"):
		return "captcha"
	case strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript"),
		strings.Contains(lower, `http-equiv="refresh"`):
		return "javascript-only"
	}
	return ""
}
