package saltedge

import (
	"regexp"
	"strings"
)

// DefaultBaseURL targets the current API version.
const DefaultBaseURL = "https://www.saltedge.com/api/v6"

var apiVersionPattern = regexp.MustCompile(`(?i)/api/v\d+`)

// NormalizeBaseURL pins the base URL to API v6. A configured v5 URL is
// rewritten and reported as upgraded so the caller can warn.
func NormalizeBaseURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultBaseURL, false
	}

	upgraded := false
	if strings.Contains(raw, "/api/v5") {
		raw = strings.Replace(raw, "/api/v5", "/api/v6", 1)
		upgraded = true
	}

	if !apiVersionPattern.MatchString(raw) {
		raw = strings.TrimRight(raw, "/") + "/api/v6"
	}
	return strings.TrimRight(raw, "/"), upgraded
}
