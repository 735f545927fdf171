package composer

import (
	"fmt"
	"regexp"
	"strings"
)

// markerPattern matches a single-line HTML-comment marker:
// <!-- orchestrix:key=value -->
var markerPattern = regexp.MustCompile(`(?m)^<!-- orchestrix:([a-z-]+)=(.*) -->$`)

// Marker keys the Status Reporter attaches to a sub-ticket body without
// touching the rest of its content.
const (
	MarkerAgentMessage  = "agent-message"
	MarkerToolsUsed     = "tools-used"
	MarkerRetryCount    = "retry-count"
	MarkerLastRetryTime = "last-retry-time"
)

// ParseMarkers extracts every orchestrix marker present in body.
func ParseMarkers(body string) map[string]string {
	out := map[string]string{}
	for _, match := range markerPattern.FindAllStringSubmatch(body, -1) {
		out[match[1]] = match[2]
	}
	return out
}

// SetMarker upserts a single marker line in body: replacing it in place if
// present, appending a new line otherwise. value must not contain a
// newline.
func SetMarker(body string, key string, value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	line := fmt.Sprintf("<!-- orchestrix:%s=%s -->", key, value)

	pattern := regexp.MustCompile(`(?m)^<!-- orchestrix:` + regexp.QuoteMeta(key) + `=.*? -->$`)
	if pattern.MatchString(body) {
		return pattern.ReplaceAllString(body, line)
	}

	trimmed := strings.TrimRight(body, "\n")
	if trimmed == "" {
		return line + "\n"
	}
	return trimmed + "\n" + line + "\n"
}
