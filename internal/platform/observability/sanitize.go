package observability

import (
	"strings"
	"unicode"
)

const (
	maxRouteLen   = 180
	maxMethodLen  = 10
	maxSubjectLen = 64
	maxAddrLen    = 64
)

// sanitize strips control characters (log-injection vectors) and truncates
// the value so a hostile header cannot bloat a log entry.
func sanitize(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, value)

	runes := []rune(cleaned)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}

func sanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitize(route, maxRouteLen)
}

func sanitizeMethod(method string) string {
	return sanitize(method, maxMethodLen)
}

func sanitizeSubject(subject string) string {
	return sanitize(subject, maxSubjectLen)
}
