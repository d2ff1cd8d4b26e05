package observability

import (
	"strings"
	"unicode"
)

// sanitizeString drops control characters and truncates to limit runes so request data cannot
// forge log lines.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	var b strings.Builder
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID bounds actor ids written to logs.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, 64)
}
