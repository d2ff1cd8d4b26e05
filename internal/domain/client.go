package domain

import (
	"strings"

	"golang.org/x/text/width"
)

// NormalizePhoneNumber folds full-width characters and strips separators so that the same number
// typed two ways deduplicates to one client. A leading plus sign is kept. The result is empty when
// the input holds no digits.
func NormalizePhoneNumber(raw string) string {
	folded := width.Fold.String(strings.TrimSpace(raw))
	var b strings.Builder
	b.Grow(len(folded))
	for i, r := range folded {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.Trim(out, "+") == "" {
		return ""
	}
	return out
}
