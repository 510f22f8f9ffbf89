package observability

import (
	"strings"
	"unicode"
)

// sanitizeString removes control characters and keeps at most limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	var b strings.Builder
	b.Grow(min(len(value), limit))
	count := 0
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if count == limit {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

// SanitizeRoute bounds route patterns and paths written to logs and spans.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

func SanitizeMethod(method string) string {
	return sanitizeString(strings.ToUpper(method), 10)
}

// SanitizeStoreID bounds tenant identifiers taken from the URL.
func SanitizeStoreID(storeID string) string {
	return sanitizeString(storeID, 64)
}
