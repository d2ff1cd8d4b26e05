package pagination

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits page_size.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps the supported page_size to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

// NormalizePageSize clamps size into [1, DefaultMaxPageSize], using DefaultPageSize for zero.
func NormalizePageSize(size int) int {
	switch {
	case size <= 0:
		return DefaultPageSize
	case size > DefaultMaxPageSize:
		return DefaultMaxPageSize
	default:
		return size
	}
}

// ParsePageSize parses the raw query value. Empty means the default.
func ParsePageSize(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultPageSize, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("pagination: page_size must be a positive integer")
	}
	return NormalizePageSize(size), nil
}
