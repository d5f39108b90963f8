package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a duration string from config. Empty input
// yields zero with no error so callers can apply their own defaults.
func ParseDurationField(field, value string) (time.Duration, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	return d, nil
}

// DurationOrDefault parses value, falling back to def when the value is
// empty or does not parse.
func DurationOrDefault(value string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", value)
	if err != nil || d == 0 {
		return def
	}
	return d
}
