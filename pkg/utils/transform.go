package utils

import (
	"strings"
)

// Dedup drops duplicate endpoints, ignoring trailing slashes.
func Dedup(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, e := range in {
		e = strings.TrimRight(strings.TrimSpace(e), "/")
		if e == "" {
			continue
		}
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// OptionalString returns nil for the empty string, which is how absent event arguments are stored.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
