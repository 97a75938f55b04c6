// Package strings normalizes the free-form code lists carried on claims and
// organizations.
package strings

import (
	"strings"
)

// NormalizeCodes trims, uppercases and deduplicates procedure, diagnosis and
// reason codes. Empty entries are dropped and first-seen order is kept.
// A nil or empty input returns nil.
func NormalizeCodes(values []string) []string {
	return normalize(values, strings.ToUpper)
}

// NormalizeTags is NormalizeCodes for lowercase tags such as specialties.
func NormalizeTags(values []string) []string {
	return normalize(values, strings.ToLower)
}

func normalize(values []string, fold func(string) string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = fold(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
