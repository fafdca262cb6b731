// Package slug derives and validates scope_id slugs: lowercase [a-z0-9_]+.
package slug

import (
	"regexp"
	"strings"
)

var (
	validPattern   = regexp.MustCompile(`^[a-z0-9_]+$`)
	nonSlugPattern = regexp.MustCompile(`[^a-z0-9_]+`)
)

// Valid reports whether s is already a well-formed slug.
func Valid(s string) bool { return s != "" && validPattern.MatchString(s) }

// From derives a slug from an arbitrary path or title: lowercases, replaces
// path separators and non-slug runs with underscores, and trims repeats.
func From(s string) string {
	lowered := strings.ToLower(s)
	lowered = strings.ReplaceAll(lowered, "/", "_")
	lowered = strings.ReplaceAll(lowered, string(filepathSeparator), "_")
	result := nonSlugPattern.ReplaceAllString(lowered, "_")
	result = strings.Trim(result, "_")
	for strings.Contains(result, "__") {
		result = strings.ReplaceAll(result, "__", "_")
	}
	if result == "" {
		return "root"
	}
	return result
}

const filepathSeparator = '\\'
