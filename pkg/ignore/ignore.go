// Package ignore holds the single noise-directory and dotfile filter shared
// by the scanner and the agent toolkit's list_directory tool, so the two
// components can never disagree about what counts as signal.
package ignore

import "strings"

var noiseDirs = map[string]bool{
	".git":             true,
	"node_modules":     true,
	"__pycache__":      true,
	"venv":             true,
	".venv":            true,
	"dist":             true,
	"build":            true,
	"target":           true,
	".mypy_cache":      true,
	".pytest_cache":    true,
	".docbot":          true,
}

// IsNoiseDir reports whether name (a single path segment, not a full path)
// is one of the directories scanning and browsing should skip entirely.
func IsNoiseDir(name string) bool {
	return noiseDirs[name]
}

// IsHidden reports whether name is a dotfile that should be hidden from
// directory listings, except .gitignore which is always shown since it is
// frequently useful context for an exploring agent.
func IsHidden(name string) bool {
	if name == ".gitignore" {
		return false
	}
	return strings.HasPrefix(name, ".")
}
