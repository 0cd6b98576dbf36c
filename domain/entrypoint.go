package domain

import (
	"regexp"
	"strings"
)

// mainPattern matches a C entry-point definition: a function named main
// returning an int, with arbitrary whitespace between tokens.
var mainPattern = regexp.MustCompile(`\bint\s+main\s*\(`)

// HasMainFunction reports whether the source text defines a C entry point.
func HasMainFunction(src string) bool {
	return mainPattern.MatchString(src)
}

// IsSourcePath reports whether the path is a C source or header file.
func IsSourcePath(p string) bool {
	lower := strings.ToLower(p)
	return strings.HasSuffix(lower, ".c") || strings.HasSuffix(lower, ".h")
}

// FilterSourcePaths selects the .c/.h blob paths from a tree listing,
// optionally bounded to a scope prefix (a directory path; empty means the
// whole repository).
func FilterSourcePaths(tree []TreeEntry, scopePrefix string) []string {
	var out []string
	for _, ent := range tree {
		if ent.Type != "blob" {
			continue
		}
		if !UnderScope(ent.Path, scopePrefix) {
			continue
		}
		if IsSourcePath(ent.Path) {
			out = append(out, ent.Path)
		}
	}
	return out
}

// UnderScope reports whether a repository path falls under a scope prefix.
// The empty prefix bounds nothing (whole repository).
func UnderScope(p, scopePrefix string) bool {
	if scopePrefix == "" {
		return true
	}
	prefix := strings.TrimRight(scopePrefix, "/")
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
