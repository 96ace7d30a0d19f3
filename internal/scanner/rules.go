package scanner

import (
	"path"
	"path/filepath"
	"strings"
)

// DefaultExcludes are skipped when no exclusion list is configured.
var DefaultExcludes = []string{
	"venv", ".venv", "node_modules", "__pycache__",
	"*.pyc", ".git/objects", "dist", "build",
	".cache", "*.log", "*.tmp", "*.swp",
}

// Rules decides which paths are left out of size computation and transfer.
//
// A pattern is one of:
//   - a literal base name ("node_modules")
//   - a glob on the base name ("*.pyc")
//   - a slash path matched as a suffix of the relative path (".git/objects")
type Rules struct {
	patterns []string
}

// NewRules builds rules from patterns, dropping blanks.
func NewRules(patterns []string) Rules {
	r := Rules{}
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			r.patterns = append(r.patterns, strings.Trim(filepath.ToSlash(p), "/"))
		}
	}
	return r
}

// Patterns returns the rule patterns in the form handed to the sync tool.
func (r Rules) Patterns() []string {
	return append([]string(nil), r.patterns...)
}

// Match reports whether rel, a slash-separated path relative to a scanned unit, is excluded.
func (r Rules) Match(rel string) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}
	base := path.Base(rel)

	for _, p := range r.patterns {
		switch {
		case strings.Contains(p, "/"):
			if rel == p || strings.HasSuffix(rel, "/"+p) {
				return true
			}
		case strings.ContainsAny(p, "*?["):
			if ok, _ := path.Match(p, base); ok {
				return true
			}
		case base == p:
			return true
		}
	}
	return false
}
