package crawler

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName lower-cases name, keeps the part before the first hyphen
// (dropping campus suffixes such as "Ecole X - Lyon") and trims it.
func NormalizeName(name string) string {
	n := strings.ToLower(norm.NFC.String(name))
	if i := strings.Index(n, "-"); i >= 0 {
		n = n[:i]
	}
	return strings.TrimSpace(n)
}

// CollapseSpace trims s and folds every whitespace run into one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ContainsFold reports whether needle occurs in haystack, ignoring case.
func ContainsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
