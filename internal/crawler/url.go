package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// IsAbsoluteURL reports whether raw carries a scheme and host.
func IsAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}

// ResolveURL resolves href against base and strips any fragment.
func ResolveURL(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("empty href")
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved.String(), nil
}

// IsCanonicalDetailURL reports whether raw points at a school profile page:
// its path lives under prefix and names an .html document.
func IsCanonicalDetailURL(raw, prefix string) bool {
	if prefix == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return false
	}
	p := u.EscapedPath()
	return strings.HasPrefix(p, prefix) && len(p) > len(prefix) && strings.HasSuffix(p, ".html")
}

// WithPage returns raw with its page query parameter set to page and the
// fragment replaced by anchor (dropped when anchor is empty).
func WithPage(raw string, page int, anchor string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	u.Fragment = anchor
	u.RawFragment = ""
	return u.String(), nil
}

// StripFragment drops the fragment of raw, returning raw unchanged when it
// cannot be parsed.
func StripFragment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// SchoolNameFromURL derives a display name from a detail page slug, e.g.
// ".../etablissement-hetic-7868.html" becomes "Etablissement Hetic 7868".
func SchoolNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	slug := strings.TrimSuffix(path.Base(u.Path), ".html")
	if slug == "" || slug == "." || slug == "/" {
		return ""
	}
	words := strings.ReplaceAll(slug, "-", " ")
	return cases.Title(language.French).String(words)
}
