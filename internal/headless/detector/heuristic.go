// Package detector decides when a statically fetched detail page has to be
// rendered again in a browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
	// RequiredMarkers lists byte strings a fully served page contains. When
	// set and none of them is present, the page is promoted.
	RequiredMarkers [][]byte
}

// DefaultRequiredMarkers matches the id suffix of the thematic criteria
// containers.
var DefaultRequiredMarkers = []string{"-criteria"}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int, markers ...string) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	h := &Heuristic{BodyLengthThreshold: threshold}
	for _, m := range markers {
		if m != "" {
			h.RequiredMarkers = append(h.RequiredMarkers, []byte(m))
		}
	}
	return h
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"__nuxt\""),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldPromote decides whether a headless render is required.
func (h *Heuristic) ShouldPromote(page crawler.Page) bool {
	if page.StatusCode < 200 || page.StatusCode > 299 {
		return false
	}
	body := page.Body
	if len(body) == 0 {
		return true
	}
	if len(h.RequiredMarkers) > 0 && !containsAny(body, h.RequiredMarkers) {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	return len(h.RequiredMarkers) == 0 && containsAny(body, spaMarkers)
}

func containsAny(body []byte, markers [][]byte) bool {
	for _, marker := range markers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0

	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
