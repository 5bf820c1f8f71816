package crawler

import (
	"slices"
	"time"
)

// SchoolRef identifies one school and the detail page(s) describing it.
type SchoolRef struct {
	Name         string `json:"name"`
	CanonicalURL string `json:"url"`
	AltURL       string `json:"alt_url,omitempty"`
}

// Key returns the deduplication key of the school.
func (s SchoolRef) Key() string {
	return NormalizeName(s.Name)
}

// ReviewRecord is one authenticated review found on a detail page.
type ReviewRecord struct {
	School    string   `json:"school"`
	Author    string   `json:"author"`
	Date      string   `json:"date"`
	Rating    *float64 `json:"rating,omitempty"`
	Content   string   `json:"content"`
	SourceURL string   `json:"source_url"`
}

// CriterionRecord is one scoring row inside a thematic section.
type CriterionRecord struct {
	School         string   `json:"school"`
	ThemeTitle     string   `json:"theme_title"`
	ThemeID        int      `json:"theme_id"`
	CriterionLabel string   `json:"criterion_label"`
	ScoreOf10      *float64 `json:"score_of_10,omitempty"`
	// RawNote keeps the note text as published, including sentinels like "N/A".
	RawNote string `json:"raw_note"`
}

// Page is the markup returned by a Fetcher or Renderer.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Duration   time.Duration
	UsedJS     bool
}

// ContentLength reports the body size in bytes.
func (p Page) ContentLength() int {
	return len(p.Body)
}

// ThemeSet is the fixed set of thematic identifiers a run may emit.
type ThemeSet []int

// Contains reports whether id belongs to the set.
func (t ThemeSet) Contains(id int) bool {
	return slices.Contains(t, id)
}

// DefaultThemeIDs are the six thematic sections published on detail pages.
var DefaultThemeIDs = ThemeSet{425, 426, 427, 429, 430, 431}
