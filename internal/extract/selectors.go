package extract

// LinkSelectors locate the "view profile" anchors of a ranking page.
type LinkSelectors struct {
	Anchor string
	// Labels are matched as case-insensitive substrings of the anchor text.
	Labels  []string
	Heading string
}

// ReviewSelectors describe one authenticated review card.
type ReviewSelectors struct {
	Card       string
	AuthorLine string
	Author     string
	Rating     string
	Content    string
	// DatePhrase is removed from the author line to leave the date.
	DatePhrase string
}

// CriteriaSelectors describe the thematic sections of a detail page.
type CriteriaSelectors struct {
	Container      string
	HeaderSuffix   string
	CriteriaSuffix string
	Title          string
	Row            string
	Label          string
	Score          string
	Note           string
}

// SearchSelectors describe the result page of the site search.
type SearchSelectors struct {
	Anchor string
}

// Selectors groups every structural selector the extractor relies on.
type Selectors struct {
	Links    LinkSelectors
	Reviews  ReviewSelectors
	Criteria CriteriaSelectors
	Search   SearchSelectors
}

// NotAvailable is the sentinel stored for absent criterion fields.
const NotAvailable = "N/A"

// DefaultSelectors returns the selectors matching letudiant.fr markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Links: LinkSelectors{
			Anchor:  "a[href]",
			Labels:  []string{"full profile", "voir la fiche complète"},
			Heading: "h1, h2, h3, h4, h5, h6",
		},
		Reviews: ReviewSelectors{
			Card:       "div.tw-w-full.tw-mb-2.tw-border-solid.tw-border.tw-border-gray-500.tw-rounded-large",
			AuthorLine: "p.tw-text-sans",
			Author:     "span.tw-font-medium",
			Rating:     "span.tw-text-primary.tw-font-heading",
			Content:    "p.tw-break-words",
			DatePhrase: "a publié un avis le",
		},
		Criteria: CriteriaSelectors{
			Container:      "div",
			HeaderSuffix:   "-header",
			CriteriaSuffix: "-criteria",
			Title:          "h2",
			Row:            "div.criterion-row",
			Label:          "span.tw-font-medium",
			Score:          "div.tw-bg-ranking-green",
			Note:           "div.tw-text-right",
		},
		Search: SearchSelectors{
			Anchor: "a[href]",
		},
	}
}
