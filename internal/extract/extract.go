// Package extract turns ranking, detail and search markup into records.
// Every accessor is total: a missing sub-element yields an empty value or the
// NotAvailable sentinel, and a failing row never discards its siblings.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
)

// Link is a school name paired with the href of its profile anchor.
type Link struct {
	Name string
	URL  string
}

// CriteriaResult holds the rows of one detail page and how many of the
// configured thematic sections were present.
type CriteriaResult struct {
	Records     []crawler.CriterionRecord
	ThemesFound int
}

// ReviewPage holds the records of one review page and how many review
// cards matched, parsed or not.
type ReviewPage struct {
	Records []crawler.ReviewRecord
	Cards   int
}

// Extractor applies a Selectors configuration to parsed documents.
type Extractor struct {
	sel    Selectors
	base   *url.URL
	logger *zap.Logger
}

// New builds an Extractor. A nil logger disables gap logging.
func New(sel Selectors, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{sel: sel, logger: logger}
}

// WithBase returns a copy of e resolving hrefs against base instead of the
// URL of the page they were found on. A nil base keeps page resolution.
func (e *Extractor) WithBase(base *url.URL) *Extractor {
	cp := *e
	cp.base = base
	return &cp
}

func (e *Extractor) resolveBase(pageURL *url.URL) *url.URL {
	if e.base != nil {
		return e.base
	}
	return pageURL
}

// Parse builds a document from raw markup.
func Parse(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return doc, nil
}

// Links returns every labelled anchor of doc paired with the text of the
// nearest heading preceding it. Anchors without a heading are skipped.
func (e *Extractor) Links(doc *goquery.Document, page *url.URL) []Link {
	sel := e.sel.Links
	links := make([]Link, 0)
	heading := ""
	headingSeen := false
	pageURL := urlString(page)
	base := e.resolveBase(page)

	doc.Find(sel.Heading + ", " + sel.Anchor).Each(func(_ int, s *goquery.Selection) {
		if s.Is(sel.Heading) {
			heading = crawler.CollapseSpace(s.Text())
			headingSeen = heading != ""
			return
		}
		label := crawler.CollapseSpace(s.Text())
		if !matchesAny(label, sel.Labels) {
			return
		}
		if !headingSeen {
			e.gap(pageURL, sel.Heading, "profile link without preceding heading")
			return
		}
		href, _ := s.Attr("href")
		resolved, err := crawler.ResolveURL(base, href)
		if err != nil {
			e.gap(pageURL, sel.Anchor, err.Error())
			return
		}
		links = append(links, Link{Name: heading, URL: resolved})
	})
	return links
}

// Reviews extracts one ReviewRecord per review card of doc. Cards that fail
// to parse are skipped but still counted in Cards.
func (e *Extractor) Reviews(doc *goquery.Document, school, sourceURL string) ReviewPage {
	cards := doc.Find(e.sel.Reviews.Card)
	records := Collect(cards, func(card *goquery.Selection) (crawler.ReviewRecord, error) {
		return e.parseReview(card, school, sourceURL)
	}, func(i int, err error) {
		e.logger.Warn("skipping review card",
			zap.String("url", sourceURL),
			zap.Int("index", i),
			zap.Error(err),
		)
	})
	return ReviewPage{Records: records, Cards: cards.Length()}
}

func (e *Extractor) parseReview(card *goquery.Selection, school, sourceURL string) (crawler.ReviewRecord, error) {
	sel := e.sel.Reviews
	line := card.Find(sel.AuthorLine)
	ratingNode := card.Find(sel.Rating)
	contentNode := card.Find(sel.Content)
	if line.Length() == 0 && ratingNode.Length() == 0 && contentNode.Length() == 0 {
		return crawler.ReviewRecord{}, ErrEmptyRow
	}

	author, date := "", ""
	if line.Length() > 0 {
		author = text(line.First().Find(sel.Author))
		date = splitDate(text(line), author, sel.DatePhrase)
	} else {
		e.gap(sourceURL, sel.AuthorLine, "review without author line")
	}

	rating, err := ParseDecimal(text(ratingNode))
	if err != nil {
		e.gap(sourceURL, sel.Rating, err.Error())
	}

	return crawler.ReviewRecord{
		School:    school,
		Author:    author,
		Date:      date,
		Rating:    rating,
		Content:   text(contentNode),
		SourceURL: sourceURL,
	}, nil
}

// splitDate removes the author and the date phrase from the author line.
func splitDate(line, author, phrase string) string {
	if author != "" {
		line = strings.ReplaceAll(line, author, "")
	}
	if phrase != "" {
		line = strings.ReplaceAll(line, phrase, "")
	}
	return strings.TrimSpace(line)
}

// Criteria extracts the scoring rows of every configured theme. A theme
// whose criteria container is missing is logged and skipped.
func (e *Extractor) Criteria(
	doc *goquery.Document,
	themes crawler.ThemeSet,
	school, sourceURL string,
) CriteriaResult {
	sel := e.sel.Criteria
	result := CriteriaResult{Records: make([]crawler.CriterionRecord, 0)}
	for _, id := range themes {
		title := text(doc.Find(idSuffix(sel.Container, id, sel.HeaderSuffix)).First().Find(sel.Title))
		if title == "" {
			title = fmt.Sprintf("Thématique %d", id)
		}

		container := doc.Find(idSuffix(sel.Container, id, sel.CriteriaSuffix)).First()
		if container.Length() == 0 {
			e.logger.Info("thematic section not found",
				zap.String("school", school),
				zap.Int("theme_id", id),
				zap.String("url", sourceURL),
			)
			continue
		}
		result.ThemesFound++

		rows := Collect(container.Find(sel.Row), func(row *goquery.Selection) (crawler.CriterionRecord, error) {
			return e.parseCriterion(row, id, title, school)
		}, func(i int, err error) {
			e.logger.Warn("skipping criterion row",
				zap.String("school", school),
				zap.Int("theme_id", id),
				zap.Int("index", i),
				zap.Error(err),
			)
		})
		result.Records = append(result.Records, rows...)
	}
	return result
}

var errMissingLabel = errors.New("criterion label missing")

func (e *Extractor) parseCriterion(row *goquery.Selection, id int, title, school string) (crawler.CriterionRecord, error) {
	sel := e.sel.Criteria
	label := row.Find(sel.Label)
	if label.Length() == 0 {
		return crawler.CriterionRecord{}, errMissingLabel
	}
	rec := crawler.CriterionRecord{
		School:         school,
		ThemeTitle:     title,
		ThemeID:        id,
		CriterionLabel: text(label),
		RawNote:        textOr(row.Find(sel.Note), NotAvailable),
	}
	if score := textOr(row.Find(sel.Score), NotAvailable); score != NotAvailable {
		v, err := ParseDecimal(score)
		if err != nil {
			e.logger.Debug("criterion score not numeric", zap.String("score", score), zap.Error(err))
		}
		rec.ScoreOf10 = v
	}
	return rec, nil
}

// SearchResult returns the first anchor of a search result page whose href
// contains pathPrefix, resolved with its fragment stripped.
func (e *Extractor) SearchResult(doc *goquery.Document, page *url.URL, pathPrefix string) (string, bool) {
	var found string
	base := e.resolveBase(page)
	doc.Find(e.sel.Search.Anchor).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok || !strings.Contains(href, pathPrefix) {
			return true
		}
		resolved, err := crawler.ResolveURL(base, href)
		if err != nil {
			return true
		}
		found = resolved
		return false
	})
	return found, found != ""
}

func (e *Extractor) gap(pageURL, selector, reason string) {
	e.logger.Debug("extraction gap", zap.Error(&crawler.ExtractionGap{
		URL:      pageURL,
		Selector: selector,
		Reason:   reason,
	}))
}

func idSuffix(container string, id int, suffix string) string {
	return fmt.Sprintf("%s[id$='%d%s']", container, id, suffix)
}

func matchesAny(label string, labels []string) bool {
	for _, l := range labels {
		if l != "" && crawler.ContainsFold(label, l) {
			return true
		}
	}
	return false
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}
