package detail

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
	"github.com/JakeFAU/ecoles-crawler/internal/extract"
)

// ReviewOutcome is the review stream of one school.
type ReviewOutcome struct {
	Records      []crawler.ReviewRecord
	URL          string
	Pages        int
	UsedFallback bool
}

// reviewAttempt is the result of walking one URL's review pages.
type reviewAttempt struct {
	records []crawler.ReviewRecord
	url     string
	pages   int
	err     error
}

// CrawlReviews walks the review pages of school, falling back to its
// alternate URL when the primary yields nothing or fails.
func (c *Crawler) CrawlReviews(ctx context.Context, school crawler.SchoolRef) (ReviewOutcome, error) {
	if school.Name == "" {
		school.Name = crawler.SchoolNameFromURL(school.CanonicalURL)
	}
	return c.crawlReviews(ctx, crawler.NewPacer(c.cfg.Delay), school)
}

func (c *Crawler) crawlReviews(ctx context.Context, pacer *crawler.Pacer, school crawler.SchoolRef) (ReviewOutcome, error) {
	primary := c.reviewAttempt(ctx, pacer, school.Name, school.CanonicalURL)
	if primary.err == nil && len(primary.records) > 0 {
		return primary.outcome(false), nil
	}
	if school.AltURL == "" || ctx.Err() != nil {
		if len(primary.records) > 0 {
			c.warnPartial(school.Name, primary)
			return primary.outcome(false), nil
		}
		return primary.outcome(false), primary.err
	}

	c.logger.Info("retrying reviews on alternate url",
		zap.String("school", school.Name),
		zap.String("primary", primary.url),
		zap.String("alt", school.AltURL),
		zap.Int("primary_rows", len(primary.records)),
		zap.NamedError("primary_error", primary.err),
	)
	alt := c.reviewAttempt(ctx, pacer, school.Name, school.AltURL)
	if len(alt.records) > 0 {
		c.warnPartial(school.Name, alt)
		return alt.outcome(true), nil
	}
	if len(primary.records) > 0 {
		// Partial primary rows beat an empty fallback.
		c.warnPartial(school.Name, primary)
		return primary.outcome(false), nil
	}
	switch {
	case primary.err != nil && alt.err != nil:
		return primary.outcome(false), errors.Join(primary.err, alt.err)
	case primary.err != nil:
		return alt.outcome(true), nil
	default:
		if alt.err != nil {
			c.logger.Warn("alternate review url failed",
				zap.String("school", school.Name),
				zap.String("alt", alt.url),
				zap.Error(alt.err),
			)
		}
		return primary.outcome(false), nil
	}
}

// reviewAttempt walks base?page=N#anchor from page 1. It stops on a page with
// fewer review cards than a full page; the short page's rows are kept.
// Unparsable cards still count toward a full page. A fetch error ends the attempt and keeps the rows collected so far.
func (c *Crawler) reviewAttempt(ctx context.Context, pacer *crawler.Pacer, school, rawURL string) reviewAttempt {
	base := crawler.StripFragment(rawURL)
	att := reviewAttempt{url: base, records: make([]crawler.ReviewRecord, 0)}
	if !crawler.IsAbsoluteURL(base) {
		att.err = fmt.Errorf("%w: %q", crawler.ErrRelativeURL, rawURL)
		return att
	}
	for p := 1; p <= c.cfg.MaxReviewPages; p++ {
		pageURL, err := crawler.WithPage(base, p, c.cfg.ReviewAnchor)
		if err != nil {
			att.err = err
			return att
		}
		page, err := crawler.FetchPaced(ctx, c.fetcher, pacer, c.retry, pageURL, c.logger)
		if err != nil {
			att.err = fmt.Errorf("review page %d: %w", p, err)
			return att
		}
		att.pages++
		doc, err := extract.Parse(page.Body)
		if err != nil {
			att.err = fmt.Errorf("review page %d: %w", p, err)
			return att
		}
		rp := c.extractor.Reviews(doc, school, base)
		att.records = append(att.records, rp.Records...)
		c.logger.Debug("review page crawled",
			zap.String("school", school),
			zap.Int("page", p),
			zap.Int("cards", rp.Cards),
			zap.Int("rows", len(rp.Records)),
		)
		if rp.Cards < c.cfg.ReviewPageSize {
			return att
		}
	}
	c.logger.Warn("review page cap reached",
		zap.String("school", school),
		zap.Int("max_pages", c.cfg.MaxReviewPages),
	)
	return att
}

func (c *Crawler) warnPartial(school string, a reviewAttempt) {
	if a.err == nil {
		return
	}
	c.logger.Warn("review stream cut short, keeping collected rows",
		zap.String("school", school),
		zap.String("url", a.url),
		zap.Int("rows", len(a.records)),
		zap.Error(a.err),
	)
}

func (a reviewAttempt) outcome(fallback bool) ReviewOutcome {
	return ReviewOutcome{
		Records:      a.records,
		URL:          a.url,
		Pages:        a.pages,
		UsedFallback: fallback,
	}
}
