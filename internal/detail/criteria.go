package detail

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
	"github.com/JakeFAU/ecoles-crawler/internal/extract"
)

// CriteriaOutcome holds the criteria of one school. Records all come from
// the single URL named by URL.
type CriteriaOutcome struct {
	Records      []crawler.CriterionRecord
	URL          string
	ThemesFound  int
	Success      bool
	UsedFallback bool
}

// CrawlCriteria renders the detail page of school and extracts every
// configured thematic section. When no section is found on the primary URL
// the alternate URL is tried once.
func (c *Crawler) CrawlCriteria(ctx context.Context, renderer crawler.Renderer, school crawler.SchoolRef) (CriteriaOutcome, error) {
	if school.Name == "" {
		school.Name = crawler.SchoolNameFromURL(school.CanonicalURL)
	}
	return c.crawlCriteria(ctx, crawler.NewPacer(c.cfg.Delay), renderer, school)
}

func (c *Crawler) crawlCriteria(
	ctx context.Context,
	pacer *crawler.Pacer,
	renderer crawler.Renderer,
	school crawler.SchoolRef,
) (CriteriaOutcome, error) {
	if renderer == nil {
		return CriteriaOutcome{}, crawler.ErrRendererDisabled
	}
	primary, primaryErr := c.criteriaAttempt(ctx, pacer, renderer, school.Name, school.CanonicalURL)
	if primary.Success {
		return primary, nil
	}
	if school.AltURL == "" || ctx.Err() != nil {
		return primary, orNoThemes(primaryErr)
	}

	c.logger.Info("retrying criteria on alternate url",
		zap.String("school", school.Name),
		zap.String("primary", primary.URL),
		zap.String("alt", school.AltURL),
		zap.NamedError("primary_error", primaryErr),
	)
	alt, altErr := c.criteriaAttempt(ctx, pacer, renderer, school.Name, school.AltURL)
	alt.UsedFallback = true
	if alt.Success {
		return alt, nil
	}
	if primaryErr != nil && altErr != nil {
		return alt, errors.Join(primaryErr, altErr)
	}
	return alt, orNoThemes(altErr)
}

func (c *Crawler) criteriaAttempt(
	ctx context.Context,
	pacer *crawler.Pacer,
	renderer crawler.Renderer,
	school, rawURL string,
) (CriteriaOutcome, error) {
	out := CriteriaOutcome{URL: rawURL, Records: make([]crawler.CriterionRecord, 0)}
	page, err := crawler.FetchPaced(ctx, renderFetcher{renderer: renderer}, pacer, nil, rawURL, c.logger)
	if err != nil {
		return out, fmt.Errorf("render %s: %w", rawURL, err)
	}
	doc, err := extract.Parse(page.Body)
	if err != nil {
		return out, err
	}
	res := c.extractor.Criteria(doc, c.cfg.ThemeIDs, school, rawURL)
	out.ThemesFound = res.ThemesFound
	out.Success = res.ThemesFound > 0
	if out.Success {
		out.Records = res.Records
	}
	c.logger.Debug("criteria page extracted",
		zap.String("school", school),
		zap.String("url", rawURL),
		zap.Int("themes", res.ThemesFound),
		zap.Int("rows", len(res.Records)),
		zap.Bool("js", page.UsedJS),
	)
	return out, nil
}

func orNoThemes(err error) error {
	if err != nil {
		return err
	}
	return crawler.ErrNoThemes
}
