// Package ranking walks the paginated ranking listing and builds the school
// table consumed by the detail crawl.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
	"github.com/JakeFAU/ecoles-crawler/internal/extract"
	"github.com/JakeFAU/ecoles-crawler/internal/metrics"
)

// DefaultMaxPages bounds the listing walk when Config.MaxPages is unset.
const DefaultMaxPages = 9

// NameResolver maps a school name to its canonical detail URL.
type NameResolver interface {
	Resolve(ctx context.Context, name string) (string, bool, error)
}

// Config controls the ranking walk.
type Config struct {
	RankingURL       string
	MaxPages         int
	DetailPathPrefix string
}

// Result is the school table of one ranking run.
type Result struct {
	Schools  []crawler.SchoolRef
	Pages    int
	Links    int
	Resolved int
}

// Crawler fetches ranking pages sequentially through a shared session.
type Crawler struct {
	cfg       Config
	fetcher   crawler.Fetcher
	pacer     *crawler.Pacer
	resolver  NameResolver
	extractor *extract.Extractor
	logger    *zap.Logger
}

// New builds a Crawler. resolver may be nil, in which case scraped URLs are
// kept as they are.
func New(
	cfg Config,
	fetcher crawler.Fetcher,
	pacer *crawler.Pacer,
	resolver NameResolver,
	extractor *extract.Extractor,
	logger *zap.Logger,
) (*Crawler, error) {
	if !crawler.IsAbsoluteURL(cfg.RankingURL) {
		return nil, fmt.Errorf("ranking url %q: %w", cfg.RankingURL, crawler.ErrRelativeURL)
	}
	if fetcher == nil || extractor == nil {
		return nil, errors.New("fetcher and extractor are required")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		cfg:       cfg,
		fetcher:   fetcher,
		pacer:     pacer,
		resolver:  resolver,
		extractor: extractor,
		logger:    logger.Named("ranking"),
	}, nil
}

// PageURL returns the listing URL of page p. Page 1 is the bare listing.
func (c *Crawler) PageURL(p int) (string, error) {
	if p <= 1 {
		return c.cfg.RankingURL, nil
	}
	return crawler.WithPage(c.cfg.RankingURL, p, "")
}

// Run walks pages 1..MaxPages, stopping at the first page without links.
// Any page fetch failure aborts the run with ErrRankingIncomplete; no partial
// table is returned.
func (c *Crawler) Run(ctx context.Context) (Result, error) {
	acc := newAccumulator()
	res := Result{}
	for p := 1; p <= c.cfg.MaxPages; p++ {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %w", crawler.ErrRankingIncomplete, err)
		}
		links, err := c.crawlPage(ctx, p)
		if err != nil {
			return Result{}, fmt.Errorf("%w: page %d: %w", crawler.ErrRankingIncomplete, p, err)
		}
		res.Pages++
		if len(links) == 0 {
			c.logger.Info("ranking page empty, stopping", zap.Int("page", p))
			break
		}
		res.Links += len(links)
		for _, link := range links {
			ref, resolved := c.canonicalize(ctx, link)
			if resolved {
				res.Resolved++
			}
			acc.put(ref)
		}
		c.logger.Info("ranking page crawled",
			zap.Int("page", p),
			zap.Int("links", len(links)),
			zap.Int("schools", acc.len()),
		)
	}
	res.Schools = acc.values()
	metrics.ObserveRecords("schools", len(res.Schools))
	c.logger.Info("ranking crawl finished",
		zap.Int("pages", res.Pages),
		zap.Int("links", res.Links),
		zap.Int("schools", len(res.Schools)),
		zap.Int("resolved", res.Resolved),
	)
	return res, nil
}

func (c *Crawler) crawlPage(ctx context.Context, p int) ([]extract.Link, error) {
	pageURL, err := c.PageURL(p)
	if err != nil {
		return nil, err
	}
	page, err := crawler.FetchPaced(ctx, c.fetcher, c.pacer, nil, pageURL, c.logger)
	if err != nil {
		return nil, err
	}
	doc, err := extract.Parse(page.Body)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	return c.extractor.Links(doc, base), nil
}

// canonicalize substitutes a search result for links outside the canonical
// detail path. The scraped URL is kept as the alternate.
func (c *Crawler) canonicalize(ctx context.Context, link extract.Link) (crawler.SchoolRef, bool) {
	ref := crawler.SchoolRef{Name: link.Name, CanonicalURL: link.URL}
	if c.resolver == nil || crawler.IsCanonicalDetailURL(link.URL, c.cfg.DetailPathPrefix) {
		return ref, false
	}
	resolved, ok, err := c.resolver.Resolve(ctx, link.Name)
	switch {
	case err != nil:
		c.logger.Warn("name resolution failed, keeping scraped url",
			zap.String("name", link.Name),
			zap.String("url", link.URL),
			zap.Error(err),
		)
		return ref, false
	case !ok || resolved == "" || resolved == link.URL:
		return ref, false
	}
	ref.CanonicalURL = resolved
	ref.AltURL = link.URL
	return ref, true
}

// accumulator keeps one SchoolRef per normalized name. Later entries replace
// earlier ones in place, so output order is first-seen order.
type accumulator struct {
	index map[string]int
	refs  []crawler.SchoolRef
}

func newAccumulator() *accumulator {
	return &accumulator{index: make(map[string]int)}
}

func (a *accumulator) put(ref crawler.SchoolRef) {
	key := ref.Key()
	if i, ok := a.index[key]; ok {
		a.refs[i] = ref
		return
	}
	a.index[key] = len(a.refs)
	a.refs = append(a.refs, ref)
}

func (a *accumulator) len() int { return len(a.refs) }

func (a *accumulator) values() []crawler.SchoolRef {
	return append([]crawler.SchoolRef(nil), a.refs...)
}
