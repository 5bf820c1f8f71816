// Package resolver maps ambiguous school names to canonical detail URLs.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
	"github.com/JakeFAU/ecoles-crawler/internal/extract"
	"github.com/JakeFAU/ecoles-crawler/internal/metrics"
)

// QueryPlaceholder is replaced by the escaped name in SearchTemplate.
const QueryPlaceholder = "{query}"

// Resolution outcomes, used as metric labels.
const (
	OutcomeOverride = "override"
	OutcomeSearch   = "search"
	OutcomeMiss     = "miss"
	OutcomeError    = "error"
)

// Config controls resolution.
type Config struct {
	// SearchTemplate is an absolute URL containing QueryPlaceholder.
	SearchTemplate   string
	DetailPathPrefix string
}

// Resolver consults the override table, then the site search.
type Resolver struct {
	cfg       Config
	fetcher   crawler.Fetcher
	pacer     *crawler.Pacer
	extractor *extract.Extractor
	overrides map[string]string
	logger    *zap.Logger
}

// New builds a Resolver. fetcher must be the session shared with the ranking
// crawl; overrides maps exact school names to URLs.
func New(
	cfg Config,
	fetcher crawler.Fetcher,
	pacer *crawler.Pacer,
	extractor *extract.Extractor,
	overrides map[string]string,
	logger *zap.Logger,
) (*Resolver, error) {
	if !strings.Contains(cfg.SearchTemplate, QueryPlaceholder) {
		return nil, fmt.Errorf("search template %q lacks %s", cfg.SearchTemplate, QueryPlaceholder)
	}
	if cfg.DetailPathPrefix == "" {
		return nil, errors.New("detail path prefix is required")
	}
	if fetcher == nil || extractor == nil {
		return nil, errors.New("fetcher and extractor are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	copied := make(map[string]string, len(overrides))
	for k, v := range overrides {
		copied[k] = v
	}
	return &Resolver{
		cfg:       cfg,
		fetcher:   fetcher,
		pacer:     pacer,
		extractor: extractor,
		overrides: copied,
		logger:    logger.Named("resolver"),
	}, nil
}

// SearchURL builds the search request for name.
func (r *Resolver) SearchURL(name string) string {
	query := url.PathEscape(crawler.NormalizeName(name))
	return strings.ReplaceAll(r.cfg.SearchTemplate, QueryPlaceholder, query)
}

// Resolve returns the canonical URL of name. ok is false when the search
// finds no profile anchor; err is set only when the search fetch fails.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, bool, error) {
	if u, found := r.overrides[name]; found {
		metrics.ObserveResolution(OutcomeOverride)
		r.logger.Debug("override hit", zap.String("name", name), zap.String("url", u))
		return u, u != "", nil
	}

	searchURL := r.SearchURL(name)
	page, err := crawler.FetchPaced(ctx, r.fetcher, r.pacer, nil, searchURL, r.logger)
	if err != nil {
		metrics.ObserveResolution(OutcomeError)
		return "", false, fmt.Errorf("search %q: %w", name, err)
	}
	doc, err := extract.Parse(page.Body)
	if err != nil {
		metrics.ObserveResolution(OutcomeError)
		return "", false, fmt.Errorf("search %q: %w", name, err)
	}
	base, err := url.Parse(searchURL)
	if err != nil {
		metrics.ObserveResolution(OutcomeError)
		return "", false, fmt.Errorf("search %q: parse url: %w", name, err)
	}

	resolved, ok := r.extractor.SearchResult(doc, base, r.cfg.DetailPathPrefix)
	if !ok {
		metrics.ObserveResolution(OutcomeMiss)
		r.logger.Info("no search result", zap.String("name", name), zap.String("search_url", searchURL))
		return "", false, nil
	}
	metrics.ObserveResolution(OutcomeSearch)
	r.logger.Debug("resolved via search", zap.String("name", name), zap.String("url", resolved))
	return resolved, true, nil
}
