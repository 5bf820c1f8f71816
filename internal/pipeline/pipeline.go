// Package pipeline wires the crawl stages together: it seeds them, writes
// their tables, checks integrity and hands finished runs to the sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ecoles-crawler/internal/config"
	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
	"github.com/JakeFAU/ecoles-crawler/internal/dataset"
	"github.com/JakeFAU/ecoles-crawler/internal/detail"
	"github.com/JakeFAU/ecoles-crawler/internal/extract"
	"github.com/JakeFAU/ecoles-crawler/internal/publisher"
	"github.com/JakeFAU/ecoles-crawler/internal/ranking"
	"github.com/JakeFAU/ecoles-crawler/internal/resolver"
	"github.com/JakeFAU/ecoles-crawler/internal/storage"
	"github.com/JakeFAU/ecoles-crawler/internal/storage/postgres"
)

// Stage names reported in summaries and sink payloads.
const (
	StageRanking  = "ranking"
	StageReviews  = "reviews"
	StageCriteria = "criteria"
	StageAll      = "all"
)

// RecordSink persists a finished run.
type RecordSink interface {
	SaveRun(ctx context.Context, run postgres.Run, reviews []crawler.ReviewRecord, criteria []crawler.CriterionRecord) error
}

// Observer is told when a stage starts and finishes.
type Observer interface {
	StageStarted(runID, stage string, at time.Time)
	StageFinished(summary Summary)
}

// Deps are the collaborators of a Pipeline. Renderers, Hasher, Records,
// Blobs, Publisher and Observer are optional.
type Deps struct {
	Config    config.Config
	Fetcher   crawler.Fetcher
	Renderers crawler.RendererFactory
	Extractor *extract.Extractor
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	Hasher    crawler.Hasher
	Records   RecordSink
	Blobs     []storage.BlobStore
	Publisher publisher.Publisher
	Observer  Observer
	Logger    *zap.Logger
}

// Pipeline runs the crawl stages.
type Pipeline struct {
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// New validates deps and builds a Pipeline.
func New(deps Deps) (*Pipeline, error) {
	if deps.Fetcher == nil || deps.Extractor == nil {
		return nil, errors.New("fetcher and extractor are required")
	}
	if deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("id generator and clock are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	// Listing and search hrefs resolve against the site root.
	deps.Extractor = deps.Extractor.WithBase(deps.Config.BaseURL())
	return &Pipeline{deps: deps, cfg: deps.Config, logger: deps.Logger.Named("pipeline")}, nil
}

// Ranking crawls the ranking listing and writes the school table. No table
// is written when the listing could not be read completely.
func (p *Pipeline) Ranking(ctx context.Context) (Summary, error) {
	sum, err := p.begin(StageRanking)
	if err != nil {
		return sum, err
	}
	schools, err := p.rank(ctx, &sum)
	if err != nil {
		return p.finish(ctx, sum, nil, nil, err)
	}
	if err := p.writeSchools(&sum, schools); err != nil {
		return p.finish(ctx, sum, nil, nil, err)
	}
	return p.finish(ctx, sum, nil, nil, nil)
}

// Reviews crawls the review stream of every seed. Seeds are urls when given,
// the school table otherwise.
func (p *Pipeline) Reviews(ctx context.Context, urls []string) (Summary, error) {
	sum, err := p.begin(StageReviews)
	if err != nil {
		return sum, err
	}
	schools, err := p.seeds(urls)
	if err != nil {
		return p.finish(ctx, sum, nil, nil, err)
	}
	res, err := p.crawlDetail(ctx, &sum, schools, detail.StageReviews)
	return p.finish(ctx, sum, res.Reviews, nil, err)
}

// Criteria extracts the thematic criteria of every school of the table.
func (p *Pipeline) Criteria(ctx context.Context) (Summary, error) {
	sum, err := p.begin(StageCriteria)
	if err != nil {
		return sum, err
	}
	schools, err := p.seeds(nil)
	if err != nil {
		return p.finish(ctx, sum, nil, nil, err)
	}
	res, err := p.crawlDetail(ctx, &sum, schools, detail.StageCriteria)
	return p.finish(ctx, sum, nil, res.Criteria, err)
}

// Run chains the ranking crawl into a full detail crawl of its schools.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	sum, err := p.begin(StageAll)
	if err != nil {
		return sum, err
	}
	schools, err := p.rank(ctx, &sum)
	if err != nil {
		return p.finish(ctx, sum, nil, nil, err)
	}
	if err := p.writeSchools(&sum, schools); err != nil {
		return p.finish(ctx, sum, nil, nil, err)
	}
	res, err := p.crawlDetail(ctx, &sum, schools, detail.StageAll)
	return p.finish(ctx, sum, res.Reviews, res.Criteria, err)
}

func (p *Pipeline) begin(stage string) (Summary, error) {
	id, err := p.deps.IDs.NewID()
	if err != nil {
		return Summary{Stage: stage}, fmt.Errorf("start %s run: %w", stage, err)
	}
	sum := Summary{RunID: id, Stage: stage, StartedAt: p.deps.Clock.Now()}
	p.logger.Info("run started", zap.String("run_id", id), zap.String("stage", stage))
	if p.deps.Observer != nil {
		p.deps.Observer.StageStarted(id, stage, sum.StartedAt)
	}
	return sum, nil
}

func (p *Pipeline) rank(ctx context.Context, sum *Summary) ([]crawler.SchoolRef, error) {
	overrides, err := p.overrides()
	if err != nil {
		return nil, err
	}
	pacer := crawler.NewPacer(p.cfg.Crawler.Delay)
	res, err := resolver.New(resolver.Config{
		SearchTemplate:   p.cfg.Site.SearchURLTemplate,
		DetailPathPrefix: p.cfg.Site.DetailPathPrefix,
	}, p.deps.Fetcher, pacer, p.deps.Extractor, overrides, p.logger)
	if err != nil {
		return nil, fmt.Errorf("build resolver: %w", err)
	}
	rc, err := ranking.New(ranking.Config{
		RankingURL:       p.cfg.Site.RankingURL,
		MaxPages:         p.cfg.Ranking.MaxPages,
		DetailPathPrefix: p.cfg.Site.DetailPathPrefix,
	}, p.deps.Fetcher, pacer, res, p.deps.Extractor, p.logger)
	if err != nil {
		return nil, fmt.Errorf("build ranking crawler: %w", err)
	}
	result, err := rc.Run(ctx)
	sum.Pages = result.Pages
	sum.Resolved = result.Resolved
	if err != nil {
		return nil, err
	}
	sum.Schools = len(result.Schools)
	return result.Schools, nil
}

func (p *Pipeline) overrides() (map[string]string, error) {
	path := p.cfg.Paths.Overrides
	if path == "" {
		return nil, nil
	}
	overrides, err := dataset.ReadOverrides(path)
	if errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("override table not found, resolving every name by search", zap.String("path", path))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.logger.Info("override table loaded", zap.String("path", path), zap.Int("entries", len(overrides)))
	return overrides, nil
}

func (p *Pipeline) seeds(urls []string) ([]crawler.SchoolRef, error) {
	if len(urls) > 0 {
		schools := make([]crawler.SchoolRef, 0, len(urls))
		for _, u := range urls {
			if !crawler.IsAbsoluteURL(u) {
				return nil, fmt.Errorf("%w: %q", crawler.ErrRelativeURL, u)
			}
			schools = append(schools, crawler.SchoolRef{Name: crawler.SchoolNameFromURL(u), CanonicalURL: u})
		}
		return schools, nil
	}
	schools, err := dataset.ReadSchools(p.cfg.Paths.Schools)
	if err != nil {
		return nil, fmt.Errorf("load seeds: %w", err)
	}
	p.logger.Info("school table loaded", zap.String("path", p.cfg.Paths.Schools), zap.Int("schools", len(schools)))
	return schools, nil
}

func (p *Pipeline) writeSchools(sum *Summary, schools []crawler.SchoolRef) error {
	if err := dataset.WriteSchools(p.cfg.Paths.Schools, schools); err != nil {
		return fmt.Errorf("write school table: %w", err)
	}
	sum.Files = append(sum.Files, p.cfg.Paths.Schools)
	return nil
}

// crawlDetail runs the detail crawler and writes whatever it collected, also
// when the run was interrupted.
func (p *Pipeline) crawlDetail(
	ctx context.Context,
	sum *Summary,
	schools []crawler.SchoolRef,
	stages detail.Stage,
) (detail.Result, error) {
	dc, err := detail.New(detail.Config{
		ReviewPageSize: p.cfg.Detail.ReviewPageSize,
		MaxReviewPages: p.cfg.Detail.MaxReviewPages,
		ReviewAnchor:   p.cfg.Detail.ReviewAnchor,
		ThemeIDs:       p.themes(),
		Workers:        p.cfg.Detail.Workers,
		SchoolBudget:   p.cfg.Detail.SchoolBudget,
		Delay:          p.cfg.Crawler.Delay,
		MaxAttempts:    p.cfg.Crawler.MaxAttempts,
		RetryBackoff:   p.cfg.Crawler.RetryBackoff,
	}, p.deps.Fetcher, p.deps.Renderers, p.deps.Extractor, p.logger)
	if err != nil {
		return detail.Result{}, fmt.Errorf("build detail crawler: %w", err)
	}

	res, runErr := dc.Run(ctx, schools, stages)
	if runErr != nil && !res.Canceled {
		return res, runErr
	}
	sum.Canceled = res.Canceled
	sum.Crawled = res.Schools
	sum.Reviews = len(res.Reviews)
	sum.Criteria = len(res.Criteria)
	sum.Failures = res.Failures
	sum.Fallbacks = res.Fallbacks
	sum.Truncated = res.Truncated
	if sum.Schools == 0 {
		sum.Schools = len(schools)
	}

	var writeErr error
	if stages.Has(detail.StageReviews) {
		if err := dataset.WriteReviews(p.cfg.Paths.Reviews, res.Reviews); err != nil {
			writeErr = errors.Join(writeErr, fmt.Errorf("write review table: %w", err))
		} else {
			sum.Files = append(sum.Files, p.cfg.Paths.Reviews)
		}
	}
	if stages.Has(detail.StageCriteria) {
		if err := dataset.WriteCriteria(p.cfg.Paths.Criteria, res.Criteria); err != nil {
			writeErr = errors.Join(writeErr, fmt.Errorf("write criteria table: %w", err))
		} else {
			sum.Files = append(sum.Files, p.cfg.Paths.Criteria)
		}
	}

	p.checkIntegrity(sum, schools, res)
	for _, f := range res.Failures {
		p.logger.Warn("school failed", zap.String("school", f.School), zap.String("url", f.URL), zap.Error(f.Err))
	}
	return res, errors.Join(runErr, writeErr)
}

func (p *Pipeline) themes() crawler.ThemeSet {
	if t := p.cfg.ThemeSet(); len(t) > 0 {
		return t
	}
	return crawler.DefaultThemeIDs
}

func (p *Pipeline) checkIntegrity(sum *Summary, schools []crawler.SchoolRef, res detail.Result) {
	known := make([]crawler.SchoolRef, 0, len(schools))
	for _, s := range schools {
		if s.Name == "" {
			s.Name = crawler.SchoolNameFromURL(s.CanonicalURL)
		}
		known = append(known, s)
	}
	// Configured ids outside the published catalogue are reported.
	report := dataset.Check(known, res.Reviews, res.Criteria, crawler.DefaultThemeIDs)
	for _, o := range report.Orphans {
		sum.Orphans += o.Count
		p.logger.Warn("records reference an unknown school",
			zap.String("school", o.School),
			zap.String("table", o.Table),
			zap.Int("records", o.Count),
			zap.String("closest", o.Suggestion),
			zap.Float64("similarity", o.Similarity),
		)
	}
	for id, n := range report.UnknownThemes {
		sum.UnknownThemes += n
		p.logger.Error("criteria carry an unknown theme id", zap.Int("theme_id", id), zap.Int("records", n))
	}
}

// finish stamps the summary and hands a completed run to the sinks. Sinks
// are skipped for failed and interrupted runs.
func (p *Pipeline) finish(
	ctx context.Context,
	sum Summary,
	reviews []crawler.ReviewRecord,
	criteria []crawler.CriterionRecord,
	runErr error,
) (Summary, error) {
	sum.FinishedAt = p.deps.Clock.Now()
	switch {
	case sum.Canceled:
		p.logger.Warn("run interrupted, tables hold the rows collected so far; sinks skipped",
			zap.String("run_id", sum.RunID))
	case runErr != nil:
		p.logger.Error("run failed", zap.String("run_id", sum.RunID), zap.Error(runErr))
	default:
		p.digest(&sum)
		if err := p.publish(ctx, &sum, reviews, criteria); err != nil {
			runErr = err
		}
	}
	p.logger.Info("run finished",
		zap.String("run_id", sum.RunID),
		zap.String("stage", sum.Stage),
		zap.Int("schools", sum.Schools),
		zap.Int("reviews", sum.Reviews),
		zap.Int("criteria", sum.Criteria),
		zap.Int("failures", len(sum.Failures)),
		zap.Duration("elapsed", sum.FinishedAt.Sub(sum.StartedAt)),
	)
	if p.deps.Observer != nil {
		p.deps.Observer.StageFinished(sum)
	}
	return sum, runErr
}

// digest records the checksum of every written table. A table that cannot
// be hashed is announced without a checksum.
func (p *Pipeline) digest(sum *Summary) {
	if p.deps.Hasher == nil || len(sum.Files) == 0 {
		return
	}
	sum.Checksums = make(map[string]string, len(sum.Files))
	for _, f := range sum.Files {
		d, err := p.deps.Hasher.HashFile(f)
		if err != nil {
			p.logger.Warn("table checksum failed", zap.String("path", f), zap.Error(err))
			continue
		}
		sum.Checksums[filepath.Base(f)] = d
	}
}
