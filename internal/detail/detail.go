// Package detail crawls school detail pages for reviews and thematic
// criteria. Schools are processed by a bounded worker pool; pagination inside
// one school is sequential.
package detail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
	"github.com/JakeFAU/ecoles-crawler/internal/extract"
	"github.com/JakeFAU/ecoles-crawler/internal/metrics"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultReviewPageSize = 20
	DefaultMaxReviewPages = 200
	DefaultReviewAnchor   = "avis-authentifies"
)

// Stage selects what a run extracts.
type Stage uint8

// Stages can be combined with |.
const (
	StageReviews Stage = 1 << iota
	StageCriteria

	StageAll = StageReviews | StageCriteria
)

// Has reports whether s includes other.
func (s Stage) Has(other Stage) bool { return s&other != 0 }

func (s Stage) String() string {
	switch s {
	case StageReviews:
		return "reviews"
	case StageCriteria:
		return "criteria"
	case StageAll:
		return "all"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// Config controls the detail crawl.
type Config struct {
	ReviewPageSize int
	MaxReviewPages int
	ReviewAnchor   string
	ThemeIDs       crawler.ThemeSet
	Workers        int
	// SchoolBudget bounds one school's crawl; zero disables the watchdog.
	SchoolBudget time.Duration
	// Delay spaces the requests of one school.
	Delay time.Duration
	// MaxAttempts > 1 retries transient review fetch failures.
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Result is the merged output of a run, in seed order.
type Result struct {
	Reviews   []crawler.ReviewRecord
	Criteria  []crawler.CriterionRecord
	Failures  []crawler.SchoolFailure
	Schools   int
	Fallbacks int
	Truncated int
	Canceled  bool
}

// Crawler extracts detail-page records for a list of schools.
type Crawler struct {
	cfg       Config
	fetcher   crawler.Fetcher
	renderers crawler.RendererFactory
	extractor *extract.Extractor
	retry     crawler.RetryPolicy
	logger    *zap.Logger
}

// New builds a Crawler. renderers is only required for StageCriteria runs.
func New(
	cfg Config,
	fetcher crawler.Fetcher,
	renderers crawler.RendererFactory,
	extractor *extract.Extractor,
	logger *zap.Logger,
) (*Crawler, error) {
	if fetcher == nil || extractor == nil {
		return nil, errors.New("fetcher and extractor are required")
	}
	if cfg.ReviewPageSize <= 0 {
		cfg.ReviewPageSize = DefaultReviewPageSize
	}
	if cfg.MaxReviewPages <= 0 {
		cfg.MaxReviewPages = DefaultMaxReviewPages
	}
	if cfg.ReviewAnchor == "" {
		cfg.ReviewAnchor = DefaultReviewAnchor
	}
	if len(cfg.ThemeIDs) == 0 {
		cfg.ThemeIDs = crawler.DefaultThemeIDs
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var retry crawler.RetryPolicy
	if cfg.MaxAttempts > 1 {
		retry = crawler.NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.RetryBackoff)
	}
	return &Crawler{
		cfg:       cfg,
		fetcher:   fetcher,
		renderers: renderers,
		extractor: extractor,
		retry:     retry,
		logger:    logger.Named("detail"),
	}, nil
}

// schoolOutcome is the accumulator owned by one school's crawl.
type schoolOutcome struct {
	reviews   ReviewOutcome
	criteria  CriteriaOutcome
	failures  []crawler.SchoolFailure
	fallbacks int
	truncated bool
}

// Run crawls every school for the requested stages. Records collected before
// a cancellation are returned along with ctx's error. A school's total
// failure is recorded in Result.Failures and never aborts the run.
func (c *Crawler) Run(ctx context.Context, schools []crawler.SchoolRef, stages Stage) (Result, error) {
	if stages.Has(StageCriteria) && c.renderers == nil {
		return Result{}, fmt.Errorf("criteria stage: %w", crawler.ErrRendererDisabled)
	}
	outcomes := make([]schoolOutcome, len(schools))
	done := make([]bool, len(schools))

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)
	g.Go(func() error {
		defer close(jobs)
		for i := range schools {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	workers := min(c.cfg.Workers, max(len(schools), 1))
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			return c.work(gctx, w, schools, stages, jobs, outcomes, done)
		})
	}
	waitErr := g.Wait()

	res := c.merge(schools, outcomes, done)
	if err := ctx.Err(); err != nil {
		res.Canceled = true
		return res, fmt.Errorf("detail crawl interrupted: %w", err)
	}
	if waitErr != nil {
		return res, waitErr
	}
	return res, nil
}

// work drains jobs with its own renderer session, released on every exit.
func (c *Crawler) work(
	ctx context.Context,
	id int,
	schools []crawler.SchoolRef,
	stages Stage,
	jobs <-chan int,
	outcomes []schoolOutcome,
	done []bool,
) (err error) {
	var renderer crawler.Renderer
	if stages.Has(StageCriteria) {
		renderer, err = c.renderers(ctx)
		if err != nil {
			return fmt.Errorf("worker %d: acquire renderer: %w", id, err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if cerr := renderer.Close(closeCtx); cerr != nil {
				c.logger.Warn("renderer close failed", zap.Int("worker", id), zap.Error(cerr))
			}
		}()
	}
	for i := range jobs {
		if ctx.Err() != nil {
			return nil
		}
		outcomes[i] = c.crawlSchool(ctx, renderer, schools[i], stages)
		done[i] = true
	}
	return nil
}

func (c *Crawler) crawlSchool(
	ctx context.Context,
	renderer crawler.Renderer,
	school crawler.SchoolRef,
	stages Stage,
) schoolOutcome {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if school.Name == "" {
		school.Name = crawler.SchoolNameFromURL(school.CanonicalURL)
	}
	schoolCtx := ctx
	if c.cfg.SchoolBudget > 0 {
		var cancel context.CancelFunc
		schoolCtx, cancel = context.WithTimeout(ctx, c.cfg.SchoolBudget)
		defer cancel()
	}
	pacer := crawler.NewPacer(c.cfg.Delay)
	start := time.Now()
	out := schoolOutcome{}

	if stages.Has(StageReviews) {
		rev, err := c.crawlReviews(schoolCtx, pacer, school)
		out.reviews = rev
		if rev.UsedFallback {
			out.fallbacks++
		}
		if err != nil {
			out.addFailure(ctx, "reviews", school, rev.URL, err)
		}
	}
	if stages.Has(StageCriteria) && schoolCtx.Err() == nil {
		crit, err := c.crawlCriteria(schoolCtx, pacer, renderer, school)
		out.criteria = crit
		if crit.UsedFallback {
			out.fallbacks++
		}
		if err != nil {
			out.addFailure(ctx, "criteria", school, crit.URL, err)
		}
	}
	if ctx.Err() == nil && errors.Is(schoolCtx.Err(), context.DeadlineExceeded) {
		out.truncated = true
		c.logger.Warn("school budget exhausted, keeping collected rows",
			zap.String("school", school.Name),
			zap.Duration("budget", c.cfg.SchoolBudget),
		)
	}
	c.logger.Info("school crawled",
		zap.String("school", school.Name),
		zap.Int("reviews", len(out.reviews.Records)),
		zap.Int("criteria", len(out.criteria.Records)),
		zap.Int("failures", len(out.failures)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out
}

// addFailure records a stage failure unless the whole run was canceled.
func (o *schoolOutcome) addFailure(runCtx context.Context, stage string, school crawler.SchoolRef, url string, err error) {
	if runCtx.Err() != nil {
		return
	}
	if url == "" {
		url = school.CanonicalURL
	}
	metrics.ObserveSchoolFailure(stage)
	o.failures = append(o.failures, crawler.SchoolFailure{
		School: school.Name,
		URL:    url,
		Err:    fmt.Errorf("%s: %w", stage, err),
	})
}

func (c *Crawler) merge(schools []crawler.SchoolRef, outcomes []schoolOutcome, done []bool) Result {
	res := Result{
		Reviews:  make([]crawler.ReviewRecord, 0),
		Criteria: make([]crawler.CriterionRecord, 0),
	}
	for i := range schools {
		if !done[i] {
			continue
		}
		o := outcomes[i]
		res.Schools++
		res.Reviews = append(res.Reviews, o.reviews.Records...)
		res.Criteria = append(res.Criteria, o.criteria.Records...)
		res.Failures = append(res.Failures, o.failures...)
		res.Fallbacks += o.fallbacks
		if o.truncated {
			res.Truncated++
		}
	}
	metrics.ObserveRecords("reviews", len(res.Reviews))
	metrics.ObserveRecords("criteria", len(res.Criteria))
	return res
}

// renderFetcher lets FetchPaced drive a Renderer.
type renderFetcher struct {
	renderer crawler.Renderer
}

func (r renderFetcher) Fetch(ctx context.Context, rawURL string) (crawler.Page, error) {
	return r.renderer.Render(ctx, rawURL)
}
