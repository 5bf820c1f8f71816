// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
	"github.com/JakeFAU/ecoles-crawler/internal/logging"
	pkgconfig "github.com/JakeFAU/ecoles-crawler/pkg/config"
)

// Render modes for the criteria stage.
const (
	RenderStatic   = "static"
	RenderChromedp = "chromedp"
	RenderAuto     = "auto"
)

// Config captures every knob of a crawl run.
type Config struct {
	Site     SiteConfig     `mapstructure:"site"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Ranking  RankingConfig  `mapstructure:"ranking"`
	Detail   DetailConfig   `mapstructure:"detail"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Logging  logging.Config `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Sinks    SinksConfig    `mapstructure:"sinks"`
}

// SiteConfig locates the pages of the crawled site.
type SiteConfig struct {
	BaseURL           string            `mapstructure:"base_url"`
	RankingURL        string            `mapstructure:"ranking_url"`
	SearchURLTemplate string            `mapstructure:"search_url_template"`
	DetailPathPrefix  string            `mapstructure:"detail_path_prefix"`
	UserAgent         string            `mapstructure:"user_agent"`
	Headers           map[string]string `mapstructure:"headers"`
}

// CrawlerConfig governs request timing.
type CrawlerConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Delay          time.Duration `mapstructure:"delay"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

// RankingConfig bounds the ranking walk.
type RankingConfig struct {
	MaxPages int `mapstructure:"max_pages"`
}

// DetailConfig controls review and criteria extraction.
type DetailConfig struct {
	ReviewPageSize int           `mapstructure:"review_page_size"`
	MaxReviewPages int           `mapstructure:"max_review_pages"`
	ReviewAnchor   string        `mapstructure:"review_anchor"`
	ThematicIDs    []int         `mapstructure:"thematic_ids"`
	Workers        int           `mapstructure:"workers"`
	SchoolBudget   time.Duration `mapstructure:"school_budget"`
	Render         string        `mapstructure:"render"`
}

// HeadlessConfig configures the browser renderer and promotion detector.
type HeadlessConfig struct {
	NavTimeout         time.Duration `mapstructure:"nav_timeout"`
	WaitSelector       string        `mapstructure:"wait_selector"`
	Settle             time.Duration `mapstructure:"settle"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
	RequiredMarkers    []string      `mapstructure:"required_markers"`
}

// PathsConfig names the input and output tables.
type PathsConfig struct {
	Schools   string `mapstructure:"schools"`
	Overrides string `mapstructure:"overrides"`
	Reviews   string `mapstructure:"reviews"`
	Criteria  string `mapstructure:"criteria"`
}

// MetricsConfig enables the status server when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// SinksConfig lists the optional destinations of a finished run.
type SinksConfig struct {
	Prefix   string         `mapstructure:"prefix"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	GCS      BucketConfig   `mapstructure:"gcs"`
	Local    LocalConfig    `mapstructure:"local"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// PostgresConfig controls the record sink.
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// BucketConfig names a GCS bucket.
type BucketConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// LocalConfig names a directory mirror of the datasets.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds the dataset notification topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v, err := pkgconfig.New(path)
	if err != nil {
		return Config{}, err
	}
	return FromViper(v)
}

// FromViper decodes and validates v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Detail.Render = strings.ToLower(strings.TrimSpace(cfg.Detail.Render))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	for key, raw := range map[string]string{
		"site.base_url":    c.Site.BaseURL,
		"site.ranking_url": c.Site.RankingURL,
	} {
		if !crawler.IsAbsoluteURL(raw) {
			return fmt.Errorf("%s must be an absolute url, got %q", key, raw)
		}
	}
	if !strings.Contains(c.Site.SearchURLTemplate, "{query}") {
		return fmt.Errorf("site.search_url_template must contain {query}")
	}
	if c.Site.DetailPathPrefix == "" {
		return fmt.Errorf("site.detail_path_prefix is required")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.Delay < 0 {
		return fmt.Errorf("crawler.delay must be >= 0")
	}
	if c.Ranking.MaxPages <= 0 {
		return fmt.Errorf("ranking.max_pages must be > 0")
	}
	if c.Detail.ReviewPageSize <= 0 {
		return fmt.Errorf("detail.review_page_size must be > 0")
	}
	if c.Detail.MaxReviewPages <= 0 {
		return fmt.Errorf("detail.max_review_pages must be > 0")
	}
	if c.Detail.Workers <= 0 {
		return fmt.Errorf("detail.workers must be > 0")
	}
	if len(c.Detail.ThematicIDs) == 0 {
		return fmt.Errorf("detail.thematic_ids must not be empty")
	}
	switch c.Detail.Render {
	case RenderStatic, RenderChromedp, RenderAuto:
	default:
		return fmt.Errorf("detail.render must be one of static, chromedp, auto; got %q", c.Detail.Render)
	}
	if (c.Sinks.PubSub.ProjectID == "") != (c.Sinks.PubSub.Topic == "") {
		return fmt.Errorf("sinks.pubsub.project_id and sinks.pubsub.topic must be set together")
	}
	return nil
}

// ThemeSet returns the configured thematic ids.
func (c Config) ThemeSet() crawler.ThemeSet {
	return crawler.ThemeSet(append([]int(nil), c.Detail.ThematicIDs...))
}

// HTTPHeaders returns the fixed request headers as an http.Header.
func (c Config) HTTPHeaders() http.Header {
	h := make(http.Header, len(c.Site.Headers))
	for k, v := range c.Site.Headers {
		h.Set(k, v)
	}
	return h
}

// BaseURL returns the parsed site.base_url, or nil when it is unset or not
// absolute.
func (c Config) BaseURL() *url.URL {
	u, err := url.Parse(c.Site.BaseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil
	}
	return u
}
