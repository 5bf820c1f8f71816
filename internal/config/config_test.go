package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
site:
  user_agent: test-agent
  headers:
    X-Crawl: ecoles
crawler:
  request_timeout: 5s
  delay: 250ms
ranking:
  max_pages: 3
detail:
  workers: 4
  thematic_ids: [425, 430]
  school_budget: 2m
  render: Chromedp
headless:
  nav_timeout: 30s
paths:
  reviews: out/reviews.csv
logging:
  development: false
sinks:
  pubsub:
    project_id: proj
    topic: datasets
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-agent", cfg.Site.UserAgent)
	assert.Equal(t, "ecoles", cfg.HTTPHeaders().Get("X-Crawl"))
	assert.Equal(t, 5*time.Second, cfg.Crawler.RequestTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Crawler.Delay)
	assert.Equal(t, 3, cfg.Ranking.MaxPages)
	assert.Equal(t, 4, cfg.Detail.Workers)
	assert.Equal(t, crawler.ThemeSet{425, 430}, cfg.ThemeSet())
	assert.Equal(t, 2*time.Minute, cfg.Detail.SchoolBudget)
	assert.Equal(t, RenderChromedp, cfg.Detail.Render)
	assert.Equal(t, 30*time.Second, cfg.Headless.NavTimeout)
	assert.Equal(t, "out/reviews.csv", cfg.Paths.Reviews)
	assert.Equal(t, "classements_letudiant.csv", cfg.Paths.Criteria, "default kept")
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "datasets", cfg.Sinks.PubSub.Topic)
	assert.Equal(t, "www.letudiant.fr", cfg.BaseURL().Host)
}

func TestBaseURLUnsetIsNil(t *testing.T) {
	assert.Nil(t, Config{}.BaseURL())
	assert.Nil(t, Config{Site: SiteConfig{BaseURL: "/relative"}}.BaseURL())
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Ranking.MaxPages)
	assert.Equal(t, 20, cfg.Detail.ReviewPageSize)
	assert.Equal(t, 200, cfg.Detail.MaxReviewPages)
	assert.Equal(t, crawler.DefaultThemeIDs, cfg.ThemeSet())
	assert.Equal(t, 10*time.Second, cfg.Crawler.RequestTimeout)
	assert.Equal(t, RenderAuto, cfg.Detail.Render)
	assert.Contains(t, cfg.Site.SearchURLTemplate, "{query}")
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func validConfig(t *testing.T) Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	return cfg
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := validConfig(t)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative ranking url", func(c *Config) { c.Site.RankingURL = "/classement.html" }, "site.ranking_url"},
		{"search template without placeholder", func(c *Config) { c.Site.SearchURLTemplate = "https://x/search" }, "site.search_url_template"},
		{"zero timeout", func(c *Config) { c.Crawler.RequestTimeout = 0 }, "crawler.request_timeout"},
		{"negative delay", func(c *Config) { c.Crawler.Delay = -time.Second }, "crawler.delay"},
		{"zero max pages", func(c *Config) { c.Ranking.MaxPages = 0 }, "ranking.max_pages"},
		{"zero page size", func(c *Config) { c.Detail.ReviewPageSize = 0 }, "detail.review_page_size"},
		{"zero workers", func(c *Config) { c.Detail.Workers = 0 }, "detail.workers"},
		{"no themes", func(c *Config) { c.Detail.ThematicIDs = nil }, "detail.thematic_ids"},
		{"unknown render", func(c *Config) { c.Detail.Render = "selenium" }, "detail.render"},
		{"half pubsub", func(c *Config) { c.Sinks.PubSub.Topic = "t" }, "sinks.pubsub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Detail.ThematicIDs = append([]int(nil), base.Detail.ThematicIDs...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "got %v", err)
		})
	}
}
