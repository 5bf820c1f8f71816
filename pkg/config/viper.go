// Package config builds the Viper instance shared by the CLI and the typed
// configuration loader. Settings come from defaults, an optional config
// file, ECOLES_* environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ECOLES_DETAIL_WORKERS.
const EnvPrefix = "ECOLES"

// DefaultUserAgent is sent with every request unless site.user_agent is set.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36"

// New returns a Viper with defaults and environment binding applied. When
// path is empty, config.yaml is looked up in the working directory and in
// $HOME/.ecoles; a missing file is not an error. An explicit path must exist.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.ecoles")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// SetDefaults registers a default for every known key so that environment
// variables can override keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://www.letudiant.fr")
	v.SetDefault("site.ranking_url", "https://www.letudiant.fr/classements/classement-des-ecoles-d-ingenieurs.html")
	v.SetDefault("site.search_url_template",
		"https://www.letudiant.fr/etudes/annuaire-enseignement-superieur/etablissement/critere-{query}/page-1.html")
	v.SetDefault("site.detail_path_prefix", "/etudes/annuaire-enseignement-superieur/etablissement/etablissement-")
	v.SetDefault("site.user_agent", DefaultUserAgent)
	v.SetDefault("site.headers", map[string]string{"Accept-Language": "fr-FR,fr;q=0.9"})

	v.SetDefault("crawler.request_timeout", "10s")
	v.SetDefault("crawler.delay", "1s")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.max_attempts", 1)
	v.SetDefault("crawler.retry_backoff", "500ms")

	v.SetDefault("ranking.max_pages", 9)

	v.SetDefault("detail.review_page_size", 20)
	v.SetDefault("detail.max_review_pages", 200)
	v.SetDefault("detail.review_anchor", "avis-authentifies")
	v.SetDefault("detail.thematic_ids", []int{425, 426, 427, 429, 430, 431})
	v.SetDefault("detail.workers", 1)
	v.SetDefault("detail.school_budget", "10m")
	v.SetDefault("detail.render", "auto")

	v.SetDefault("headless.nav_timeout", "45s")
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("headless.settle", "500ms")
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.required_markers", []string{"-criteria"})

	v.SetDefault("paths.schools", "data/liens_fiches_ecoles.csv")
	v.SetDefault("paths.overrides", "data/false_positive.csv")
	v.SetDefault("paths.reviews", "textual_dataset.csv")
	v.SetDefault("paths.criteria", "classements_letudiant.csv")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("sinks.prefix", "datasets")
	v.SetDefault("sinks.postgres.dsn", "")
	v.SetDefault("sinks.postgres.table_prefix", "")
	v.SetDefault("sinks.postgres.max_conns", 4)
	v.SetDefault("sinks.gcs.bucket", "")
	v.SetDefault("sinks.local.base_dir", "")
	v.SetDefault("sinks.pubsub.project_id", "")
	v.SetDefault("sinks.pubsub.topic", "")
}
