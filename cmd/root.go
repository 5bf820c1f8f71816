// Package cmd defines and implements the CLI commands of the crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ecoles-crawler/internal/api"
	"github.com/JakeFAU/ecoles-crawler/internal/app"
	"github.com/JakeFAU/ecoles-crawler/internal/config"
	"github.com/JakeFAU/ecoles-crawler/internal/logging"
	"github.com/JakeFAU/ecoles-crawler/internal/pipeline"
	pkgconfig "github.com/JakeFAU/ecoles-crawler/pkg/config"
)

// Stages are the crawl operations the commands drive.
type Stages interface {
	Ranking(ctx context.Context) (pipeline.Summary, error)
	Reviews(ctx context.Context, urls []string) (pipeline.Summary, error)
	Criteria(ctx context.Context) (pipeline.Summary, error)
	Run(ctx context.Context) (pipeline.Summary, error)
}

// Session is what one command invocation works with.
type Session struct {
	Config  config.Config
	Logger  *zap.Logger
	Stages  Stages
	Tracker *api.Tracker
	Close   func() error
}

type sessionKeyType string

const sessionKey sessionKeyType = "session"

// newSession builds the services of one invocation. It's a variable so tests
// can swap in fakes.
var newSession = func(ctx context.Context, cfg config.Config) (*Session, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return &Session{
		Config:  cfg,
		Logger:  logger,
		Stages:  a.Pipeline,
		Tracker: a.Tracker,
		Close: func() error {
			err := a.Close()
			_ = logger.Sync() //nolint:errcheck
			return err
		},
	}, nil
}

// flagBindings maps persistent flags onto viper keys.
var flagBindings = map[string]string{
	"workers":      "detail.workers",
	"render":       "detail.render",
	"delay":        "crawler.delay",
	"max-pages":    "ranking.max_pages",
	"log-level":    "logging.level",
	"dev":          "logging.development",
	"metrics-addr": "metrics.addr",
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "ecoles",
		Short: "Crawls the L'Etudiant school ranking, reviews and criteria.",
		Long: `ecoles collects school rankings from letudiant.fr: the ranking listing,
the authenticated student reviews of every school and the per-theme criteria
scores, written as CSV tables and optionally mirrored to storage sinks.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v, err := pkgconfig.New(cfgFile)
			if err != nil {
				return err
			}
			if err := bindFlags(v, cmd); err != nil {
				return err
			}
			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}
			session, err := newSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), sessionKey, session))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.ecoles/config.yaml)")
	flags.Int("workers", 0, "number of schools crawled in parallel")
	flags.String("render", "", "criteria renderer: static, chromedp or auto")
	flags.Duration("delay", 0, "pause between two requests of one crawl unit")
	flags.Int("max-pages", 0, "upper bound on ranking listing pages")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("dev", false, "human readable development logs")
	flags.String("metrics-addr", "", "serve /metrics and run status on this address")

	cmd.AddCommand(newRankingCmd(), newReviewsCmd(), newCriteriaCmd(), newRunCmd())
	return cmd
}

// bindFlags lets explicitly set flags override file and environment values.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()
	for name, key := range flagBindings {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

func sessionFrom(ctx context.Context) (*Session, error) {
	session, ok := ctx.Value(sessionKey).(*Session)
	if !ok || session == nil {
		return nil, errors.New("application services not initialized")
	}
	return session, nil
}

// runStage runs one stage, serving status on metrics.addr meanwhile, prints
// the summary table and closes the session. A status server failure does not stop the crawl.
func runStage(cmd *cobra.Command, stage func(context.Context, Stages) (pipeline.Summary, error)) error {
	session, err := sessionFrom(cmd.Context())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if addr := session.Config.Metrics.Addr; addr != "" {
		server := api.NewServer(session.Tracker, session.Logger)
		g.Go(func() error {
			if err := server.ListenAndServe(gctx, addr); err != nil {
				session.Logger.Error("status server failed, crawl continues", zap.Error(err))
			}
			return nil
		})
	}
	var sum pipeline.Summary
	g.Go(func() error {
		defer cancel()
		var runErr error
		sum, runErr = stage(ctx, session.Stages)
		return runErr
	})
	err = g.Wait()
	if sum.RunID != "" {
		sum.Render(cmd.OutOrStdout())
	}
	if session.Close != nil {
		err = errors.Join(err, session.Close())
	}
	return err
}

// Execute runs the CLI until completion or SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Command execution failed:", err)
		stop()
		os.Exit(1) //nolint:gocritic
	}
}
