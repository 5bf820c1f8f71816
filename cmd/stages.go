package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/ecoles-crawler/internal/pipeline"
)

func newRankingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ranking",
		Short: "Crawls the ranking listing into the school table",
		Long: `Walks the ranking listing page by page, resolves every school to its
canonical detail page and writes the school table (paths.schools).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, func(ctx context.Context, s Stages) (pipeline.Summary, error) {
				return s.Ranking(ctx)
			})
		},
	}
}

func newReviewsCmd() *cobra.Command {
	var urls []string
	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "Collects the authenticated reviews of every school",
		Long: `Walks the paginated review stream of every school of the school table,
or of the detail pages given with --url, and writes the review table
(paths.reviews).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, func(ctx context.Context, s Stages) (pipeline.Summary, error) {
				return s.Reviews(ctx, urls)
			})
		},
	}
	cmd.Flags().StringSliceVar(&urls, "url", nil, "detail page to crawl instead of the school table (repeatable)")
	return cmd
}

func newCriteriaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "criteria",
		Short: "Extracts the per-theme criteria scores of every school",
		Long: `Renders the detail page of every school of the school table and writes
one row per criterion of every configured theme (paths.criteria).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, func(ctx context.Context, s Stages) (pipeline.Summary, error) {
				return s.Criteria(ctx)
			})
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the ranking crawl followed by reviews and criteria",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, func(ctx context.Context, s Stages) (pipeline.Summary, error) {
				return s.Run(ctx)
			})
		},
	}
}
