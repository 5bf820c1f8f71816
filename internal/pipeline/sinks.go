package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
	"github.com/JakeFAU/ecoles-crawler/internal/publisher"
	"github.com/JakeFAU/ecoles-crawler/internal/storage"
	"github.com/JakeFAU/ecoles-crawler/internal/storage/postgres"
)

// publish delivers a completed run to every configured sink. Every sink is
// attempted; their errors are joined.
func (p *Pipeline) publish(
	ctx context.Context,
	sum *Summary,
	reviews []crawler.ReviewRecord,
	criteria []crawler.CriterionRecord,
) error {
	var errs []error

	if p.deps.Records != nil {
		run := postgres.Run{
			ID:         sum.RunID,
			Stage:      sum.Stage,
			StartedAt:  sum.StartedAt,
			FinishedAt: sum.FinishedAt,
			Canceled:   sum.Canceled,
			Schools:    sum.Schools,
			Failures:   len(sum.Failures),
		}
		if err := p.deps.Records.SaveRun(ctx, run, reviews, criteria); err != nil {
			errs = append(errs, fmt.Errorf("record sink: %w", err))
		} else {
			p.logger.Info("run stored", zap.String("run_id", sum.RunID),
				zap.Int("reviews", len(reviews)), zap.Int("criteria", len(criteria)))
		}
	}

	for _, store := range p.deps.Blobs {
		uris, err := storage.UploadFiles(ctx, store, p.cfg.Sinks.Prefix, sum.RunID, sum.Files)
		sum.Objects = append(sum.Objects, uris...)
		if err != nil {
			errs = append(errs, fmt.Errorf("blob sink: %w", err))
		}
	}
	if len(sum.Objects) > 0 {
		p.logger.Info("tables uploaded", zap.String("run_id", sum.RunID), zap.Strings("objects", sum.Objects))
	}

	if p.deps.Publisher != nil {
		files := sum.Objects
		if len(files) == 0 {
			files = sum.Files
		}
		msgID, err := p.deps.Publisher.Publish(ctx, publisher.DatasetReady{
			RunID:      sum.RunID,
			Stage:      sum.Stage,
			FinishedAt: sum.FinishedAt,
			Canceled:   sum.Canceled,
			Files:      files,
			Checksums:  sum.Checksums,
			Reviews:    sum.Reviews,
			Criteria:   sum.Criteria,
			Schools:    sum.Schools,
			Failures:   len(sum.Failures),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		} else {
			p.logger.Info("dataset announced", zap.String("run_id", sum.RunID), zap.String("message_id", msgID))
		}
	}
	return errors.Join(errs...)
}
