package crawler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a fixed minimum delay between consecutive requests of a
// crawl unit. The first request goes out immediately.
type Pacer struct {
	limiter *rate.Limiter
	delay   time.Duration
}

// NewPacer returns a Pacer spacing requests by delay. A non-positive delay
// disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	if delay <= 0 {
		return &Pacer{}
	}
	return &Pacer{
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		delay:   delay,
	}
}

// Delay reports the configured spacing.
func (p *Pacer) Delay() time.Duration {
	if p == nil {
		return 0
	}
	return p.delay
}

// Wait blocks until the next request may be sent or ctx is done. When the
// next slot falls past ctx's deadline, Wait blocks until the deadline and
// returns context.DeadlineExceeded.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return ctx.Err()
	}
	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			<-ctx.Done()
		}
		return fmt.Errorf("pacer wait: %w", ctx.Err())
	}
	return nil
}

// sleepCtx pauses for delay unless ctx finishes first.
func sleepCtx(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
