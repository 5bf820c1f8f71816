package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy allowing maxAttempts tries in total.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    10 * time.Second,
	}
}

// ShouldRetry retries timeouts, throttling and server errors only.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	switch fe.Kind {
	case FetchTimeout, FetchNetwork:
		return true
	case FetchHTTPStatus:
		return fe.StatusCode == http.StatusTooManyRequests || fe.StatusCode >= 500
	default:
		return false
	}
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// FetchPaced waits on the pacer, then fetches rawURL, retrying according to
// policy. A nil policy means a single attempt.
func FetchPaced(
	ctx context.Context,
	fetcher Fetcher,
	pacer *Pacer,
	policy RetryPolicy,
	rawURL string,
	logger *zap.Logger,
) (Page, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for attempt := 1; ; attempt++ {
		if err := pacer.Wait(ctx); err != nil {
			return Page{}, err
		}
		page, err := fetcher.Fetch(ctx, rawURL)
		if err == nil {
			return page, nil
		}
		if policy == nil || !policy.ShouldRetry(err, attempt) {
			return Page{}, err
		}
		wait := policy.Backoff(attempt)
		logger.Warn("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, wait); err != nil {
			return Page{}, err
		}
	}
}
