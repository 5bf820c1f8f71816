package crawler

import (
	"context"
	"time"
)

// Fetcher issues a single GET and returns the raw markup.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Renderer produces the DOM of a page, possibly through a stateful browser.
// A Renderer is owned by one goroutine at a time and must be closed.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Page, error)
	Close(ctx context.Context) error
}

// RendererFactory acquires a fresh Renderer session.
type RendererFactory func(ctx context.Context) (Renderer, error)

// RetryPolicy decides whether a failed fetch is retried and how long to wait.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher digests a finished table so consumers can detect changes.
type Hasher interface {
	HashFile(path string) (string, error)
}
