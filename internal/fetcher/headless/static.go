package headless

import (
	"context"
	"fmt"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
)

// Static implements crawler.Renderer over a plain Fetcher. It is used when
// the thematic sections are served in the initial markup.
type Static struct {
	Fetcher crawler.Fetcher
}

// NewStatic wraps fetcher as a Renderer.
func NewStatic(fetcher crawler.Fetcher) *Static {
	return &Static{Fetcher: fetcher}
}

// StaticFactory returns a RendererFactory handing out Static renderers that
// share fetcher.
func StaticFactory(fetcher crawler.Fetcher) crawler.RendererFactory {
	return func(context.Context) (crawler.Renderer, error) {
		return NewStatic(fetcher), nil
	}
}

// Render fetches rawURL without executing scripts.
func (s *Static) Render(ctx context.Context, rawURL string) (crawler.Page, error) {
	page, err := s.Fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("static render: %w", err)
	}
	return page, nil
}

// Close is a no-op.
func (s *Static) Close(context.Context) error { return nil }
