package headless

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
)

// Promoter decides whether a static page must be rendered in a browser.
type Promoter interface {
	ShouldPromote(page crawler.Page) bool
}

// Auto fetches statically first and opens a browser session only for pages
// the promoter rejects. The session is opened lazily and reused.
type Auto struct {
	static   crawler.Renderer
	open     crawler.RendererFactory
	promoter Promoter
	logger   *zap.Logger

	js crawler.Renderer
}

// AutoFactory returns a RendererFactory handing out Auto renderers. open is
// called at most once per renderer, on the first promotion.
func AutoFactory(fetcher crawler.Fetcher, open crawler.RendererFactory, promoter Promoter, logger *zap.Logger) crawler.RendererFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(context.Context) (crawler.Renderer, error) {
		return &Auto{
			static:   NewStatic(fetcher),
			open:     open,
			promoter: promoter,
			logger:   logger,
		}, nil
	}
}

// Render implements crawler.Renderer.
func (a *Auto) Render(ctx context.Context, rawURL string) (crawler.Page, error) {
	page, err := a.static.Render(ctx, rawURL)
	if err != nil {
		return crawler.Page{}, err
	}
	if a.promoter == nil || !a.promoter.ShouldPromote(page) {
		return page, nil
	}
	a.logger.Debug("promoting to headless render", zap.String("url", rawURL), zap.Int("bytes", page.ContentLength()))
	if a.js == nil {
		js, err := a.open(ctx)
		if err != nil {
			return crawler.Page{}, fmt.Errorf("open headless session: %w", err)
		}
		a.js = js
	}
	return a.js.Render(ctx, rawURL)
}

// Close releases the browser session if one was opened.
func (a *Auto) Close(ctx context.Context) error {
	if a.js == nil {
		return nil
	}
	err := a.js.Close(ctx)
	a.js = nil
	return err
}
