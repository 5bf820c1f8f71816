// Package headless contains renderers that execute JavaScript via browsers.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
	"github.com/JakeFAU/ecoles-crawler/internal/metrics"
)

// DefaultNavigationTimeout bounds a single render when none is configured.
const DefaultNavigationTimeout = 45 * time.Second

// Config controls the behavior of the headless browser.
type Config struct {
	UserAgent         string
	Headers           http.Header
	NavigationTimeout time.Duration
	// WaitSelector must be present before the DOM is captured.
	WaitSelector string
	// Settle is an extra pause after WaitSelector so late scripts can finish.
	Settle time.Duration
}

var (
	errBrowserClosed = errors.New("headless browser closed")
	errSessionClosed = errors.New("headless session closed")
)

// Browser owns one headless Chrome process. Sessions (tabs) are opened from
// it and each one is used by a single goroutine.
type Browser struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc

	startOnce  sync.Once
	root       context.Context
	rootCancel context.CancelFunc
	startErr   error
}

// NewChromedp creates a headless browser backed by chromedp. Chrome itself is
// started lazily on the first render.
func NewChromedp(cfg Config) (*Browser, error) {
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	if cfg.Settle == 0 {
		cfg.Settle = 500 * time.Millisecond
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// start launches Chrome once. The process is bound to the root browser
// context, never to the deadline of a render.
func (b *Browser) start() (context.Context, error) {
	b.startOnce.Do(func() {
		b.root, b.rootCancel = chromedp.NewContext(b.allocator)
		if err := chromedp.Run(b.root); err != nil {
			b.startErr = fmt.Errorf("start headless browser: %w", err)
		}
	})
	return b.root, b.startErr
}

// Close shuts the browser process down. Sessions fail once it is closed.
func (b *Browser) Close() {
	b.startOnce.Do(func() { b.startErr = errBrowserClosed })
	if b.rootCancel != nil {
		b.rootCancel()
	}
	b.allocCancel()
}

// Factory returns a RendererFactory opening a new tab per call.
func (b *Browser) Factory() crawler.RendererFactory {
	return func(ctx context.Context) (crawler.Renderer, error) {
		return b.NewSession(ctx)
	}
}

// NewSession returns a tab of b. The tab is attached on first render. The
// caller must Close it.
func (b *Browser) NewSession(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open headless session: %w", err)
	}
	return &Session{cfg: b.cfg, browser: b}, nil
}

// Session is one browser tab implementing crawler.Renderer.
type Session struct {
	cfg     Config
	browser *Browser
	tab     context.Context
	cancel  context.CancelFunc

	openOnce  sync.Once
	openErr   error
	closeOnce sync.Once
	setupOnce sync.Once
	setupErr  error
}

// open attaches the tab to the shared browser without a deadline, so later
// renders reuse the same target.
func (s *Session) open() error {
	s.openOnce.Do(func() {
		root, err := s.browser.start()
		if err != nil {
			s.openErr = err
			return
		}
		s.tab, s.cancel = chromedp.NewContext(root)
		if err := chromedp.Run(s.tab); err != nil {
			s.openErr = fmt.Errorf("open browser tab: %w", err)
		}
	})
	return s.openErr
}

// Render navigates to rawURL and returns the fully rendered DOM.
func (s *Session) Render(ctx context.Context, rawURL string) (crawler.Page, error) {
	if !crawler.IsAbsoluteURL(rawURL) {
		return crawler.Page{}, fmt.Errorf("%w: %q", crawler.ErrRelativeURL, rawURL)
	}
	start := time.Now()
	if err := s.open(); err != nil {
		fe := crawler.ClassifyTransportError(rawURL, err)
		metrics.ObserveFetch(rawURL, string(fe.Kind), true, 0, time.Since(start))
		return crawler.Page{}, fe
	}
	taskCtx, cancel := context.WithTimeout(s.tab, s.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	html, finalURL, err := s.runHeadless(taskCtx, rawURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		fe := crawler.ClassifyTransportError(rawURL, err)
		metrics.ObserveFetch(rawURL, string(fe.Kind), true, 0, time.Since(start))
		return crawler.Page{}, fe
	}

	status, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	if status < 200 || status > 299 {
		fe := crawler.NewStatusError(rawURL, status)
		metrics.ObserveFetch(rawURL, string(fe.Kind), true, 0, time.Since(start))
		return crawler.Page{}, fe
	}
	page := crawler.Page{
		URL:        rawURL,
		FinalURL:   responseURL,
		StatusCode: status,
		Body:       []byte(html),
		Duration:   time.Since(start),
		UsedJS:     true,
	}
	metrics.ObserveFetch(rawURL, "ok", true, page.ContentLength(), page.Duration)
	return page, nil
}

// Close releases the tab. It is safe to call more than once.
func (s *Session) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		s.openOnce.Do(func() { s.openErr = errSessionClosed })
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}

func (s *Session) runHeadless(ctx context.Context, rawURL string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		s.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady(s.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Sleep(s.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", "", err
		}
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

// networkSetupAction configures the tab once per session.
func (s *Session) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		s.setupOnce.Do(func() {
			s.setupErr = s.setupNetwork(ctx)
		})
		return s.setupErr
	})
}

func (s *Session) setupNetwork(ctx context.Context) error {
	if err := network.Enable().Do(ctx); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}
	if s.cfg.UserAgent != "" {
		if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
	}
	if len(s.cfg.Headers) > 0 {
		if err := network.SetExtraHTTPHeaders(toNetworkHeaders(s.cfg.Headers)).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
	}
	return nil
}

func (s *Session) navTimeout() time.Duration {
	if s.cfg.NavigationTimeout > 0 {
		return s.cfg.NavigationTimeout
	}
	return DefaultNavigationTimeout
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Keep the first document response; later ones are iframes.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	status, url := m.snapshot()
	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
