package headless

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{NavigationTimeout: -time.Second}); err == nil {
		t.Fatal("expected error for negative navigation timeout")
	}
	browser, err := NewChromedp(Config{})
	require.NoError(t, err)
	defer browser.Close()
	assert.Equal(t, "body", browser.cfg.WaitSelector)
	assert.Equal(t, 500*time.Millisecond, browser.cfg.Settle)
}

func TestSessionNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	session := &Session{}
	if got := session.navTimeout(); got != DefaultNavigationTimeout {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	session.cfg.NavigationTimeout = time.Second
	if got := session.navTimeout(); got != time.Second {
		t.Fatalf("expected override to be used, got %v", got)
	}
}

func TestSessionRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	browser, err := NewChromedp(Config{})
	require.NoError(t, err)
	defer browser.Close()

	session, err := browser.NewSession(context.Background())
	require.NoError(t, err)
	_, err = session.Render(context.Background(), "/relative.html")
	require.ErrorIs(t, err, crawler.ErrRelativeURL)
	require.NoError(t, session.Close(context.Background()))
	require.NoError(t, session.Close(context.Background()), "close must be idempotent")
}

func TestNewSessionCanceledContext(t *testing.T) {
	t.Parallel()

	browser, err := NewChromedp(Config{})
	require.NoError(t, err)
	defer browser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = browser.Factory()(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNetworkHeaders(t *testing.T) {
	t.Parallel()

	netHeaders := toNetworkHeaders(http.Header{"X-Test": {"a", "b"}, "X-One": {"1"}, "X-None": {}})
	switch v := netHeaders["X-Test"].(type) {
	case []string:
		if len(v) != 2 {
			t.Fatalf("expected two entries, got %v", v)
		}
	default:
		t.Fatalf("expected []string, got %T", v)
	}
	assert.Equal(t, "1", netHeaders["X-One"])
	assert.NotContains(t, netHeaders, "X-None")
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.capture(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 404,
			URL:    "https://example.com/rendered",
		},
	})
	meta.capture(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://ads.example.com/frame"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	if status != 404 || url != "https://example.com/rendered" {
		t.Fatalf("unexpected snapshot values: status=%d url=%s", status, url)
	}

	meta = newResponseMeta()
	status, url = meta.snapshotWithFallbacks("https://req", "https://final")
	if status != http.StatusOK || url != "https://final" {
		t.Fatalf("expected fallback values, got status=%d url=%s", status, url)
	}
}

type stubFetcher struct {
	page crawler.Page
	err  error
	urls []string
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string) (crawler.Page, error) {
	s.urls = append(s.urls, rawURL)
	return s.page, s.err
}

func TestStaticRenderer(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{page: crawler.Page{URL: "https://example.com", Body: []byte("<html/>")}}
	renderer, err := StaticFactory(fetcher)(context.Background())
	require.NoError(t, err)
	page, err := renderer.Render(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "<html/>", string(page.Body))
	assert.Equal(t, []string{"https://example.com"}, fetcher.urls)
	require.NoError(t, renderer.Close(context.Background()))

	boom := errors.New("boom")
	_, err = NewStatic(&stubFetcher{err: boom}).Render(context.Background(), "https://example.com")
	require.ErrorIs(t, err, boom)
}

func TestClosedSessionDoesNotStartBrowser(t *testing.T) {
	t.Parallel()

	browser, err := NewChromedp(Config{})
	require.NoError(t, err)
	defer browser.Close()

	session, err := browser.NewSession(context.Background())
	require.NoError(t, err)
	require.NoError(t, session.Close(context.Background()))
	_, err = session.Render(context.Background(), "https://example.com")
	require.ErrorIs(t, err, errSessionClosed)
	assert.Nil(t, browser.root, "no browser is launched for a closed session")
}

func TestClosedBrowserRejectsSessions(t *testing.T) {
	t.Parallel()

	browser, err := NewChromedp(Config{})
	require.NoError(t, err)
	browser.Close()

	session, err := browser.NewSession(context.Background())
	require.NoError(t, err)
	_, err = session.Render(context.Background(), "https://example.com")
	require.ErrorIs(t, err, errBrowserClosed)
}

func chromeAvailable() bool {
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

func TestSessionRendersRepeatedly(t *testing.T) {
	if testing.Short() || !chromeAvailable() {
		t.Skip("chrome binary not available")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body><p id=\"path\">" + r.URL.Path + "</p></body></html>"))
	}))
	defer srv.Close()

	browser, err := NewChromedp(Config{NavigationTimeout: 20 * time.Second, Settle: time.Millisecond})
	require.NoError(t, err)
	defer browser.Close()
	session, err := browser.NewSession(context.Background())
	require.NoError(t, err)
	defer func() { _ = session.Close(context.Background()) }()

	for _, path := range []string{"/first.html", "/second.html", "/third.html"} {
		page, err := session.Render(context.Background(), srv.URL+path)
		require.NoError(t, err, "render %s", path)
		assert.Contains(t, string(page.Body), path)
		assert.True(t, page.UsedJS)
	}

	other, err := browser.NewSession(context.Background())
	require.NoError(t, err)
	defer func() { _ = other.Close(context.Background()) }()
	_, err = other.Render(context.Background(), srv.URL+"/other.html")
	require.NoError(t, err, "a second tab shares the running browser")
}
