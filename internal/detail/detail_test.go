package detail

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
	"github.com/JakeFAU/ecoles-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/ecoles-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/ecoles-crawler/internal/fetcher/headless"
)

const card = `<div class="tw-w-full tw-mb-2 tw-border-solid tw-border tw-border-gray-500 tw-rounded-large">
<p class="tw-text-sans"><span class="tw-font-medium">Auteur %d</span> a publié un avis le 01/02/2024</p>
<span class="tw-text-primary tw-font-heading">4,%d</span>
<p class="tw-break-words">Avis %d</p>
</div>`

func reviewMarkup(n int) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, card, i, i%10, i)
	}
	b.WriteString("</body></html>")
	return b.String()
}

const themedMarkup = `<html><body>
<div id="t-425-header"><h2>International</h2></div>
<div id="t-425-criteria">
  <div class="criterion-row"><span class="tw-font-medium">Partenariats</span><div class="tw-bg-ranking-green">8,5</div><div class="tw-text-right">17/20</div></div>
  <div class="criterion-row"><span class="tw-font-medium">Mobilité</span></div>
</div>
<div id="t-430-criteria">
  <div class="criterion-row"><span class="tw-font-medium">Insertion</span><div class="tw-bg-ranking-green">9</div></div>
</div>
</body></html>`

type site struct {
	srv  *httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

// newSite serves review pages: reviewCounts[path][p-1] cards on ?page=p and
// none beyond. Paths listed in themed serve themedMarkup; paths in failing
// answer 404.
func newSite(t *testing.T, reviewCounts map[string][]int, themed map[string]bool, failing map[string]bool) *site {
	t.Helper()
	s := &site{hits: make(map[string]int)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		if failing[r.URL.Path] {
			http.NotFound(w, r)
			return
		}
		if themed[r.URL.Path] {
			_, _ = w.Write([]byte(themedMarkup))
			return
		}
		p, _ := strconv.Atoi(r.URL.Query().Get("page"))
		counts := reviewCounts[r.URL.Path]
		n := 0
		if p >= 1 && p <= len(counts) {
			n = counts[p-1]
		}
		_, _ = w.Write([]byte(reviewMarkup(n)))
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *site) url(path string) string { return s.srv.URL + path }

func (s *site) hitsFor(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func newFetcher(t *testing.T) crawler.Fetcher {
	t.Helper()
	f, err := collyfetcher.New(collyfetcher.Config{Timeout: 2 * time.Second})
	require.NoError(t, err)
	return f
}

func newCrawler(t *testing.T, cfg Config, fetcher crawler.Fetcher, renderers crawler.RendererFactory) *Crawler {
	t.Helper()
	c, err := New(cfg, fetcher, renderers, extract.New(extract.DefaultSelectors(), nil), nil)
	require.NoError(t, err)
	return c
}

func TestReviewPaginationStopsOnShortPage(t *testing.T) {
	s := newSite(t, map[string][]int{"/a.html": {20, 20, 7}}, nil, nil)
	fetcher := newFetcher(t)
	c := newCrawler(t, Config{}, fetcher, nil)

	out, err := c.CrawlReviews(context.Background(), crawler.SchoolRef{Name: "A", CanonicalURL: s.url("/a.html#classement")})
	require.NoError(t, err)
	assert.Equal(t, 3, s.hitsFor("/a.html"))
	assert.Equal(t, 3, out.Pages)
	assert.Len(t, out.Records, 47)
	assert.Equal(t, s.url("/a.html"), out.URL)
	assert.Equal(t, s.url("/a.html"), out.Records[46].SourceURL)
	assert.Equal(t, "A", out.Records[0].School)
}

func TestMalformedCardStillCountsTowardFullPage(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Query().Get("page") {
		case "1":
			body := strings.Replace(reviewMarkup(19), "</body>",
				`<div class="tw-w-full tw-mb-2 tw-border-solid tw-border tw-border-gray-500 tw-rounded-large"><div>publicité</div></div></body>`, 1)
			_, _ = w.Write([]byte(body))
		case "2":
			_, _ = w.Write([]byte(reviewMarkup(5)))
		default:
			_, _ = w.Write([]byte(reviewMarkup(0)))
		}
	}))
	t.Cleanup(srv.Close)
	c := newCrawler(t, Config{}, newFetcher(t), nil)

	out, err := c.CrawlReviews(context.Background(), crawler.SchoolRef{Name: "A", CanonicalURL: srv.URL + "/a.html"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load(), "20 matched cards make a full page")
	assert.Equal(t, 2, out.Pages)
	assert.Len(t, out.Records, 24)
}

func TestReviewPaginationEmptyFirstPage(t *testing.T) {
	s := newSite(t, map[string][]int{"/a.html": {0}}, nil, nil)
	c := newCrawler(t, Config{}, newFetcher(t), nil)

	out, err := c.CrawlReviews(context.Background(), crawler.SchoolRef{Name: "A", CanonicalURL: s.url("/a.html")})
	require.NoError(t, err)
	assert.Equal(t, 1, s.hitsFor("/a.html"))
	assert.Empty(t, out.Records)
}

func TestReviewPaginationFullPagesThenEmpty(t *testing.T) {
	s := newSite(t, map[string][]int{"/a.html": {20, 20}}, nil, nil)
	c := newCrawler(t, Config{}, newFetcher(t), nil)

	out, err := c.CrawlReviews(context.Background(), crawler.SchoolRef{Name: "A", CanonicalURL: s.url("/a.html")})
	require.NoError(t, err)
	assert.Equal(t, 3, s.hitsFor("/a.html"))
	assert.Len(t, out.Records, 40)
}

func TestReviewPageCap(t *testing.T) {
	s := newSite(t, map[string][]int{"/a.html": {1, 1, 1, 1}}, nil, nil)
	c := newCrawler(t, Config{ReviewPageSize: 1, MaxReviewPages: 2}, newFetcher(t), nil)

	out, err := c.CrawlReviews(context.Background(), crawler.SchoolRef{Name: "A", CanonicalURL: s.url("/a.html")})
	require.NoError(t, err)
	assert.Equal(t, 2, s.hitsFor("/a.html"))
	assert.Len(t, out.Records, 2)
}

func TestReviewFallbackOnFetchError(t *testing.T) {
	s := newSite(t, map[string][]int{"/alt.html": {3}}, nil, map[string]bool{"/primary.html": true})
	c := newCrawler(t, Config{}, newFetcher(t), nil)

	out, err := c.CrawlReviews(context.Background(), crawler.SchoolRef{
		Name:         "B",
		CanonicalURL: s.url("/primary.html"),
		AltURL:       s.url("/alt.html"),
	})
	require.NoError(t, err)
	assert.True(t, out.UsedFallback)
	assert.Len(t, out.Records, 3)
	assert.Equal(t, s.url("/alt.html"), out.Records[0].SourceURL)
}

func TestReviewTotalFailure(t *testing.T) {
	s := newSite(t, nil, nil, map[string]bool{"/primary.html": true, "/alt.html": true})
	c := newCrawler(t, Config{}, newFetcher(t), nil)

	_, err := c.CrawlReviews(context.Background(), crawler.SchoolRef{
		Name:         "B",
		CanonicalURL: s.url("/primary.html"),
		AltURL:       s.url("/alt.html"),
	})
	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
}

func TestCriteriaFallbackToAltURL(t *testing.T) {
	s := newSite(t, nil, map[string]bool{"/alt.html": true}, nil)
	fetcher := newFetcher(t)
	c := newCrawler(t, Config{}, fetcher, headless.StaticFactory(fetcher))

	out, err := c.CrawlCriteria(context.Background(), headless.NewStatic(fetcher), crawler.SchoolRef{
		Name:         "Polytechnique",
		CanonicalURL: s.url("/primary.html"),
		AltURL:       s.url("/alt.html"),
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.True(t, out.UsedFallback)
	assert.Equal(t, s.url("/alt.html"), out.URL)
	assert.Equal(t, 2, out.ThemesFound)
	require.Len(t, out.Records, 3)
	for _, rec := range out.Records {
		assert.Equal(t, "Polytechnique", rec.School)
		assert.True(t, crawler.DefaultThemeIDs.Contains(rec.ThemeID))
	}
	assert.Equal(t, "Thématique 430", out.Records[2].ThemeTitle)
	assert.Equal(t, 1, s.hitsFor("/primary.html"))
	assert.Equal(t, 1, s.hitsFor("/alt.html"))
}

func TestCriteriaWithoutThemesFails(t *testing.T) {
	s := newSite(t, nil, nil, nil)
	fetcher := newFetcher(t)
	c := newCrawler(t, Config{}, fetcher, nil)

	out, err := c.CrawlCriteria(context.Background(), headless.NewStatic(fetcher), crawler.SchoolRef{
		Name:         "X",
		CanonicalURL: s.url("/primary.html"),
	})
	require.ErrorIs(t, err, crawler.ErrNoThemes)
	assert.False(t, out.Success)
	assert.Empty(t, out.Records)
}

type countingRenderer struct {
	crawler.Renderer
	closed *atomic.Int32
}

func (r countingRenderer) Close(ctx context.Context) error {
	r.closed.Add(1)
	return r.Renderer.Close(ctx)
}

func TestRunMergesInSeedOrderAndReleasesRenderers(t *testing.T) {
	s := newSite(t,
		map[string][]int{"/a.html": {2}, "/b.html": {20, 1}, "/c.html": {0}},
		nil,
		map[string]bool{"/d.html": true},
	)
	fetcher := newFetcher(t)
	var acquired, closed atomic.Int32
	factory := func(ctx context.Context) (crawler.Renderer, error) {
		acquired.Add(1)
		return countingRenderer{Renderer: headless.NewStatic(fetcher), closed: &closed}, nil
	}
	c := newCrawler(t, Config{Workers: 3}, fetcher, factory)

	schools := []crawler.SchoolRef{
		{Name: "A", CanonicalURL: s.url("/a.html")},
		{Name: "B", CanonicalURL: s.url("/b.html")},
		{Name: "C", CanonicalURL: s.url("/c.html")},
		{Name: "D", CanonicalURL: s.url("/d.html")},
	}
	res, err := c.Run(context.Background(), schools, StageReviews)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Schools)
	require.Len(t, res.Reviews, 23)
	assert.Equal(t, "A", res.Reviews[0].School)
	assert.Equal(t, "A", res.Reviews[1].School)
	assert.Equal(t, "B", res.Reviews[2].School)
	assert.Equal(t, "B", res.Reviews[22].School)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "D", res.Failures[0].School)
	assert.Zero(t, acquired.Load(), "review-only runs do not open renderers")

	res, err = c.Run(context.Background(), schools, StageCriteria)
	require.NoError(t, err)
	assert.Len(t, res.Failures, 4, "no school carries thematic sections")
	assert.Equal(t, acquired.Load(), closed.Load())
	assert.Positive(t, acquired.Load())
}

func TestRunRequiresRendererForCriteria(t *testing.T) {
	c := newCrawler(t, Config{}, newFetcher(t), nil)
	_, err := c.Run(context.Background(), nil, StageAll)
	require.ErrorIs(t, err, crawler.ErrRendererDisabled)
}

type cancelingFetcher struct {
	inner  crawler.Fetcher
	cancel context.CancelFunc
	after  string
}

func (f cancelingFetcher) Fetch(ctx context.Context, rawURL string) (crawler.Page, error) {
	if strings.Contains(rawURL, f.after) {
		f.cancel()
		return crawler.Page{}, crawler.ClassifyTransportError(rawURL, context.Canceled)
	}
	return f.inner.Fetch(ctx, rawURL)
}

func TestRunFlushesOnCancel(t *testing.T) {
	s := newSite(t, map[string][]int{"/a.html": {5}, "/b.html": {5}}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := cancelingFetcher{inner: newFetcher(t), cancel: cancel, after: "/b.html"}
	c := newCrawler(t, Config{Workers: 1}, fetcher, nil)

	res, err := c.Run(ctx, []crawler.SchoolRef{
		{Name: "A", CanonicalURL: s.url("/a.html")},
		{Name: "B", CanonicalURL: s.url("/b.html")},
		{Name: "C", CanonicalURL: s.url("/c.html")},
	}, StageReviews)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Canceled)
	assert.Len(t, res.Reviews, 5, "rows collected before the abort are kept")
	assert.Empty(t, res.Failures, "interrupted schools are not failures")
	assert.Zero(t, s.hitsFor("/c.html"))
}

func TestSchoolBudgetKeepsRows(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) > 1 {
			time.Sleep(500 * time.Millisecond)
		}
		_, _ = w.Write([]byte(reviewMarkup(20)))
	}))
	defer srv.Close()

	c := newCrawler(t, Config{SchoolBudget: 200 * time.Millisecond}, newFetcher(t), nil)
	res, err := c.Run(context.Background(), []crawler.SchoolRef{{Name: "Slow", CanonicalURL: srv.URL + "/slow.html"}}, StageReviews)
	require.NoError(t, err)
	assert.Len(t, res.Reviews, 20)
	assert.Equal(t, 1, res.Truncated)
	assert.Empty(t, res.Failures)
}

func TestPacedOutBudgetSkipsCriteria(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(reviewMarkup(20)))
	}))
	defer srv.Close()

	fetcher := newFetcher(t)
	cfg := Config{SchoolBudget: 150 * time.Millisecond, Delay: 5 * time.Second}
	c := newCrawler(t, cfg, fetcher, headless.StaticFactory(fetcher))
	res, err := c.Run(context.Background(), []crawler.SchoolRef{{Name: "Paced", CanonicalURL: srv.URL + "/paced.html"}}, StageAll)
	require.NoError(t, err)
	assert.Len(t, res.Reviews, 20)
	assert.Equal(t, 1, res.Truncated, "a pacer slot past the budget exhausts it")
	assert.Empty(t, res.Criteria)
	assert.Empty(t, res.Failures)
	assert.EqualValues(t, 1, hits.Load(), "criteria stage is not started")
}

func TestSchoolNameFromURLWhenMissing(t *testing.T) {
	s := newSite(t, map[string][]int{"/etablissement-hetic-7868.html": {1}}, nil, nil)
	c := newCrawler(t, Config{}, newFetcher(t), nil)

	out, err := c.CrawlReviews(context.Background(), crawler.SchoolRef{CanonicalURL: s.url("/etablissement-hetic-7868.html")})
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, "Etablissement Hetic 7868", out.Records[0].School)
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "reviews", StageReviews.String())
	assert.Equal(t, "criteria", StageCriteria.String())
	assert.Equal(t, "all", StageAll.String())
	assert.True(t, StageAll.Has(StageCriteria))
	assert.False(t, StageReviews.Has(StageCriteria))
}
