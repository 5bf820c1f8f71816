package pipeline

import (
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
)

// Summary describes one finished run.
type Summary struct {
	RunID      string
	Stage      string
	StartedAt  time.Time
	FinishedAt time.Time
	Canceled   bool

	Pages    int
	Resolved int
	Schools  int
	Crawled  int

	Reviews   int
	Criteria  int
	Fallbacks int
	Truncated int
	Orphans   int
	Failures  []crawler.SchoolFailure

	// UnknownThemes counts criteria rows outside the published themes.
	UnknownThemes int

	// Files are the local tables written; Objects their uploaded copies.
	Files   []string
	Objects []string

	// Checksums maps table base names to their digest.
	Checksums map[string]string
}

// Elapsed is the wall time of the run.
func (s Summary) Elapsed() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Render writes the summary and its failures as tables.
func (s Summary) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("run " + s.RunID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"stage", s.Stage})
	t.AppendRow(table.Row{"elapsed", s.Elapsed().Round(time.Millisecond)})
	if s.Pages > 0 {
		t.AppendRow(table.Row{"ranking pages", s.Pages})
		t.AppendRow(table.Row{"names resolved", s.Resolved})
	}
	t.AppendRow(table.Row{"schools", s.Schools})
	if s.Stage != StageRanking {
		t.AppendRow(table.Row{"schools crawled", s.Crawled})
		t.AppendRow(table.Row{"reviews", s.Reviews})
		t.AppendRow(table.Row{"criteria", s.Criteria})
		t.AppendRow(table.Row{"fallbacks", s.Fallbacks})
		t.AppendRow(table.Row{"truncated", s.Truncated})
		t.AppendRow(table.Row{"orphan rows", s.Orphans})
		if s.UnknownThemes > 0 {
			t.AppendRow(table.Row{"unknown theme rows", s.UnknownThemes})
		}
	}
	t.AppendRow(table.Row{"failures", len(s.Failures)})
	t.AppendRow(table.Row{"canceled", s.Canceled})
	for _, f := range s.Files {
		t.AppendRow(table.Row{"file", f})
	}
	for _, o := range s.Objects {
		t.AppendRow(table.Row{"object", o})
	}
	t.Render()

	if len(s.Failures) == 0 {
		return
	}
	ft := table.NewWriter()
	ft.SetOutputMirror(w)
	ft.SetStyle(table.StyleRounded)
	ft.AppendHeader(table.Row{"School", "URL", "Status", "Error"})
	for _, f := range s.Failures {
		status := ""
		if code := crawler.StatusCode(f.Err); code != 0 {
			status = strconv.Itoa(code)
		}
		ft.AppendRow(table.Row{f.School, f.URL, status, f.Err})
	}
	ft.Render()
}
