package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for common failure modes.
var (
	ErrRelativeURL       = errors.New("url must be absolute")
	ErrRankingIncomplete = errors.New("ranking crawl incomplete")
	ErrNoThemes          = errors.New("no thematic section found")
	ErrRendererDisabled  = errors.New("renderer disabled")
)

// FetchKind classifies a fetch failure.
type FetchKind string

// Fetch failure kinds.
const (
	FetchNetwork    FetchKind = "network"
	FetchTimeout    FetchKind = "timeout"
	FetchHTTPStatus FetchKind = "http_status"
)

// FetchError wraps errors that occur during fetching.
type FetchError struct {
	Kind       FetchKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPStatus {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewStatusError builds the FetchError reported for a non-2xx response.
func NewStatusError(rawURL string, code int) *FetchError {
	return &FetchError{
		Kind:       FetchHTTPStatus,
		URL:        rawURL,
		StatusCode: code,
		Err:        errors.New(http.StatusText(code)),
	}
}

// ClassifyTransportError turns a transport-level error into a FetchError.
func ClassifyTransportError(rawURL string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	kind := FetchNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = FetchTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = FetchTimeout
	}
	return &FetchError{Kind: kind, URL: rawURL, Err: err}
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == FetchHTTPStatus {
		return fe.StatusCode
	}
	return 0
}

// ExtractionGap records an expected substructure missing from a page. It is
// logged and never propagated.
type ExtractionGap struct {
	URL      string
	Selector string
	Reason   string
}

func (g *ExtractionGap) Error() string {
	return fmt.Sprintf("extraction gap on %s (selector=%q): %s", g.URL, g.Selector, g.Reason)
}

// SchoolFailure records a school whose detail crawl produced nothing usable.
type SchoolFailure struct {
	School string `json:"school"`
	URL    string `json:"url"`
	Err    error  `json:"-"`
}

func (f SchoolFailure) Error() string {
	return fmt.Sprintf("school %q (%s): %v", f.School, f.URL, f.Err)
}

func (f SchoolFailure) Unwrap() error { return f.Err }
