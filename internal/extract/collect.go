package extract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
)

// ErrEmptyRow is returned by row parsers for containers holding no field.
var ErrEmptyRow = errors.New("row has no recognizable field")

// RowParser turns one container into a record.
type RowParser[T any] func(row *goquery.Selection) (T, error)

// Collect runs parse over every element of rows. Failed rows (including
// panics) are reported to onErr and skipped; successful ones are returned in
// document order. An empty selection yields an empty, non-nil slice.
func Collect[T any](rows *goquery.Selection, parse RowParser[T], onErr func(index int, err error)) []T {
	out := make([]T, 0, rows.Length())
	rows.Each(func(i int, row *goquery.Selection) {
		rec, err := safeParse(row, parse)
		if err != nil {
			if onErr != nil {
				onErr(i, err)
			}
			return
		}
		out = append(out, rec)
	})
	return out
}

func safeParse[T any](row *goquery.Selection, parse RowParser[T]) (rec T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("row parser panic: %v", r)
		}
	}()
	return parse(row)
}

// ParseDecimal parses a localized decimal such as "4,5" or "7,8/10". Empty
// input yields nil and no error.
func ParseDecimal(raw string) (*float64, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "/"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if s == "" {
		return nil, nil
	}
	s = strings.NewReplacer("\u00a0", "", " ", "", ",", ".").Replace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", raw, err)
	}
	return &v, nil
}

// text returns the collapsed text of the first element of sel, or "".
func text(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	return crawler.CollapseSpace(sel.First().Text())
}

// textOr returns the collapsed text of sel, or fallback when sel is empty.
func textOr(sel *goquery.Selection, fallback string) string {
	if sel == nil || sel.Length() == 0 {
		return fallback
	}
	return crawler.CollapseSpace(sel.First().Text())
}
