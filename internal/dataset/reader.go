package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("missing column")

// ReadSchools loads a school table with columns name,url and an optional
// alt_url. Rows without a url are skipped.
func ReadSchools(path string) ([]crawler.SchoolRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open school table: %w", err)
	}
	defer func() { _ = f.Close() }()
	return DecodeSchools(f)
}

// DecodeSchools parses a school table from r.
func DecodeSchools(r io.Reader) ([]crawler.SchoolRef, error) {
	t, err := readTable(r, "name", "url")
	if err != nil {
		return nil, err
	}
	schools := make([]crawler.SchoolRef, 0, len(t.rows))
	for _, row := range t.rows {
		ref := crawler.SchoolRef{
			Name:         t.get(row, "name"),
			CanonicalURL: t.get(row, "url"),
			AltURL:       t.get(row, "alt_url"),
		}
		if ref.CanonicalURL == "" {
			continue
		}
		schools = append(schools, ref)
	}
	return schools, nil
}

// ReadOverrides loads the false-positive table (name,url) mapping a school
// name to its known detail URL.
func ReadOverrides(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open override table: %w", err)
	}
	defer func() { _ = f.Close() }()
	return DecodeOverrides(f)
}

// DecodeOverrides parses an override table from r. Later rows replace
// earlier ones with the same name.
func DecodeOverrides(r io.Reader) (map[string]string, error) {
	t, err := readTable(r, "name", "url")
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(t.rows))
	for _, row := range t.rows {
		name, u := t.get(row, "name"), t.get(row, "url")
		if name == "" || u == "" {
			continue
		}
		out[name] = u
	}
	return out, nil
}

type table struct {
	index map[string]int
	rows  [][]string
}

func (t table) get(row []string, column string) string {
	i, ok := t.index[column]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func readTable(r io.Reader, required ...string) (table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return table{}, fmt.Errorf("read table: %w", err)
	}
	cr := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return table{}, fmt.Errorf("parse table: %w", err)
	}
	if len(records) == 0 {
		return table{}, fmt.Errorf("%w: empty table", ErrMissingColumn)
	}
	t := table{index: make(map[string]int, len(records[0])), rows: records[1:]}
	for i, h := range records[0] {
		t.index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range required {
		if _, ok := t.index[col]; !ok {
			return table{}, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}
	return t, nil
}
