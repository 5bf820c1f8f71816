// Package dataset reads and writes the CSV tables of a crawl.
package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
	"github.com/JakeFAU/ecoles-crawler/internal/extract"
)

// Default file names of the tables.
const (
	SchoolsFile   = "liens_fiches_ecoles.csv"
	OverridesFile = "false_positive.csv"
	CriteriaFile  = "classements_letudiant.csv"
	ReviewsFile   = "textual_dataset.csv"
)

// utf8BOM prefixes the review table so spreadsheet tools detect UTF-8.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Column headers in output order.
var (
	SchoolColumns   = []string{"name", "url", "alt_url"}
	ReviewColumns   = []string{"ecole", "auteur", "date", "note", "contenu", "url"}
	CriteriaColumns = []string{"École", "Thématique", "ID Thématique", "Critère", "Score /10", "Note brute"}
)

// EncodeSchools renders the school table.
func EncodeSchools(schools []crawler.SchoolRef) ([]byte, error) {
	rows := make([][]string, 0, len(schools))
	for _, s := range schools {
		rows = append(rows, []string{s.Name, s.CanonicalURL, s.AltURL})
	}
	return encode(nil, SchoolColumns, rows)
}

// EncodeReviews renders the review table, BOM included. A nil rating is an
// empty cell.
func EncodeReviews(reviews []crawler.ReviewRecord) ([]byte, error) {
	rows := make([][]string, 0, len(reviews))
	for _, r := range reviews {
		rows = append(rows, []string{r.School, r.Author, r.Date, formatScore(r.Rating, ""), r.Content, r.SourceURL})
	}
	return encode(utf8BOM, ReviewColumns, rows)
}

// EncodeCriteria renders the criteria table. A nil score is written as the
// N/A sentinel.
func EncodeCriteria(criteria []crawler.CriterionRecord) ([]byte, error) {
	rows := make([][]string, 0, len(criteria))
	for _, c := range criteria {
		rows = append(rows, []string{
			c.School,
			c.ThemeTitle,
			strconv.Itoa(c.ThemeID),
			c.CriterionLabel,
			formatScore(c.ScoreOf10, extract.NotAvailable),
			c.RawNote,
		})
	}
	return encode(nil, CriteriaColumns, rows)
}

// WriteSchools overwrites path with the school table.
func WriteSchools(path string, schools []crawler.SchoolRef) error {
	data, err := EncodeSchools(schools)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// WriteReviews overwrites path with the review table.
func WriteReviews(path string, reviews []crawler.ReviewRecord) error {
	data, err := EncodeReviews(reviews)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// WriteCriteria overwrites path with the criteria table.
func WriteCriteria(path string, criteria []crawler.CriterionRecord) error {
	data, err := EncodeCriteria(criteria)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func encode(prefix []byte, header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(prefix)
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write rows: %w", err)
	}
	return buf.Bytes(), nil
}

func formatScore(v *float64, missing string) string {
	if v == nil {
		return missing
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// writeAtomic writes data to a temp file next to path and renames it over
// path, so readers never observe a half-written table.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
