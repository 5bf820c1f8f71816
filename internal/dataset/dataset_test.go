package dataset

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
)

func ptr(v float64) *float64 { return &v }

func sampleReviews() []crawler.ReviewRecord {
	return []crawler.ReviewRecord{
		{School: "HETIC", Author: "Léa", Date: "01/02/2024", Rating: ptr(4.5), Content: "Très bien, vraiment", SourceURL: "https://example.com/hetic.html"},
		{School: "HETIC", Author: "Tom", Date: "02/02/2024", Content: "Sans note"},
	}
}

func sampleCriteria() []crawler.CriterionRecord {
	return []crawler.CriterionRecord{
		{School: "HETIC", ThemeTitle: "International", ThemeID: 425, CriterionLabel: "Partenariats", ScoreOf10: ptr(8.5), RawNote: "17/20"},
		{School: "HETIC", ThemeTitle: "International", ThemeID: 425, CriterionLabel: "Mobilité", RawNote: "N/A"},
	}
}

func TestWriteReviews(t *testing.T) {
	path := filepath.Join(t.TempDir(), ReviewsFile)
	require.NoError(t, WriteReviews(path, sampleReviews()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, utf8BOM))
	lines := strings.Split(strings.TrimSuffix(string(data[len(utf8BOM):]), "\n"), "\n")
	assert.Equal(t, []string{
		"ecole,auteur,date,note,contenu,url",
		`HETIC,Léa,01/02/2024,4.5,"Très bien, vraiment",https://example.com/hetic.html`,
		"HETIC,Tom,02/02/2024,,Sans note,",
	}, lines)
}

func TestWriteCriteriaSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), CriteriaFile)
	require.NoError(t, WriteCriteria(path, sampleCriteria()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.HasPrefix(data, utf8BOM))
	assert.Equal(t, "École,Thématique,ID Thématique,Critère,Score /10,Note brute\n"+
		"HETIC,International,425,Partenariats,8.5,17/20\n"+
		"HETIC,International,425,Mobilité,N/A,N/A\n", string(data))
}

func TestWriteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ReviewsFile)
	require.NoError(t, os.WriteFile(path, []byte("stale content that is longer than the table\n"), 0o600))

	require.NoError(t, WriteReviews(path, sampleReviews()))
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, WriteReviews(path, sampleReviews()))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotContains(t, string(second), "stale")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestSchoolsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", SchoolsFile)
	schools := []crawler.SchoolRef{
		{Name: "EFREI", CanonicalURL: "https://example.com/efrei.html", AltURL: "https://example.com/alt.html"},
		{Name: "HETIC", CanonicalURL: "https://example.com/hetic.html"},
	}
	require.NoError(t, WriteSchools(path, schools))

	got, err := ReadSchools(path)
	require.NoError(t, err)
	assert.Equal(t, schools, got)
}

func TestDecodeSchoolsToleratesBOMAndColumnOrder(t *testing.T) {
	in := "\ufeffurl,name\nhttps://example.com/a.html,A\n,Empty\n"
	got, err := DecodeSchools(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []crawler.SchoolRef{{Name: "A", CanonicalURL: "https://example.com/a.html"}}, got)
}

func TestDecodeSchoolsMissingColumn(t *testing.T) {
	_, err := DecodeSchools(strings.NewReader("name\nA\n"))
	require.ErrorIs(t, err, ErrMissingColumn)
}

func TestDecodeOverrides(t *testing.T) {
	in := "name,url\nEFREI,https://example.com/old.html\nEFREI,https://example.com/new.html\n,https://example.com/x.html\n"
	got, err := DecodeOverrides(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"EFREI": "https://example.com/new.html"}, got)
}

func TestReadOverridesMissingFile(t *testing.T) {
	_, err := ReadOverrides(filepath.Join(t.TempDir(), OverridesFile))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCheckReportsOrphansWithSuggestion(t *testing.T) {
	schools := []crawler.SchoolRef{{Name: "HETIC"}, {Name: "EFREI Paris"}}
	reviews := []crawler.ReviewRecord{{School: "HETIC"}, {School: "EFREI Pari"}, {School: "EFREI Pari"}}
	criteria := []crawler.CriterionRecord{{School: "HETIC", ThemeID: 425}, {School: "HETIC", ThemeID: 999}}

	report := Check(schools, reviews, criteria, crawler.DefaultThemeIDs)
	assert.False(t, report.Clean())
	require.Len(t, report.Orphans, 1)
	assert.Equal(t, "EFREI Pari", report.Orphans[0].School)
	assert.Equal(t, "reviews", report.Orphans[0].Table)
	assert.Equal(t, 2, report.Orphans[0].Count)
	assert.Equal(t, "EFREI Paris", report.Orphans[0].Suggestion)
	assert.Greater(t, report.Orphans[0].Similarity, 0.9)
	assert.Equal(t, map[int]int{999: 1}, report.UnknownThemes)
}

func TestCheckClean(t *testing.T) {
	report := Check([]crawler.SchoolRef{{Name: "HETIC"}}, sampleReviews(), sampleCriteria(), crawler.DefaultThemeIDs)
	assert.True(t, report.Clean())
}
