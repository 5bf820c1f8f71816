package dataset

import (
	"sort"

	"github.com/antzucaro/matchr"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
)

// Orphan is a record school name that matches no known SchoolRef.
type Orphan struct {
	School     string
	Table      string
	Count      int
	Suggestion string
	Similarity float64
}

// Report lists the integrity violations of a run's output.
type Report struct {
	Orphans []Orphan
	// UnknownThemes counts criterion rows per theme id outside the set.
	UnknownThemes map[int]int
}

// Clean reports whether no violation was found.
func (r Report) Clean() bool {
	return len(r.Orphans) == 0 && len(r.UnknownThemes) == 0
}

// Check verifies that every record references a known school and that every
// criterion carries a configured theme id. Orphans are reported with the
// closest known name by Jaro-Winkler similarity.
func Check(
	schools []crawler.SchoolRef,
	reviews []crawler.ReviewRecord,
	criteria []crawler.CriterionRecord,
	themes crawler.ThemeSet,
) Report {
	known := make(map[string]struct{}, len(schools))
	names := make([]string, 0, len(schools))
	for _, s := range schools {
		if _, dup := known[s.Name]; dup {
			continue
		}
		known[s.Name] = struct{}{}
		names = append(names, s.Name)
	}

	counts := make(map[Orphan]int)
	for _, r := range reviews {
		if _, ok := known[r.School]; !ok {
			counts[Orphan{School: r.School, Table: "reviews"}]++
		}
	}
	report := Report{UnknownThemes: make(map[int]int)}
	for _, c := range criteria {
		if _, ok := known[c.School]; !ok {
			counts[Orphan{School: c.School, Table: "criteria"}]++
		}
		if !themes.Contains(c.ThemeID) {
			report.UnknownThemes[c.ThemeID]++
		}
	}

	for key, n := range counts {
		key.Count = n
		key.Suggestion, key.Similarity = nearest(key.School, names)
		report.Orphans = append(report.Orphans, key)
	}
	sort.Slice(report.Orphans, func(i, j int) bool {
		a, b := report.Orphans[i], report.Orphans[j]
		if a.Table != b.Table {
			return a.Table > b.Table
		}
		return a.School < b.School
	})
	if len(report.UnknownThemes) == 0 {
		report.UnknownThemes = nil
	}
	return report
}

func nearest(name string, candidates []string) (string, float64) {
	var best string
	var bestScore float64
	for _, c := range candidates {
		score := matchr.JaroWinkler(name, c, false)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore
}
