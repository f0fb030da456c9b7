package fathom

import "sort"

// DateSummary counts the hourly buckets recorded for one calendar date.
type DateSummary struct {
	Date  string
	Hours int
}

// Dates groups loaded hours by calendar date, sorted ascending.
func Dates(hours []Hour) []DateSummary {
	counts := make(map[string]int)
	for _, h := range hours {
		counts[h.Set.Hour.Format("2006-01-02")]++
	}
	dates := make([]string, 0, len(counts))
	for d := range counts {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := make([]DateSummary, 0, len(dates))
	for _, d := range dates {
		out = append(out, DateSummary{Date: d, Hours: counts[d]})
	}
	return out
}
