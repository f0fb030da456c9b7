// Package validate re-aggregates synthesized visits and checks them against
// the hour's original constraint set. It is the correctness oracle for the
// solver, allocator and partitioner, wired into both conformance tests and
// the validate subcommand.
package validate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/adamwulf/fathom-to-umami/internal/constraint"
	"github.com/adamwulf/fathom-to-umami/internal/visit"
)

// DurationTolerance is the accepted relative error on the mean multi-page
// visit duration.
const DurationTolerance = 0.05

// Report holds the outcome of re-aggregating one hour.
type Report struct {
	Hour string

	// MarginalDiffs lists every category whose re-aggregated count differs
	// from the constraint, formatted "dimension/category: got n want m".
	MarginalDiffs []string

	Pageviews     int
	WantPageviews int
	Visits        int
	WantVisits    int

	// BounceDelta is |bounces - round(bounceRate*visits)|, in visits.
	BounceDelta int

	// DurationError is the relative error of the mean multi-page visit
	// duration against the constraint, zero when no multi-page visits exist.
	DurationError float64
}

// OK reports whether every exact check passed and the derived rates are
// within tolerance: integer marginals and totals exact, bounce count within
// one rounding unit, duration within DurationTolerance.
func (r Report) OK() bool {
	return len(r.MarginalDiffs) == 0 &&
		r.Pageviews == r.WantPageviews &&
		r.Visits == r.WantVisits &&
		r.BounceDelta <= 1 &&
		r.DurationError <= DurationTolerance
}

// Summary renders a one-line result for logs.
func (r Report) Summary() string {
	if r.OK() {
		return fmt.Sprintf("%s: ok (%d pageviews, %d visits)", r.Hour, r.Pageviews, r.Visits)
	}
	parts := []string{}
	if len(r.MarginalDiffs) > 0 {
		parts = append(parts, fmt.Sprintf("%d marginal mismatches", len(r.MarginalDiffs)))
	}
	if r.Pageviews != r.WantPageviews {
		parts = append(parts, fmt.Sprintf("pageviews %d/%d", r.Pageviews, r.WantPageviews))
	}
	if r.Visits != r.WantVisits {
		parts = append(parts, fmt.Sprintf("visits %d/%d", r.Visits, r.WantVisits))
	}
	if r.BounceDelta > 1 {
		parts = append(parts, fmt.Sprintf("bounce delta %d", r.BounceDelta))
	}
	if r.DurationError > DurationTolerance {
		parts = append(parts, fmt.Sprintf("duration error %.1f%%", r.DurationError*100))
	}
	return fmt.Sprintf("%s: FAIL (%s)", r.Hour, strings.Join(parts, ", "))
}

// Check re-aggregates the visits and compares against set.
func Check(set *constraint.HourlySet, visits []visit.Visit) Report {
	r := Report{
		Hour:          set.Key(),
		WantPageviews: set.Pageviews,
		WantVisits:    set.Visits,
		Visits:        len(visits),
	}

	var rebuilt [constraint.NumDimensions]constraint.Marginal
	for _, d := range constraint.Dimensions {
		rebuilt[d] = make(constraint.Marginal)
	}

	bounces := 0
	var durationSum float64
	multi := 0
	for _, v := range visits {
		r.Pageviews += len(v.Pages)
		if v.Bounce() {
			bounces++
		} else {
			durationSum += v.Duration
			multi++
		}
		for _, page := range v.Pages {
			for _, d := range constraint.Dimensions {
				rebuilt[d][page.Tuple[d]]++
			}
		}
	}

	for _, d := range constraint.Dimensions {
		r.MarginalDiffs = append(r.MarginalDiffs, diffMarginal(d, set.Marginals[d], rebuilt[d])...)
	}

	wantBounces := int(set.BounceRate*float64(set.Visits) + 0.5)
	r.BounceDelta = abs(bounces - wantBounces)

	if multi > 0 && set.AvgDuration > 0 {
		mean := durationSum / float64(multi)
		r.DurationError = math.Abs(mean-set.AvgDuration) / set.AvgDuration
	}
	return r
}

func diffMarginal(d constraint.Dimension, want, got constraint.Marginal) []string {
	keys := make(map[string]bool, len(want))
	for c := range want {
		keys[c] = true
	}
	for c := range got {
		keys[c] = true
	}
	order := make([]string, 0, len(keys))
	for c := range keys {
		order = append(order, c)
	}
	sort.Strings(order)

	var diffs []string
	for _, c := range order {
		if got[c] != want[c] {
			diffs = append(diffs, fmt.Sprintf("%s/%s: got %d want %d", d, c, got[c], want[c]))
		}
	}
	return diffs
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
