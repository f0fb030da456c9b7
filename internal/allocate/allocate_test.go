package allocate

import (
	"testing"
	"time"

	"github.com/adamwulf/fathom-to-umami/internal/constraint"
	"github.com/adamwulf/fathom-to-umami/internal/ipf"
)

func exampleSet() *constraint.HourlySet {
	s := &constraint.HourlySet{
		Hour:        time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC),
		Pageviews:   10,
		Visits:      5,
		BounceRate:  0.4,
		AvgDuration: 30,
	}
	s.Marginals[constraint.Page] = constraint.Marginal{"/a": 6, "/b": 4}
	s.Marginals[constraint.Browser] = constraint.Marginal{"Chrome": 7, "Firefox": 3}
	s.Marginals[constraint.Country] = constraint.Marginal{"US": 8, "CA": 2}
	s.Marginals[constraint.Device] = constraint.Marginal{"desktop": 9, "mobile": 1}
	s.Marginals[constraint.Referrer] = constraint.Marginal{constraint.DirectReferrer: 10}
	return s
}

func checkExact(t *testing.T, res Result, set *constraint.HourlySet) {
	t.Helper()
	if got := res.Total(); got != set.Pageviews {
		t.Fatalf("Total() = %d, want %d", got, set.Pageviews)
	}
	for _, d := range constraint.Dimensions {
		realized := res.Marginal(d)
		for c, want := range set.Marginals[d] {
			if realized[c] != want {
				t.Errorf("%s/%s = %d, want %d", d, c, realized[c], want)
			}
		}
		for c := range realized {
			if _, ok := set.Marginals[d][c]; !ok {
				t.Errorf("%s/%s allocated but not in constraints", d, c)
			}
		}
	}
}

func TestAllocateExactMarginals(t *testing.T) {
	set := exampleSet()
	solved := ipf.Solve(set, ipf.DefaultOptions())
	res := Allocate(solved.Table, set)

	checkExact(t, res, set)
	if res.Discrepancy != 0 {
		t.Errorf("Discrepancy = %d, want 0", res.Discrepancy)
	}
}

func TestAllocateRepairsUnconvergedTable(t *testing.T) {
	// A deliberately bad table: all mass on one tuple. The repair pass must
	// still recover the exact integer marginals.
	set := exampleSet()
	table := ipf.Table{
		ipf.Tuple{"/a", "Chrome", "US", "desktop", constraint.DirectReferrer}: 1.0,
	}
	res := Allocate(table, set)

	checkExact(t, res, set)
	if res.Discrepancy != 0 {
		t.Errorf("Discrepancy = %d, want 0", res.Discrepancy)
	}
}

func TestAllocateLargerHour(t *testing.T) {
	s := &constraint.HourlySet{
		Hour:      time.Date(2024, 5, 20, 13, 0, 0, 0, time.UTC),
		Pageviews: 137,
		Visits:    60,
	}
	s.Marginals[constraint.Page] = constraint.Marginal{"/": 50, "/blog": 41, "/about": 27, "/contact": 19}
	s.Marginals[constraint.Browser] = constraint.Marginal{"Chrome": 80, "Safari": 33, "Firefox": 24}
	s.Marginals[constraint.Country] = constraint.Marginal{"US": 90, "DE": 25, "JP": 22}
	s.Marginals[constraint.Device] = constraint.Marginal{"desktop": 100, "phone": 30, "tablet": 7}
	s.Marginals[constraint.Referrer] = constraint.Marginal{"google.com": 70, "news.ycombinator.com": 30, constraint.DirectReferrer: 37}

	solved := ipf.Solve(s, ipf.DefaultOptions())
	res := Allocate(solved.Table, s)
	checkExact(t, res, s)
	if res.Discrepancy != 0 {
		t.Errorf("Discrepancy = %d, want 0", res.Discrepancy)
	}
}

func TestAllocateInfeasibleMarginals(t *testing.T) {
	// Marginal sums disagree across dimensions: no exact table exists. The
	// allocator must return its closest table and report the gap instead of
	// failing.
	set := exampleSet()
	set.Marginals[constraint.Country] = constraint.Marginal{"US": 7, "CA": 2} // sums to 9, not 10

	solved := ipf.Solve(set, ipf.DefaultOptions())
	res := Allocate(solved.Table, set)

	if got := res.Total(); got != set.Pageviews {
		t.Errorf("Total() = %d, want %d", got, set.Pageviews)
	}
	if res.Discrepancy == 0 {
		t.Error("Discrepancy = 0, want positive for infeasible marginals")
	}
}

func TestAllocateEmpty(t *testing.T) {
	set := &constraint.HourlySet{}
	res := Allocate(ipf.Table{}, set)
	if len(res.Cells) != 0 || res.Discrepancy != 0 {
		t.Errorf("empty allocation = %+v, want empty", res)
	}
}

func TestAllocateDeterministic(t *testing.T) {
	set := exampleSet()
	solved := ipf.Solve(set, ipf.DefaultOptions())

	a := Allocate(solved.Table, set)
	b := Allocate(solved.Table, set)
	if len(a.Cells) != len(b.Cells) {
		t.Fatalf("allocation sizes differ: %d vs %d", len(a.Cells), len(b.Cells))
	}
	for i := range a.Cells {
		if a.Cells[i] != b.Cells[i] {
			t.Errorf("cell %d differs: %+v vs %+v", i, a.Cells[i], b.Cells[i])
		}
	}
}
