package ipf

import (
	"math"
	"testing"
	"time"

	"github.com/adamwulf/fathom-to-umami/internal/constraint"
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

func TestSolveConverges(t *testing.T) {
	set := exampleSet()
	res := Solve(set, DefaultOptions())

	if !res.Converged {
		t.Fatalf("Solve did not converge after %d iterations (deviation %g)", res.Iterations, res.MaxDeviation)
	}

	// Independent marginals converge immediately: the independence seed
	// already satisfies every constraint.
	var sum float64
	for _, pr := range res.Table {
		if pr < 0 {
			t.Fatalf("negative cell probability %g", pr)
		}
		sum += pr
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("table mass = %g, want 1", sum)
	}

	for _, d := range constraint.Dimensions {
		realized := res.Table.Marginal(d)
		for c, n := range set.Marginals[d] {
			want := float64(n) / float64(set.Pageviews)
			if math.Abs(realized[c]-want) > 1e-6 {
				t.Errorf("%s/%s marginal = %g, want %g", d, c, realized[c], want)
			}
		}
	}
}

func TestSolveSupport(t *testing.T) {
	set := exampleSet()
	res := Solve(set, DefaultOptions())

	// Support is the cross-product of observed categories: 2*2*2*2*1.
	if got, want := len(res.Table), 16; got != want {
		t.Errorf("support size = %d, want %d", got, want)
	}
	for tuple := range res.Table {
		for _, d := range constraint.Dimensions {
			if set.Marginals[d][tuple[d]] == 0 {
				t.Errorf("tuple %v touches zero-marginal category %q in %s", tuple, tuple[d], d)
			}
		}
	}
}

func TestSolveSkewedMarginals(t *testing.T) {
	// Dependent-looking targets still converge to matching marginals.
	set := exampleSet()
	set.Marginals[constraint.Page] = constraint.Marginal{"/a": 1, "/b": 9}
	set.Marginals[constraint.Browser] = constraint.Marginal{"Chrome": 9, "Firefox": 1}

	res := Solve(set, DefaultOptions())
	if !res.Converged {
		t.Fatalf("Solve did not converge (deviation %g)", res.MaxDeviation)
	}
	realized := res.Table.Marginal(constraint.Page)
	if math.Abs(realized["/b"]-0.9) > 1e-5 {
		t.Errorf("page /b marginal = %g, want 0.9", realized["/b"])
	}
}

func TestSolveEmptyHour(t *testing.T) {
	set := &constraint.HourlySet{Hour: time.Now()}
	res := Solve(set, DefaultOptions())
	if len(res.Table) != 0 {
		t.Errorf("empty hour produced %d cells, want 0", len(res.Table))
	}
	if !res.Converged {
		t.Error("empty hour should report convergence")
	}
}

func TestSolveIterationCap(t *testing.T) {
	set := exampleSet()
	res := Solve(set, Options{Tolerance: 0, MaxIterations: 3})
	// Tolerance zero coerces to the default; just ensure the cap binds.
	if res.Iterations > 3 {
		t.Errorf("iterations = %d, want <= 3", res.Iterations)
	}
}

func TestSolveSingleCategoryDimensions(t *testing.T) {
	set := exampleSet()
	for _, d := range constraint.Dimensions {
		set.Marginals[d] = constraint.Marginal{"only": 10}
	}
	res := Solve(set, DefaultOptions())
	if len(res.Table) != 1 {
		t.Fatalf("support size = %d, want 1", len(res.Table))
	}
	for _, pr := range res.Table {
		if math.Abs(pr-1) > 1e-9 {
			t.Errorf("cell probability = %g, want 1", pr)
		}
	}
}
