// Package ipf implements iterative proportional fitting over the five
// pageview dimensions. Given one marginal per dimension, all summing to the
// same pageview total, it produces the maximum-entropy joint distribution
// whose per-dimension marginals match the targets.
package ipf

import (
	"math"

	"github.com/adamwulf/fathom-to-umami/internal/constraint"
)

// Tuple is one joint category assignment, indexed by constraint.Dimension.
type Tuple [constraint.NumDimensions]string

// Table is the sparse joint probability table. Keys are restricted to tuples
// whose categories each carry a positive marginal in the source hour, so the
// support is the cross-product of that hour's observed categories only.
type Table map[Tuple]float64

// Options bound the fixed-point iteration.
type Options struct {
	// Tolerance is the largest acceptable relative marginal deviation.
	Tolerance float64

	// MaxIterations caps the number of full round-robin sweeps. Hitting the
	// cap is not an error; the allocator's repair pass absorbs the residual.
	MaxIterations int
}

// DefaultOptions returns the solver bounds used by the pipeline.
func DefaultOptions() Options {
	return Options{Tolerance: 1e-6, MaxIterations: 100}
}

// Result carries the fitted table together with convergence diagnostics.
type Result struct {
	Table      Table
	Iterations int

	// MaxDeviation is the largest relative marginal deviation observed in
	// the final sweep.
	MaxDeviation float64

	// Converged reports whether MaxDeviation dropped below the tolerance
	// before the iteration cap.
	Converged bool
}

// Solve fits a joint distribution to the hour's marginals. An hour with zero
// pageviews yields an empty table. The caller is responsible for rejecting
// inconsistent hours first (constraint.HourlySet.Validate).
func Solve(set *constraint.HourlySet, opts Options) Result {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultOptions().Tolerance
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}

	if set.Pageviews == 0 {
		return Result{Table: Table{}, Converged: true}
	}

	p := float64(set.Pageviews)

	// Target marginal probabilities per dimension, positive categories only.
	var cats [constraint.NumDimensions][]string
	var targets [constraint.NumDimensions]map[string]float64
	for _, d := range constraint.Dimensions {
		cats[d] = set.Marginals[d].Categories()
		if len(cats[d]) == 0 {
			return Result{Table: Table{}, Converged: true}
		}
		targets[d] = make(map[string]float64, len(cats[d]))
		for _, c := range cats[d] {
			targets[d][c] = float64(set.Marginals[d][c]) / p
		}
	}

	table := seed(cats, targets)

	res := Result{MaxDeviation: math.Inf(1)}
	for res.Iterations < opts.MaxIterations {
		for _, d := range constraint.Dimensions {
			rescale(table, d, targets[d])
		}
		res.Iterations++

		res.MaxDeviation = maxDeviation(table, targets)
		if res.MaxDeviation < opts.Tolerance {
			res.Converged = true
			break
		}
	}
	res.Table = table
	return res
}

// seed builds the support as the cross-product of the observed categories and
// initializes each cell with the independence product of the empirical
// per-dimension frequencies. The product of valid probabilities already sums
// to one across the support, so no extra normalization pass is needed.
func seed(cats [constraint.NumDimensions][]string, targets [constraint.NumDimensions]map[string]float64) Table {
	size := 1
	for _, cs := range cats {
		size *= len(cs)
	}
	table := make(Table, size)

	var tuple Tuple
	var fill func(d int, prob float64)
	fill = func(d int, prob float64) {
		if d == constraint.NumDimensions {
			table[tuple] = prob
			return
		}
		for _, c := range cats[d] {
			tuple[d] = c
			fill(d+1, prob*targets[d][c])
		}
	}
	fill(0, 1)
	return table
}

// rescale multiplies every cell by target/realized for its category in
// dimension d, the single IPF adjustment step.
func rescale(table Table, d constraint.Dimension, target map[string]float64) {
	realized := make(map[string]float64, len(target))
	for tuple, pr := range table {
		realized[tuple[d]] += pr
	}
	for tuple, pr := range table {
		cur := realized[tuple[d]]
		if cur > 0 {
			table[tuple] = pr * target[tuple[d]] / cur
		} else {
			table[tuple] = 0
		}
	}
}

// maxDeviation returns the largest |realized-target|/target over all
// dimensions and categories.
func maxDeviation(table Table, targets [constraint.NumDimensions]map[string]float64) float64 {
	var worst float64
	for _, d := range constraint.Dimensions {
		realized := make(map[string]float64, len(targets[d]))
		for tuple, pr := range table {
			realized[tuple[d]] += pr
		}
		for c, want := range targets[d] {
			dev := math.Abs(realized[c]-want) / want
			if dev > worst {
				worst = dev
			}
		}
	}
	return worst
}

// Marginal projects the table onto one dimension, returning the realized
// probability mass per category.
func (t Table) Marginal(d constraint.Dimension) map[string]float64 {
	out := make(map[string]float64)
	for tuple, pr := range t {
		out[tuple[d]] += pr
	}
	return out
}
