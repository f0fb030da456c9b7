// Package allocate turns the solver's fractional joint table into exact
// integer event counts. Rounding happens in two phases: floors plus
// largest-remainder top-up to hit the pageview total, then per-dimension
// repair transfers until every integer marginal matches its target exactly.
package allocate

import (
	"sort"

	"github.com/adamwulf/fathom-to-umami/internal/constraint"
	"github.com/adamwulf/fathom-to-umami/internal/ipf"
)

// Cell is an integer event count for one joint category tuple.
type Cell struct {
	Tuple ipf.Tuple
	Count int
}

// Result is the allocated integer table.
type Result struct {
	// Cells holds every tuple with a positive count, in lexicographic tuple
	// order for reproducible downstream processing.
	Cells []Cell

	// Discrepancy counts marginal units that could not be repaired. It is
	// zero whenever the input marginals are mutually consistent, which the
	// loader guarantees; a positive value flags a pathological hour whose
	// closest feasible table was returned instead.
	Discrepancy int
}

// Total returns the number of allocated events.
func (r Result) Total() int {
	var n int
	for _, c := range r.Cells {
		n += c.Count
	}
	return n
}

// Marginal projects the allocation onto one dimension.
func (r Result) Marginal(d constraint.Dimension) constraint.Marginal {
	out := make(constraint.Marginal)
	for _, c := range r.Cells {
		if c.Count > 0 {
			out[c.Tuple[d]] += c.Count
		}
	}
	return out
}

// Allocate distributes the hour's pageview total across the fitted table.
// The result's per-dimension projections equal the integer marginals of set
// exactly, not approximately, even when the solver stopped short of
// convergence.
func Allocate(table ipf.Table, set *constraint.HourlySet) Result {
	p := set.Pageviews
	if p == 0 || len(table) == 0 {
		return Result{}
	}

	type entry struct {
		tuple  ipf.Tuple
		prob   float64
		count  int
		remain float64
	}

	entries := make([]entry, 0, len(table))
	for tuple, pr := range table {
		entries = append(entries, entry{tuple: tuple, prob: pr})
	}
	// Lexicographic base order makes the whole allocation deterministic.
	sort.Slice(entries, func(i, j int) bool {
		return lessTuple(entries[i].tuple, entries[j].tuple)
	})

	// Phase one: floors, then the deficit goes to the largest remainders.
	allocated := 0
	for i := range entries {
		expected := entries[i].prob * float64(p)
		entries[i].count = int(expected)
		entries[i].remain = expected - float64(entries[i].count)
		allocated += entries[i].count
	}

	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ea, eb := &entries[order[a]], &entries[order[b]]
		if ea.remain != eb.remain {
			return ea.remain > eb.remain
		}
		// Tie-break: higher probability first, then base (lexicographic)
		// order via the stable sort.
		return ea.prob > eb.prob
	})
	// A consistent table needs exactly one pass; a deficient one (mass < 1
	// after a shortfall) may need more.
	for allocated < p && len(order) > 0 {
		for i := 0; i < len(order) && allocated < p; i++ {
			entries[order[i]].count++
			allocated++
		}
	}

	counts := make(map[ipf.Tuple]int, len(entries))
	for _, e := range entries {
		if e.count > 0 {
			counts[e.tuple] = e.count
		}
	}

	// Phase two: repair each dimension independently. Moving a unit between
	// two tuples that differ only in the repaired dimension leaves every
	// other dimension's marginal untouched, so one sweep suffices.
	discrepancy := 0
	for _, d := range constraint.Dimensions {
		discrepancy += repairDimension(counts, d, set.Marginals[d])
	}

	cells := make([]Cell, 0, len(counts))
	for tuple, n := range counts {
		if n > 0 {
			cells = append(cells, Cell{Tuple: tuple, Count: n})
		}
	}
	sort.Slice(cells, func(i, j int) bool {
		return lessTuple(cells[i].Tuple, cells[j].Tuple)
	})
	return Result{Cells: cells, Discrepancy: discrepancy}
}

// repairDimension transfers units between categories of dimension d until the
// realized marginal matches the target. Returns the absolute deviation left
// over when no further transfer is possible.
func repairDimension(counts map[ipf.Tuple]int, d constraint.Dimension, target constraint.Marginal) int {
	realized := make(map[string]int)
	for tuple, n := range counts {
		realized[tuple[d]] += n
	}

	var over, under []string
	seen := make(map[string]bool)
	for c := range realized {
		seen[c] = true
	}
	for c := range target {
		seen[c] = true
	}
	order := make([]string, 0, len(seen))
	for c := range seen {
		order = append(order, c)
	}
	sort.Strings(order)
	for _, c := range order {
		switch delta := realized[c] - target[c]; {
		case delta > 0:
			over = append(over, c)
		case delta < 0:
			under = append(under, c)
		}
	}

	for _, src := range over {
		surplus := realized[src] - target[src]
		for surplus > 0 && len(under) > 0 {
			dst := under[0]
			need := target[dst] - realized[dst]

			move := surplus
			if need < move {
				move = need
			}
			moved := transfer(counts, d, src, dst, move)
			realized[src] -= moved
			realized[dst] += moved
			surplus -= moved
			if realized[dst] >= target[dst] {
				under = under[1:]
			}
			if moved == 0 {
				break
			}
		}
	}

	residual := 0
	for _, c := range order {
		delta := realized[c] - target[c]
		if delta < 0 {
			delta = -delta
		}
		residual += delta
	}
	return residual
}

// transfer moves up to want units from tuples with d=src onto the matching
// tuples with d=dst, draining donors in deterministic order. Returns the
// number of units actually moved.
func transfer(counts map[ipf.Tuple]int, d constraint.Dimension, src, dst string, want int) int {
	donors := make([]ipf.Tuple, 0)
	for tuple, n := range counts {
		if tuple[d] == src && n > 0 {
			donors = append(donors, tuple)
		}
	}
	sort.Slice(donors, func(i, j int) bool { return lessTuple(donors[i], donors[j]) })

	moved := 0
	for _, donor := range donors {
		if moved == want {
			break
		}
		take := counts[donor]
		if take > want-moved {
			take = want - moved
		}
		receiver := donor
		receiver[d] = dst

		counts[donor] -= take
		if counts[donor] == 0 {
			delete(counts, donor)
		}
		counts[receiver] += take
		moved += take
	}
	return moved
}

func lessTuple(a, b ipf.Tuple) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
