// Package constraint defines the per-hour constraint model that the
// reconstruction pipeline consumes: five categorical dimension marginals
// plus the site-level visit totals for one hour of aggregated analytics.
package constraint

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Dimension indexes one of the five categorical dimensions of a pageview.
type Dimension int

const (
	Page Dimension = iota
	Browser
	Country
	Device
	Referrer

	// NumDimensions is the fixed dimensionality of the joint table.
	NumDimensions = 5
)

// Dimensions lists all dimensions in their canonical order. The solver,
// allocator and validator all iterate dimensions in this order.
var Dimensions = [NumDimensions]Dimension{Page, Browser, Country, Device, Referrer}

func (d Dimension) String() string {
	switch d {
	case Page:
		return "page"
	case Browser:
		return "browser"
	case Country:
		return "country"
	case Device:
		return "device"
	case Referrer:
		return "referrer"
	}
	return fmt.Sprintf("dimension(%d)", int(d))
}

// DirectReferrer is the synthetic referrer category used to pad the referrer
// marginal up to the pageview total. Fathom only exports rows for pageviews
// that arrived with a referrer; the remainder are direct visits.
const DirectReferrer = "(direct)"

// Marginal maps a category name to its pageview count within one hour.
type Marginal map[string]int

// Total returns the sum of all category counts.
func (m Marginal) Total() int {
	var n int
	for _, v := range m {
		n += v
	}
	return n
}

// Categories returns the category names with a positive count, sorted.
// Zero-count categories never enter the joint table support.
func (m Marginal) Categories() []string {
	out := make([]string, 0, len(m))
	for c, v := range m {
		if v > 0 {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy of the marginal.
func (m Marginal) Clone() Marginal {
	out := make(Marginal, len(m))
	for c, v := range m {
		out[c] = v
	}
	return out
}

// HourlySet holds every constraint for one (date, hour) bucket. It is built
// once by the loader and treated as immutable by the pipeline.
type HourlySet struct {
	// Hour is the start of the bucket, truncated to the hour, in UTC.
	Hour time.Time

	// Marginals holds one category->count map per dimension, indexed by
	// Dimension. Every marginal sums to Pageviews once normalized.
	Marginals [NumDimensions]Marginal

	Pageviews   int
	Visits      int
	BounceRate  float64
	AvgDuration float64
}

// Key returns the hour identity string used for logging, skip records and
// deterministic random seeding.
func (s *HourlySet) Key() string {
	return s.Hour.UTC().Format("2006-01-02 15:04:05")
}

// ErrInconsistent reports contradictory per-hour constraints, for example
// visits recorded in an hour with zero pageviews. Hours failing this check
// are skipped before reaching the solver.
var ErrInconsistent = errors.New("inconsistent hourly constraints")

// Validate checks that the set can be handed to the solver: non-negative
// totals, a bounce rate inside [0, 1], and every dimension marginal summing
// to the pageview total. A set with Pageviews == 0 and Visits == 0 is valid
// and simply produces no events.
func (s *HourlySet) Validate() error {
	if s.Pageviews < 0 || s.Visits < 0 {
		return fmt.Errorf("%w: negative totals (pageviews=%d visits=%d)", ErrInconsistent, s.Pageviews, s.Visits)
	}
	if s.BounceRate < 0 || s.BounceRate > 1 {
		return fmt.Errorf("%w: bounce rate %v outside [0,1]", ErrInconsistent, s.BounceRate)
	}
	if s.Pageviews == 0 {
		if s.Visits > 0 {
			return fmt.Errorf("%w: %d visits with zero pageviews", ErrInconsistent, s.Visits)
		}
		return nil
	}
	if s.Visits > s.Pageviews {
		return fmt.Errorf("%w: %d visits exceed %d pageviews", ErrInconsistent, s.Visits, s.Pageviews)
	}
	for _, d := range Dimensions {
		if got := s.Marginals[d].Total(); got != s.Pageviews {
			return fmt.Errorf("%w: %s marginal sums to %d, want %d", ErrInconsistent, d, got, s.Pageviews)
		}
	}
	return nil
}
