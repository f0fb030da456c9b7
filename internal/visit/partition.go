// Package visit groups allocated pageviews into visits that honor the hour's
// visit count, bounce rate and average duration. All randomness is drawn from
// a source seeded by the hour identity, so partitioning is reproducible.
package visit

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/cespare/xxhash/v2"

	"github.com/adamwulf/fathom-to-umami/internal/allocate"
	"github.com/adamwulf/fathom-to-umami/internal/constraint"
)

// hourSeconds is the width of one reconstruction bucket.
const hourSeconds = 3600

// Stub is one synthesized pageview: its fixed dimension tuple plus a
// within-hour time offset in seconds. Identifiers and absolute timestamps are
// assigned by the emitter.
type Stub struct {
	Tuple  [constraint.NumDimensions]string
	Offset float64
}

// Visit is an ordered group of pageview stubs sharing a start offset and a
// duration. A visit with a single stub is a bounce and carries no duration.
type Visit struct {
	Start    float64
	Duration float64
	Pages    []Stub
}

// Bounce reports whether the visit contains exactly one pageview.
func (v Visit) Bounce() bool { return len(v.Pages) == 1 }

// ErrInfeasible reports visit/pageview totals that admit no partition, such
// as zero visits over a positive pageview count. The hour is skipped.
var ErrInfeasible = errors.New("infeasible visit partition")

// Seed derives a deterministic random seed from an hour identity string.
func Seed(key string) int64 {
	return int64(xxhash.Sum64String(key))
}

// Partition splits the allocated pageviews into exactly set.Visits visits.
// The bounce count is round(bounceRate*visits) clamped to the feasible range,
// every non-bounce visit receives at least two pageviews, and the remaining
// pageviews are spread across non-bounce visits by weighted random draws.
// Multi-page visit durations are normalized so their mean equals the hour's
// average duration exactly.
func Partition(alloc allocate.Result, set *constraint.HourlySet, rng *rand.Rand) ([]Visit, error) {
	total := alloc.Total()
	visits := set.Visits

	if total == 0 {
		if visits > 0 {
			return nil, fmt.Errorf("%w: %d visits with no pageviews", ErrInfeasible, visits)
		}
		return nil, nil
	}
	if visits == 0 {
		return nil, fmt.Errorf("%w: zero visits over %d pageviews", ErrInfeasible, total)
	}
	if total < visits {
		return nil, fmt.Errorf("%w: %d pageviews cannot fill %d visits", ErrInfeasible, total, visits)
	}

	bounces := bounceCount(set.BounceRate, visits, total)
	multi := visits - bounces

	// Shuffled assignment order decouples dimension tuples from visit
	// position; the tuples themselves are already fixed by the allocator.
	tuples := expand(alloc)
	rng.Shuffle(len(tuples), func(i, j int) { tuples[i], tuples[j] = tuples[j], tuples[i] })

	sizes := make([]int, visits)
	for i := 0; i < bounces; i++ {
		sizes[i] = 1
	}
	for i := bounces; i < visits; i++ {
		sizes[i] = 2
	}
	distributeLeftover(sizes, bounces, total-bounces-2*multi, rng)

	durations := sampleDurations(multi, set.AvgDuration, rng)

	out := make([]Visit, 0, visits)
	next := 0
	for i, size := range sizes {
		v := Visit{Start: rng.Float64() * hourSeconds}
		if i >= bounces {
			v.Duration = durations[i-bounces]
		}
		v.Pages = make([]Stub, size)
		for j := 0; j < size; j++ {
			v.Pages[j] = Stub{Tuple: tuples[next], Offset: pageOffset(v, j, size)}
			next++
		}
		out = append(out, v)
	}
	return out, nil
}

// bounceCount clamps round(rate*visits) into the range where every non-bounce
// visit can hold at least two pageviews and every leftover pageview has a
// non-bounce visit to land in.
func bounceCount(rate float64, visits, pageviews int) int {
	b := int(rate*float64(visits) + 0.5)
	// Non-bounce visits need two pageviews each.
	if min := 2*visits - pageviews; b < min {
		b = min
	}
	if b < 0 {
		b = 0
	}
	if b > visits {
		b = visits
	}
	// Leftover pageviews need at least one multi-page visit.
	if pageviews > visits && b == visits {
		b = visits - 1
	}
	return b
}

// distributeLeftover spreads extra pageviews across the non-bounce visits
// using one random weight per visit, so visit sizes vary instead of being
// uniform.
func distributeLeftover(sizes []int, first, leftover int, rng *rand.Rand) {
	if leftover <= 0 || first >= len(sizes) {
		return
	}
	weights := make([]float64, len(sizes)-first)
	var sum float64
	for i := range weights {
		weights[i] = 0.25 + rng.Float64()
		sum += weights[i]
	}
	for u := 0; u < leftover; u++ {
		pick := rng.Float64() * sum
		idx := len(weights) - 1
		for i, w := range weights {
			if pick < w {
				idx = i
				break
			}
			pick -= w
		}
		sizes[first+idx]++
	}
}

// sampleDurations draws one duration per multi-page visit from a band around
// the mean, then rescales so the sample mean equals mean exactly.
func sampleDurations(n int, mean float64, rng *rand.Rand) []float64 {
	durations := make([]float64, n)
	if n == 0 || mean <= 0 {
		return durations
	}
	var sum float64
	for i := range durations {
		durations[i] = 0.5 + rng.Float64()
		sum += durations[i]
	}
	scale := mean * float64(n) / sum
	for i := range durations {
		durations[i] *= scale
	}
	return durations
}

// pageOffset spaces a visit's pageviews evenly across its duration window.
func pageOffset(v Visit, idx, size int) float64 {
	if size <= 1 {
		return v.Start
	}
	return v.Start + v.Duration*float64(idx)/float64(size-1)
}

// expand flattens the allocation into one tuple per pageview.
func expand(alloc allocate.Result) [][constraint.NumDimensions]string {
	out := make([][constraint.NumDimensions]string, 0, alloc.Total())
	for _, cell := range alloc.Cells {
		for i := 0; i < cell.Count; i++ {
			out = append(out, cell.Tuple)
		}
	}
	return out
}
