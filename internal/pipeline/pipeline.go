// Package pipeline orchestrates the per-hour reconstruction flow: constraint
// validation, IPF solving, integer allocation and session partitioning. Each
// hour is independent, so hours run in parallel across a bounded worker pool,
// and an hour's joint table is released as soon as its allocation is done.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/adamwulf/fathom-to-umami/internal/allocate"
	"github.com/adamwulf/fathom-to-umami/internal/constraint"
	"github.com/adamwulf/fathom-to-umami/internal/fathom"
	"github.com/adamwulf/fathom-to-umami/internal/ipf"
	"github.com/adamwulf/fathom-to-umami/internal/visit"
)

// Run carries per-run state through the pipeline. It replaces any notion of
// process-global counters: every number the run produces lives in the
// Summary it returns.
type Run struct {
	Log     *slog.Logger
	Solver  ipf.Options
	Workers int
}

// SkippedHour records why one hour produced no output.
type SkippedHour struct {
	Hour   string
	Reason string
}

// Summary aggregates a whole run. Per-hour failures never abort the run;
// they land here.
type Summary struct {
	Hours        int
	Converted    int
	Skipped      int
	Pageviews    int
	Visits       int
	CustomEvents int

	// Shortfalls counts hours whose IPF solve hit the iteration cap. The
	// allocator repairs the residual, so these still convert.
	Shortfalls int

	// Discrepancies sums unrepairable marginal units across all hours.
	Discrepancies int

	SkippedHours []SkippedHour
}

// Events returns the total number of emitted events.
func (s *Summary) Events() int { return s.Pageviews + s.CustomEvents }

// HourResult is one converted hour, ready for the emitter.
type HourResult struct {
	Set    *constraint.HourlySet
	Visits []visit.Visit
	Custom []fathom.CustomEvent

	Converged   bool
	Iterations  int
	Discrepancy int
}

// ConvertHour runs the core pipeline for a single hour. Skippable conditions
// (inconsistent constraints, infeasible partitions) return an error wrapping
// constraint.ErrInconsistent or visit.ErrInfeasible.
func (r *Run) ConvertHour(h fathom.Hour) (*HourResult, error) {
	set := h.Set
	if err := set.Validate(); err != nil {
		return nil, err
	}

	res := &HourResult{Set: set, Custom: h.Custom, Converged: true}
	if set.Pageviews == 0 {
		// Nothing to reconstruct; custom events may still exist.
		return res, nil
	}

	solved := ipf.Solve(set, r.Solver)
	res.Converged = solved.Converged
	res.Iterations = solved.Iterations
	if !solved.Converged {
		r.Log.Debug("convergence shortfall",
			"hour", set.Key(),
			"iterations", solved.Iterations,
			"deviation", solved.MaxDeviation)
	}

	alloc := allocate.Allocate(solved.Table, set)
	res.Discrepancy = alloc.Discrepancy
	if alloc.Discrepancy > 0 {
		r.Log.Warn("allocation discrepancy",
			"hour", set.Key(),
			"units", alloc.Discrepancy)
	}

	rng := rand.New(rand.NewSource(visit.Seed(set.Key())))
	visits, err := visit.Partition(alloc, set, rng)
	if err != nil {
		return nil, err
	}
	res.Visits = visits
	return res, nil
}

// Execute converts every hour and hands results to emit in chronological
// order. Hours are processed in windows of Workers so at most that many
// joint tables are alive at once; emission stays sequential and ordered.
func (r *Run) Execute(ctx context.Context, hours []fathom.Hour, emit func(*HourResult) error) (*Summary, error) {
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}

	summary := &Summary{Hours: len(hours)}

	for start := 0; start < len(hours); start += workers {
		end := start + workers
		if end > len(hours) {
			end = len(hours)
		}
		window := hours[start:end]
		results := make([]*HourResult, len(window))
		errs := make([]error, len(window))

		g, gctx := errgroup.WithContext(ctx)
		for i := range window {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i], errs[i] = r.ConvertHour(window[i])
				if errs[i] != nil && !skippable(errs[i]) {
					return errs[i]
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return summary, err
		}

		for i, res := range results {
			if errs[i] != nil {
				key := window[i].Set.Key()
				summary.Skipped++
				summary.SkippedHours = append(summary.SkippedHours, SkippedHour{
					Hour:   key,
					Reason: errs[i].Error(),
				})
				r.Log.Warn("skipping hour", "hour", key, "reason", errs[i])
				continue
			}
			summary.Converted++
			if !res.Converged {
				summary.Shortfalls++
			}
			summary.Discrepancies += res.Discrepancy
			summary.Visits += len(res.Visits)
			for _, v := range res.Visits {
				summary.Pageviews += len(v.Pages)
			}
			for _, ce := range res.Custom {
				summary.CustomEvents += ce.Completions
			}
			if err := emit(res); err != nil {
				return summary, err
			}
		}
	}
	return summary, nil
}

// skippable reports whether an hour-local failure should be recorded and
// passed over rather than aborting the run.
func skippable(err error) bool {
	return errors.Is(err, constraint.ErrInconsistent) || errors.Is(err, visit.ErrInfeasible)
}
