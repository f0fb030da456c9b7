package pipeline

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/adamwulf/fathom-to-umami/internal/constraint"
	"github.com/adamwulf/fathom-to-umami/internal/fathom"
	"github.com/adamwulf/fathom-to-umami/internal/ipf"
	"github.com/adamwulf/fathom-to-umami/internal/logging"
	"github.com/adamwulf/fathom-to-umami/internal/validate"
)

func testRun(workers int) *Run {
	return &Run{
		Log:     logging.NewLogger("error", io.Discard),
		Solver:  ipf.DefaultOptions(),
		Workers: workers,
	}
}

func exampleHour(ts time.Time) fathom.Hour {
	s := &constraint.HourlySet{
		Hour:        ts,
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
	return fathom.Hour{Set: s}
}

func emptyHour(ts time.Time, visits int) fathom.Hour {
	s := &constraint.HourlySet{Hour: ts, Visits: visits}
	for _, d := range constraint.Dimensions {
		s.Marginals[d] = constraint.Marginal{}
	}
	return fathom.Hour{Set: s}
}

func TestConvertHourExample(t *testing.T) {
	run := testRun(1)
	res, err := run.ConvertHour(exampleHour(time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("ConvertHour() error: %v", err)
	}

	report := validate.Check(res.Set, res.Visits)
	if !report.OK() {
		t.Fatalf("round-trip failed: %s", report.Summary())
	}
	if res.Discrepancy != 0 {
		t.Errorf("Discrepancy = %d, want 0", res.Discrepancy)
	}
	if len(res.Visits) != 5 {
		t.Errorf("visits = %d, want 5", len(res.Visits))
	}
	bounces := 0
	for _, v := range res.Visits {
		if v.Bounce() {
			bounces++
		}
	}
	if bounces != 2 {
		t.Errorf("bounces = %d, want exactly 2", bounces)
	}
}

func TestConvertHourZeroPageviews(t *testing.T) {
	run := testRun(1)
	res, err := run.ConvertHour(emptyHour(time.Date(2024, 5, 20, 3, 0, 0, 0, time.UTC), 0))
	if err != nil {
		t.Fatalf("ConvertHour() error: %v", err)
	}
	if len(res.Visits) != 0 {
		t.Errorf("zero-pageview hour produced %d visits", len(res.Visits))
	}
}

func TestConvertHourInconsistent(t *testing.T) {
	run := testRun(1)
	_, err := run.ConvertHour(emptyHour(time.Date(2024, 5, 20, 4, 0, 0, 0, time.UTC), 3))
	if err == nil {
		t.Fatal("inconsistent hour converted without error")
	}
	if !skippable(err) {
		t.Errorf("inconsistent-hour error %v should be skippable", err)
	}
}

func TestExecuteSkipsAndContinues(t *testing.T) {
	base := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	hours := []fathom.Hour{
		exampleHour(base),
		emptyHour(base.Add(time.Hour), 3), // inconsistent, skipped
		exampleHour(base.Add(2 * time.Hour)),
		emptyHour(base.Add(3*time.Hour), 0), // empty, converts to nothing
	}

	var emitted []*HourResult
	summary, err := testRun(1).Execute(context.Background(), hours, func(res *HourResult) error {
		emitted = append(emitted, res)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if summary.Hours != 4 || summary.Converted != 3 || summary.Skipped != 1 {
		t.Errorf("summary = %d/%d/%d (hours/converted/skipped), want 4/3/1",
			summary.Hours, summary.Converted, summary.Skipped)
	}
	if summary.Pageviews != 20 || summary.Visits != 10 {
		t.Errorf("summary totals = %d pageviews / %d visits, want 20/10", summary.Pageviews, summary.Visits)
	}
	if len(summary.SkippedHours) != 1 {
		t.Fatalf("skip records = %d, want 1", len(summary.SkippedHours))
	}
	if summary.SkippedHours[0].Hour != "2024-05-20 01:00:00" {
		t.Errorf("skipped hour = %q", summary.SkippedHours[0].Hour)
	}
	if len(emitted) != 3 {
		t.Errorf("emitted %d results, want 3", len(emitted))
	}
}

func TestExecuteParallelMatchesSequential(t *testing.T) {
	base := time.Date(2024, 5, 21, 0, 0, 0, 0, time.UTC)
	var hours []fathom.Hour
	for i := 0; i < 8; i++ {
		hours = append(hours, exampleHour(base.Add(time.Duration(i)*time.Hour)))
	}

	collect := func(workers int) []string {
		var keys []string
		summary, err := testRun(workers).Execute(context.Background(), hours, func(res *HourResult) error {
			keys = append(keys, res.Set.Key())
			return nil
		})
		if err != nil {
			t.Fatalf("Execute(workers=%d) error: %v", workers, err)
		}
		if summary.Converted != 8 {
			t.Fatalf("Execute(workers=%d) converted %d, want 8", workers, summary.Converted)
		}
		return keys
	}

	seq := collect(1)
	par := collect(4)
	if len(seq) != len(par) {
		t.Fatalf("emission counts differ: %d vs %d", len(seq), len(par))
	}
	for i := range seq {
		if seq[i] != par[i] {
			t.Errorf("emission order differs at %d: %s vs %s", i, seq[i], par[i])
		}
	}
}

func TestExecuteCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	base := time.Date(2024, 5, 22, 0, 0, 0, 0, time.UTC)
	hours := []fathom.Hour{exampleHour(base), exampleHour(base.Add(time.Hour))}
	_, err := testRun(2).Execute(ctx, hours, func(*HourResult) error { return nil })
	if err == nil {
		t.Error("Execute() with cancelled context returned nil error")
	}
}

func TestSummaryCustomEvents(t *testing.T) {
	h := exampleHour(time.Date(2024, 5, 23, 9, 0, 0, 0, time.UTC))
	h.Custom = []fathom.CustomEvent{{Name: "signup", Code: "evt_1", Completions: 3}}

	summary, err := testRun(1).Execute(context.Background(), []fathom.Hour{h}, func(*HourResult) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if summary.CustomEvents != 3 {
		t.Errorf("CustomEvents = %d, want 3", summary.CustomEvents)
	}
	if summary.Events() != 13 {
		t.Errorf("Events() = %d, want 13", summary.Events())
	}
}
