// Package fathom loads a Fathom Analytics CSV export directory and turns it
// into per-hour constraint sets for the reconstruction pipeline. One export
// directory holds one file per dimension (Pages.csv, Browsers.csv, ...), a
// Site.csv with hourly visit totals, and optionally an Events.csv with
// custom event completions.
package fathom

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adamwulf/fathom-to-umami/internal/constraint"
)

// timeLayout is the timestamp format used throughout Fathom exports.
const timeLayout = "2006-01-02 15:04:05"

// OtherCategory pads non-referrer dimensions whose exported rows sum to less
// than the hour's pageview total, so every marginal meets the solver's
// precondition. Referrer shortfalls use constraint.DirectReferrer instead.
const OtherCategory = "(other)"

// CustomEvent is one Events.csv row: a named event with a completion count
// for the hour.
type CustomEvent struct {
	Name        string
	Code        string
	Completions int
}

// Hour is everything the export recorded for one hourly bucket.
type Hour struct {
	Set    *constraint.HourlySet
	Custom []CustomEvent
}

// dimensionFile describes one per-dimension CSV: its filename and the
// category/count column headers.
type dimensionFile struct {
	name     string
	category string
	count    string
}

var dimensionFiles = [constraint.NumDimensions]dimensionFile{
	constraint.Page:     {"Pages.csv", "Pathname", "Views"},
	constraint.Browser:  {"Browsers.csv", "Browser", "Pageviews"},
	constraint.Country:  {"Countries.csv", "Country", "Pageviews"},
	constraint.Device:   {"DeviceTypes.csv", "Device Type", "Pageviews"},
	constraint.Referrer: {"Referrers.csv", "Referrer Hostname", "Views"},
}

// Export is an opened Fathom export directory.
type Export struct {
	dir  string
	name string
}

// Open validates that dir looks like a Fathom export (Site.csv present) and
// returns a handle for loading it.
func Open(dir string) (*Export, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("opening export: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("opening export: %s is not a directory", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, "Site.csv")); err != nil {
		return nil, fmt.Errorf("opening export: Site.csv not found in %s", dir)
	}
	return &Export{dir: dir, name: filepath.Base(filepath.Clean(dir))}, nil
}

// Name returns the export directory's base name, typically the site domain.
func (e *Export) Name() string { return e.name }

// Load reads every CSV in the export and builds one Hour per Site.csv
// timestamp, sorted chronologically. Dimension marginals are padded so each
// sums to the hour's pageview total: referrers with the synthetic "(direct)"
// bucket, other dimensions with "(other)".
func (e *Export) Load() ([]Hour, error) {
	site, err := e.readRows("Site.csv")
	if err != nil {
		return nil, err
	}

	hours := make(map[time.Time]*Hour)
	var order []time.Time
	for _, row := range site {
		ts, err := parseTimestamp(row["Timestamp"])
		if err != nil {
			return nil, fmt.Errorf("Site.csv: %w", err)
		}
		if _, ok := hours[ts]; ok {
			continue
		}
		set := &constraint.HourlySet{
			Hour:        ts,
			Pageviews:   parseInt(row["Pageviews"]),
			Visits:      parseInt(row["Visits"]),
			BounceRate:  parseFloat(row["Bounce Rate"]),
			AvgDuration: parseFloat(row["Avg Duration"]),
		}
		for _, d := range constraint.Dimensions {
			set.Marginals[d] = make(constraint.Marginal)
		}
		hours[ts] = &Hour{Set: set}
		order = append(order, ts)
	}

	for _, d := range constraint.Dimensions {
		df := dimensionFiles[d]
		rows, err := e.readRows(df.name)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			ts, err := parseTimestamp(row["Timestamp"])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", df.name, err)
			}
			h, ok := hours[ts]
			if !ok {
				continue // dimension rows without a Site.csv hour
			}
			category := row[df.category]
			if n := parseInt(row[df.count]); n > 0 && category != "" {
				h.Set.Marginals[d][category] += n
			}
		}
	}

	events, err := e.readRows("Events.csv")
	if err != nil {
		return nil, err
	}
	for _, row := range events {
		ts, err := parseTimestamp(row["Timestamp"])
		if err != nil {
			return nil, fmt.Errorf("Events.csv: %w", err)
		}
		h, ok := hours[ts]
		if !ok {
			continue
		}
		if n := parseInt(row["Completions"]); n > 0 {
			h.Custom = append(h.Custom, CustomEvent{
				Name:        row["Event Name"],
				Code:        row["Event Code"],
				Completions: n,
			})
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	out := make([]Hour, 0, len(order))
	for _, ts := range order {
		h := hours[ts]
		padMarginals(h.Set)
		out = append(out, *h)
	}
	return out, nil
}

// padMarginals fills each short marginal up to the pageview total. Oversized
// marginals are left alone; constraint validation rejects those hours.
func padMarginals(set *constraint.HourlySet) {
	if set.Pageviews == 0 {
		return
	}
	for _, d := range constraint.Dimensions {
		filler := OtherCategory
		if d == constraint.Referrer {
			filler = constraint.DirectReferrer
		}
		if short := set.Pageviews - set.Marginals[d].Total(); short > 0 {
			set.Marginals[d][filler] += short
		}
	}
}

// readRows reads a headered CSV into one map per record. A missing file is
// not an error; exports commonly omit files for unused features.
func (e *Export) readRows(name string) ([]map[string]string, error) {
	f, err := os.Open(filepath.Join(e.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s header: %w", name, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []map[string]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		row := make(map[string]string, len(header))
		for i, field := range record {
			if i < len(header) {
				row[header[i]] = strings.TrimSpace(field)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.ParseInLocation(timeLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return ts, nil
}

// parseInt mirrors the lenient numeric handling Fathom exports need: empty
// and malformed fields count as zero.
func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
