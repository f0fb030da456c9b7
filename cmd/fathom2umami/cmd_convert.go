package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamwulf/fathom-to-umami/internal/config"
	"github.com/adamwulf/fathom-to-umami/internal/fathom"
	"github.com/adamwulf/fathom-to-umami/internal/ipf"
	"github.com/adamwulf/fathom-to-umami/internal/logging"
	"github.com/adamwulf/fathom-to-umami/internal/pipeline"
	"github.com/adamwulf/fathom-to-umami/internal/umami"
)

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <export-dir> <output>",
		Short: "Convert a Fathom export directory into Umami raw events",
		Long: `Convert reads an exported Fathom website directory (Site.csv, Pages.csv,
Browsers.csv, Countries.csv, DeviceTypes.csv, Referrers.csv, Events.csv)
and writes reconstructed raw events to the output path.

Examples:
  fathom2umami convert example.com output/example.csv
  fathom2umami convert example.com output/example.db --format sqlite
  fathom2umami convert example.com output/one-day.csv --date 2024-05-20`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("format"); v != "" {
				cfg.Output.Format = v
			}
			if v, _ := cmd.Flags().GetString("website-id"); v != "" {
				cfg.Output.WebsiteID = v
			}
			if v, _ := cmd.Flags().GetString("hostname"); v != "" {
				cfg.Output.Hostname = v
			}
			if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
				cfg.Workers = v
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := logging.NewLogger(cfg.LogLevel, os.Stderr)

			export, err := fathom.Open(args[0])
			if err != nil {
				return err
			}
			hours, err := export.Load()
			if err != nil {
				return err
			}
			if date, _ := cmd.Flags().GetString("date"); date != "" {
				hours = filterDate(hours, date)
				if len(hours) == 0 {
					return fmt.Errorf("no hourly records found for %s", date)
				}
				log.Info("date filter active", "date", date, "hours", len(hours))
			}
			log.Info("loaded export", "site", export.Name(), "hours", len(hours))

			hostname := cfg.Output.Hostname
			if hostname == "" {
				hostname = umami.InferHostname(export.Name())
			}
			emitter := umami.NewEmitter(cfg.Output.WebsiteID, hostname, cfg.Output.Language)

			sink, err := openSink(cfg.Output.Format, args[1])
			if err != nil {
				return err
			}
			defer sink.Close()

			run := &pipeline.Run{
				Log: log,
				Solver: ipf.Options{
					Tolerance:     cfg.Solver.Tolerance,
					MaxIterations: cfg.Solver.MaxIterations,
				},
				Workers: cfg.Workers,
			}
			summary, err := run.Execute(cmd.Context(), hours, func(res *pipeline.HourResult) error {
				events := emitter.HourEvents(res.Set.Hour, res.Visits, res.Custom)
				return sink.WriteEvents(events)
			})
			if err != nil {
				return err
			}
			if err := sink.Close(); err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			printSummary(summary, args[1], jsonOut)
			return nil
		},
	}

	cmd.Flags().String("date", "", "Convert only a single date (YYYY-MM-DD)")
	cmd.Flags().String("format", "", "Output format: csv or sqlite (default from config)")
	cmd.Flags().String("website-id", "", "Umami website UUID (default: generated)")
	cmd.Flags().String("hostname", "", "Site origin for events (default: inferred from export name)")
	cmd.Flags().Int("workers", 0, "Hours to process concurrently")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

func openSink(format, path string) (umami.Sink, error) {
	switch format {
	case "sqlite":
		return umami.NewSQLiteSink(path)
	default:
		return umami.NewCSVSink(path)
	}
}

func filterDate(hours []fathom.Hour, date string) []fathom.Hour {
	var out []fathom.Hour
	for _, h := range hours {
		if strings.HasPrefix(h.Set.Key(), date) {
			out = append(out, h)
		}
	}
	return out
}

func printSummary(s *pipeline.Summary, output string, jsonOut bool) {
	if jsonOut {
		json.NewEncoder(os.Stdout).Encode(map[string]any{
			"output":        output,
			"hours":         s.Hours,
			"converted":     s.Converted,
			"skipped":       s.Skipped,
			"events":        s.Events(),
			"pageviews":     s.Pageviews,
			"visits":        s.Visits,
			"custom_events": s.CustomEvents,
			"shortfalls":    s.Shortfalls,
			"discrepancies": s.Discrepancies,
			"skipped_hours": s.SkippedHours,
		})
		return
	}
	fmt.Printf("Conversion complete: %s\n", output)
	fmt.Printf("  Hours:         %d converted, %d skipped of %d\n", s.Converted, s.Skipped, s.Hours)
	fmt.Printf("  Events:        %d (%d pageviews, %d custom)\n", s.Events(), s.Pageviews, s.CustomEvents)
	fmt.Printf("  Visits:        %d\n", s.Visits)
	if s.Shortfalls > 0 {
		fmt.Printf("  Shortfalls:    %d hours hit the iteration cap\n", s.Shortfalls)
	}
	if s.Discrepancies > 0 {
		fmt.Printf("  Discrepancies: %d marginal units\n", s.Discrepancies)
	}
	for _, sk := range s.SkippedHours {
		fmt.Printf("  skipped %s: %s\n", sk.Hour, sk.Reason)
	}
}
