package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adamwulf/fathom-to-umami/internal/fathom"
	"github.com/adamwulf/fathom-to-umami/internal/ipf"
	"github.com/adamwulf/fathom-to-umami/internal/logging"
	"github.com/adamwulf/fathom-to-umami/internal/pipeline"
	"github.com/adamwulf/fathom-to-umami/internal/validate"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <export-dir>",
		Short: "Run the pipeline in memory and verify the round-trip",
		Long: `Validate converts every hour without writing output, re-aggregates the
synthesized visits, and compares the result against the original
constraints: exact equality for all dimension marginals and visit totals,
tolerance-bounded equality for bounce rate and average duration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
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

			run := &pipeline.Run{
				Log: log,
				Solver: ipf.Options{
					Tolerance:     cfg.Solver.Tolerance,
					MaxIterations: cfg.Solver.MaxIterations,
				},
				Workers: cfg.Workers,
			}

			showAll, _ := cmd.Flags().GetBool("all")
			failed := 0
			var reports []validate.Report
			summary, err := run.Execute(cmd.Context(), hours, func(res *pipeline.HourResult) error {
				report := validate.Check(res.Set, res.Visits)
				if !report.OK() {
					failed++
				}
				if !report.OK() || showAll {
					reports = append(reports, report)
				}
				return nil
			})
			if err != nil {
				return err
			}

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"hours":     summary.Hours,
					"converted": summary.Converted,
					"skipped":   summary.Skipped,
					"failed":    failed,
					"reports":   reports,
				})
			}

			for _, r := range reports {
				fmt.Println(r.Summary())
				for _, diff := range r.MarginalDiffs {
					fmt.Printf("    %s\n", diff)
				}
			}
			fmt.Printf("Validated %d hours: %d ok, %d failed, %d skipped\n",
				summary.Converted, summary.Converted-failed, failed, summary.Skipped)
			if failed > 0 {
				return fmt.Errorf("%d hours failed round-trip validation", failed)
			}
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "Print a report line for every hour, not only failures")
	return cmd
}
