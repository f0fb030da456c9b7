package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "fathom2umami",
		Short: "Reconstruct raw Umami events from Fathom analytics exports",
		Long: `fathom2umami converts Fathom's aggregated hourly CSV exports into
synthetic raw event data importable by Umami.

For every exported hour it solves for a joint distribution consistent with
the page, browser, country, device and referrer totals, allocates exact
integer event counts, and groups them into visits matching the recorded
visit count, bounce rate and average duration. Re-aggregating the output
reproduces the original summaries exactly.`,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log verbosity: error, warn, info, debug")
	rootCmd.PersistentFlags().Bool("json", false, "Output results as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConvertCmd(),
		newDatesCmd(),
		newValidateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]string{"version": version})
			} else {
				fmt.Printf("fathom2umami version %s\n", version)
			}
		},
	}
}
