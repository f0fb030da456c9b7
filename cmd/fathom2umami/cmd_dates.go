package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adamwulf/fathom-to-umami/internal/fathom"
)

func newDatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dates <export-dir>",
		Short: "List the dates available in a Fathom export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			export, err := fathom.Open(args[0])
			if err != nil {
				return err
			}
			hours, err := export.Load()
			if err != nil {
				return err
			}
			dates := fathom.Dates(hours)

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(os.Stdout).Encode(dates)
			}
			if len(dates) == 0 {
				fmt.Printf("No hourly records in %s\n", export.Name())
				return nil
			}
			fmt.Printf("Available dates in %s: %d (%s to %s)\n",
				export.Name(), len(dates), dates[0].Date, dates[len(dates)-1].Date)
			for _, d := range dates {
				fmt.Printf("  %s: %d hours\n", d.Date, d.Hours)
			}
			return nil
		},
	}
}
