package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sfbench/sfbench/internal/report"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <v1-results.json>",
	Short: "Migrate a v1 results file to the v2 report schema",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		model, _ := cmd.Flags().GetString("model")
		outDir, _ := cmd.Flags().GetString("output")

		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		records, err := report.LoadV1(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		rep := report.MigrateV1(model, records)
		if err := rep.Write(outDir); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Migrated %d instances to schema %s in %s\n",
			green("✓"), len(rep.Instances), report.SchemaVersion, outDir)
	},
}

func init() {
	migrateCmd.Flags().String("model", "unknown", "Model name to record in the migrated report")
	migrateCmd.Flags().StringP("output", "o", "results-migrated", "Directory for the migrated report")
	rootCmd.AddCommand(migrateCmd)
}
