package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sfbench/sfbench/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past runs from the history database",
	Run: func(cmd *cobra.Command, args []string) {
		dbPath, _ := cmd.Flags().GetString("db")
		model, _ := cmd.Flags().GetString("model")
		instance, _ := cmd.Flags().GetString("instance")
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := history.Open(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		if instance != "" {
			outcomes, err := store.InstanceHistory(instance, limit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(outcomes) == 0 {
				fmt.Printf("No history for instance %s\n", instance)
				return
			}
			fmt.Printf("%-28s %-24s %-8s %-9s %s\n", "RUN", "MODEL", "STATUS", "RESOLVED", "SCORE")
			for _, o := range outcomes {
				fmt.Printf("%-28s %-24s %-8s %-9v %d\n",
					o.RunID, o.ModelName, o.Status, o.Resolved, o.FunctionalScore)
			}
			return
		}

		runs, err := store.ListRuns(model, limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(runs) == 0 {
			fmt.Println("No recorded runs.")
			return
		}
		fmt.Printf("%-28s %-24s %-16s %8s %10s %8s\n",
			"RUN", "MODEL", "DATASET", "TOTAL", "RESOLVED", "PCT")
		for _, r := range runs {
			fmt.Printf("%-28s %-24s %-16s %8d %10d %7.2f%%\n",
				r.RunID, r.ModelName, r.Dataset, r.Total, r.Resolved, r.ResolutionPct)
		}
	},
}

func init() {
	historyCmd.Flags().String("db", "sfbench-history.db", "History database path")
	historyCmd.Flags().String("model", "", "Filter runs by model name")
	historyCmd.Flags().String("instance", "", "Show per-run outcomes for one instance")
	historyCmd.Flags().Int("limit", 20, "Maximum rows to show")
	rootCmd.AddCommand(historyCmd)
}
