package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sfbench/sfbench/internal/checkpoint"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List resumable evaluation checkpoints",
	Run: func(cmd *cobra.Command, args []string) {
		dir, _ := cmd.Flags().GetString("dir")

		manager, err := checkpoint.NewManager(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		entries, err := manager.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(entries) == 0 {
			fmt.Println("No checkpoints found.")
			return
		}

		for _, e := range entries {
			if !e.Valid {
				color.Red("  %-40s INVALID (corrupt or tampered)", e.EvaluationID)
				continue
			}
			fmt.Printf("  %-40s %s  %d tasks complete  (%s)\n",
				e.EvaluationID, e.ModelName, e.Completed, e.Timestamp)
		}
	},
}

func init() {
	checkpointsCmd.Flags().String("dir", "results/checkpoints", "Checkpoint directory")
	rootCmd.AddCommand(checkpointsCmd)
}
