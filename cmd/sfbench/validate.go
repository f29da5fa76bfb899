package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sfbench/sfbench/internal/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate <tasks-file>",
	Short: "Validate a task file without running anything",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		tasks, err := engine.LoadTasks(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		byType := map[string]int{}
		for _, t := range tasks {
			byType[string(t.TaskType)]++
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %d tasks valid\n", green("✓"), len(tasks))
		for taskType, count := range byType {
			fmt.Printf("  %-20s %d\n", taskType, count)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
