package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sfbench/sfbench/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit <audit.json>",
	Short: "Summarize an evaluation's audit trail",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		records, err := audit.Load(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(records) == 0 {
			fmt.Println("Audit trail is empty.")
			return
		}

		bold := color.New(color.Bold).SprintFunc()
		fmt.Printf("%s %s (model %s)\n", bold("Evaluation:"),
			records[0].EvaluationID, records[0].ModelName)

		for _, r := range records {
			status := r.FinalStatus
			if status == "" {
				status = "UNKNOWN"
			}
			fmt.Printf("  %-30s %-8s %3d cmds %3d git %3d api\n",
				r.TaskID, status, len(r.Commands), len(r.GitOps), len(r.APICalls))
		}

		s := audit.Summarize(records)
		fmt.Printf("\n%s %d tasks, %d commands, %d git operations, %d API calls\n",
			bold("Totals:"), s.Tasks, s.Commands, s.GitOps, s.APICalls)

		statuses := make([]string, 0, len(s.ByStatus))
		for st := range s.ByStatus {
			statuses = append(statuses, st)
		}
		sort.Strings(statuses)
		for _, st := range statuses {
			fmt.Printf("  %-10s %d\n", st, s.ByStatus[st])
		}
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
