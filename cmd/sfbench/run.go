package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sfbench/sfbench/internal/config"
	"github.com/sfbench/sfbench/internal/engine"
	"github.com/sfbench/sfbench/internal/org"
	"github.com/sfbench/sfbench/internal/patch"
	"github.com/sfbench/sfbench/internal/runner"
	"github.com/sfbench/sfbench/internal/sfcli"
	"github.com/sfbench/sfbench/internal/solution"
	"github.com/sfbench/sfbench/internal/workspace"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an evaluation over a task file",
	Long: `Run every task in the task file against the model's solutions.

Solutions come from one of three sources:
  --solutions       a directory of <instance_id>.patch / .diff files
  --solutions-json  a JSON object mapping instance_id to diff text
  --generate        ask the model itself for a patch per task

Individual task failures never change the exit code; only unloadable
inputs (bad task file, missing solutions source) do.`,
	Run: func(cmd *cobra.Command, args []string) {
		tasksFile, _ := cmd.Flags().GetString("tasks")
		model, _ := cmd.Flags().GetString("model")
		dataset, _ := cmd.Flags().GetString("dataset")
		outputDir, _ := cmd.Flags().GetString("output")
		evalID, _ := cmd.Flags().GetString("evaluation-id")
		workers, _ := cmd.Flags().GetInt("workers")
		devHub, _ := cmd.Flags().GetString("dev-hub")
		sharedOrg, _ := cmd.Flags().GetString("shared-org")
		workspaceRoot, _ := cmd.Flags().GetString("workspace-root")
		historyPath, _ := cmd.Flags().GetString("history-db")
		skipCapacity, _ := cmd.Flags().GetBool("skip-capacity-check")

		solutionsDir, _ := cmd.Flags().GetString("solutions")
		solutionsJSON, _ := cmd.Flags().GetString("solutions-json")
		generate, _ := cmd.Flags().GetBool("generate")

		sfRunner := sfcli.New()

		source, err := buildSource(solutionsDir, solutionsJSON, generate, model)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ws, err := workspace.New(workspaceRoot, sfRunner)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		effectiveWorkers := workers
		if effectiveWorkers <= 0 {
			effectiveWorkers = config.Get().MaxWorkers()
		}

		// Shared-org runs never create scratch orgs, so capacity is moot.
		if !skipCapacity && sharedOrg == "" {
			snapshot, invErr := org.NewInventory(sfRunner).Snapshot(ctx)
			if invErr != nil {
				color.Yellow("Warning: could not query DevHub inventory: %v", invErr)
			} else {
				if mkErr := os.MkdirAll(outputDir, 0o755); mkErr == nil {
					if wErr := snapshot.WriteJSON(filepath.Join(outputDir, "inventory.json")); wErr != nil {
						color.Yellow("Warning: %v", wErr)
					}
				}
				if !snapshot.HasCapacity(effectiveWorkers) {
					fmt.Fprintf(os.Stderr, "Error: no DevHub has capacity for %d concurrent scratch orgs; free some or pass --shared-org\n", effectiveWorkers)
					os.Exit(1)
				}
				if devHub == "" {
					if best, ok := org.SelectBestDevHub(snapshot); ok {
						devHub = best.Username
						color.Cyan("Using DevHub %s (%d scratch orgs remaining)", best.Username, best.Remaining)
					}
				}
			}
		}

		deps := runner.Deps{
			Workspace: ws,
			Orgs: org.NewProvider(org.ProviderConfig{
				DevHub:        devHub,
				DefinitionDir: ".",
				SharedAlias:   sharedOrg,
			}, sfRunner),
			Patches:        patch.NewApplier(sfRunner),
			Runner:         sfRunner,
			SharedOrgAlias: sharedOrg,
		}

		eng, err := engine.New(engine.Options{
			EvaluationID: evalID,
			ModelName:    model,
			Dataset:      dataset,
			TasksFile:    tasksFile,
			OutputDir:    outputDir,
			Source:       source,
			Deps:         deps,
			MaxWorkers:   workers,
			HistoryPath:  historyPath,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		rep, err := eng.Run(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		s := rep.Summary
		fmt.Printf("\n%s Evaluation complete: %d/%d resolved (%.2f%%), %d errors, %d empty patches\n",
			green("✓"), s.Resolved, s.Total, s.ResolutionPct, s.Errors, s.EmptyPatches)
		fmt.Printf("  Report: %s\n", filepath.Join(outputDir, "report.json"))
	},
}

// buildSource selects the solution source from the mutually exclusive flags.
func buildSource(dir, jsonPath string, generate bool, model string) (solution.Source, error) {
	set := 0
	for _, on := range []bool{dir != "", jsonPath != "", generate} {
		if on {
			set++
		}
	}
	if set > 1 {
		return nil, fmt.Errorf("--solutions, --solutions-json, and --generate are mutually exclusive")
	}
	switch {
	case dir != "":
		return solution.NewDirSource(dir)
	case jsonPath != "":
		return solution.NewJSONSource(jsonPath)
	case generate:
		producer, err := solution.NewAnthropicProducer(model, nil)
		if err != nil {
			return nil, err
		}
		return solution.NewProducerSource(producer), nil
	}
	return nil, fmt.Errorf("one of --solutions, --solutions-json, or --generate is required")
}

func init() {
	runCmd.Flags().StringP("tasks", "t", "", "Task file (JSON array or single task object)")
	runCmd.Flags().StringP("model", "m", "", "Model name being evaluated")
	runCmd.Flags().String("dataset", "", "Dataset label recorded in the report")
	runCmd.Flags().StringP("output", "o", "results", "Output directory")
	runCmd.Flags().String("evaluation-id", "", "Checkpoint key (defaults to model + tasks file)")
	runCmd.Flags().IntP("workers", "w", 0, "Concurrent workers (0 uses the configured default)")
	runCmd.Flags().String("dev-hub", "", "DevHub alias or username (default: pick the hub with most capacity)")
	runCmd.Flags().String("shared-org", "", "Alias of a pre-existing org to reuse for every task (never deleted)")
	runCmd.Flags().String("workspace-root", ".sfbench-work", "Root directory for task workspaces")
	runCmd.Flags().String("history-db", "", "SQLite database recording run history (optional)")
	runCmd.Flags().Bool("skip-capacity-check", false, "Skip the DevHub capacity check before running")

	runCmd.Flags().String("solutions", "", "Directory of <instance_id>.patch/.diff solution files")
	runCmd.Flags().String("solutions-json", "", "JSON file mapping instance_id to diff text")
	runCmd.Flags().Bool("generate", false, "Generate patches with the model instead of reading them")

	runCmd.MarkFlagRequired("tasks")
	runCmd.MarkFlagRequired("model")
	rootCmd.AddCommand(runCmd)
}
