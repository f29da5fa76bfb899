package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sfbench/sfbench/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "sfbench",
	Short: "Evaluate AI-generated patches against Salesforce tasks",
	Long: `sfbench runs model-produced patches against real Salesforce task
repositories: it clones each task at its base commit, applies the patch,
deploys to a scratch org, runs the task's validation, and scores the outcome.

Results land in the output directory as per-task JSON files plus an
aggregate report.json and summary.md.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is optional and never overrides the real environment.
		_ = godotenv.Load()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		config.Set(cfg)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "sfbench.yaml", "Configuration file (YAML or JSON; missing file uses defaults)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
