package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sfbench/sfbench/internal/org"
	"github.com/sfbench/sfbench/internal/sfcli"
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Show DevHub scratch-org capacity",
	Run: func(cmd *cobra.Command, args []string) {
		jsonPath, _ := cmd.Flags().GetString("json")

		snapshot, err := org.NewInventory(sfcli.New()).Snapshot(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonPath != "" {
			if err := snapshot.WriteJSON(jsonPath); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Inventory written to %s\n", jsonPath)
			return
		}

		fmt.Printf("Scratch orgs visible to the CLI: %d\n\n", snapshot.ScratchOrg)
		if len(snapshot.DevHubs) == 0 {
			fmt.Println("No DevHubs configured.")
			return
		}
		for _, hub := range snapshot.DevHubs {
			name := hub.Username
			if hub.Alias != "" {
				name = fmt.Sprintf("%s (%s)", hub.Alias, hub.Username)
			}
			if !hub.Connected {
				color.Red("  %s: not connected", name)
				continue
			}
			if hub.Remaining < 0 {
				color.Yellow("  %s: connected, limits unknown", name)
				continue
			}
			line := fmt.Sprintf("  %s: %d/%d scratch orgs active, %d remaining",
				name, hub.ActiveScratchOrgs, hub.Max, hub.Remaining)
			if hub.Remaining == 0 {
				color.Red("%s", line)
			} else {
				color.Green("%s", line)
			}
		}
	},
}

func init() {
	inventoryCmd.Flags().String("json", "", "Write the snapshot to this file instead of printing")
	rootCmd.AddCommand(inventoryCmd)
}
