package org

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sfbench/sfbench/internal/config"
	"github.com/sfbench/sfbench/internal/sfcli"
)

// DevHub is one hub visible to the CLI, with its scratch-org headroom.
type DevHub struct {
	Alias     string `json:"alias,omitempty"`
	Username  string `json:"username"`
	Connected bool   `json:"connected"`
	// ActiveScratchOrgs and Remaining come from the limits API; -1 when
	// the hub could not be queried.
	ActiveScratchOrgs int `json:"active_scratch_orgs"`
	Remaining         int `json:"remaining"`
	Max               int `json:"max"`
}

// InventoryReport is the snapshot written before a run and by the inventory
// subcommand.
type InventoryReport struct {
	Timestamp  string   `json:"timestamp"`
	DevHubs    []DevHub `json:"dev_hubs"`
	ScratchOrg int      `json:"scratch_org_count"`
}

// HasCapacity reports whether any connected hub can host at least n more
// scratch orgs. Hubs that could not be queried are assumed usable.
func (r *InventoryReport) HasCapacity(n int) bool {
	for _, h := range r.DevHubs {
		if !h.Connected {
			continue
		}
		if h.Remaining < 0 || h.Remaining >= n {
			return true
		}
	}
	return false
}

// WriteJSON persists the report.
func (r *InventoryReport) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding inventory report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing inventory report: %w", err)
	}
	return nil
}

// Inventory queries DevHub capacity through the CLI.
type Inventory struct {
	runner sfcli.Runner
}

// NewInventory returns a CLI-backed inventory.
func NewInventory(runner sfcli.Runner) *Inventory {
	return &Inventory{runner: runner}
}

// Snapshot lists hubs and queries each connected hub's ActiveScratchOrgs
// limit.
func (inv *Inventory) Snapshot(ctx context.Context) (*InventoryReport, error) {
	timeout := time.Duration(config.Get().TimeoutAPI()) * time.Second
	res, err := inv.runner.Run(ctx, sfcli.Options{
		Args:    []string{"sf", "org", "list", "--json"},
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("listing orgs: %w", err)
	}
	parsed, err := sfcli.ParseJSON(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("parsing org list: %w", err)
	}
	inner, ok := parsed["result"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("org list has no result object")
	}

	report := &InventoryReport{Timestamp: time.Now().Format(time.RFC3339)}
	if scratch, ok := inner["scratchOrgs"].([]interface{}); ok {
		report.ScratchOrg = len(scratch)
	}

	hubs, _ := inner["devHubs"].([]interface{})
	for _, e := range hubs {
		m, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		hub := DevHub{ActiveScratchOrgs: -1, Remaining: -1, Max: -1}
		if a, ok := m["alias"].(string); ok {
			hub.Alias = a
		}
		if u, ok := m["username"].(string); ok {
			hub.Username = u
		}
		if s, ok := m["connectedStatus"].(string); ok {
			hub.Connected = s == "Connected"
		}
		if hub.Connected {
			inv.fillLimits(ctx, &hub)
		}
		report.DevHubs = append(report.DevHubs, hub)
	}
	return report, nil
}

func (inv *Inventory) fillLimits(ctx context.Context, hub *DevHub) {
	res, err := inv.runner.Run(ctx, sfcli.Options{
		Args: []string{
			"sf", "org", "list", "limits",
			"--target-org", hub.Username, "--json",
		},
		Timeout: time.Duration(config.Get().TimeoutAPI()) * time.Second,
	})
	if err != nil {
		return
	}
	parsed, err := sfcli.ParseJSON(res.Stdout)
	if err != nil {
		return
	}
	limits, ok := parsed["result"].([]interface{})
	if !ok {
		return
	}
	for _, e := range limits {
		m, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		if m["name"] != "ActiveScratchOrgs" {
			continue
		}
		if max, ok := m["max"].(float64); ok {
			hub.Max = int(max)
		}
		if rem, ok := m["remaining"].(float64); ok {
			hub.Remaining = int(rem)
			if hub.Max >= 0 {
				hub.ActiveScratchOrgs = hub.Max - hub.Remaining
			}
		}
		return
	}
}

// SelectBestDevHub picks the connected hub with the most remaining scratch
// org capacity. Unqueried hubs rank below any hub with known headroom.
func SelectBestDevHub(report *InventoryReport) (DevHub, bool) {
	best := DevHub{Remaining: -2}
	found := false
	for _, h := range report.DevHubs {
		if !h.Connected {
			continue
		}
		if !found || h.Remaining > best.Remaining {
			best = h
			found = true
		}
	}
	return best, found
}
