// Package org provisions and tears down Salesforce scratch orgs, and keeps
// an inventory of DevHub capacity. Org creation is the one operation that
// races against per-DevHub active-org limits, so it is serialized through a
// package-level mutex; that mutex is the second piece of documented global
// state besides the configuration singleton.
package org

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/sfbench/sfbench/internal/config"
	"github.com/sfbench/sfbench/internal/retry"
	"github.com/sfbench/sfbench/internal/sfcli"
	"github.com/sfbench/sfbench/internal/types"
)

// creationMu serializes scratch-org creation across all workers.
var creationMu sync.Mutex

// DefaultDuration is the scratch-org lifetime in days.
const DefaultDuration = 1

// Org describes a provisioned scratch org.
type Org struct {
	Alias    string
	Username string
	OrgID    string
	// Shared marks a pre-existing org the provider must never delete.
	Shared bool
}

// Provider creates, resolves, and deletes scratch orgs.
type Provider interface {
	// Create provisions a scratch org and returns its identity. The call
	// holds the creation mutex for the duration of the CLI invocation.
	Create(ctx context.Context, taskID string, durationDays int, logw io.Writer) (*Org, error)

	// Resolve looks up the username behind an alias via the CLI's org
	// registry. Used when tasks reference a pre-existing shared org.
	Resolve(ctx context.Context, alias string) (*Org, error)

	// Delete tears an org down. Best effort: failures are logged and
	// swallowed. Shared orgs are never deleted.
	Delete(ctx context.Context, o *Org, logw io.Writer)
}

// Config for the provider.
type ProviderConfig struct {
	// DevHub is the target DevHub username or alias. Empty uses the CLI
	// default.
	DevHub string
	// DefinitionDir is searched for project-scratch-def.json; when found it
	// is passed to org creation.
	DefinitionDir string
	// SharedAlias, when set, names an org that Create returns for every
	// task instead of provisioning fresh ones.
	SharedAlias string
}

type provider struct {
	cfg    ProviderConfig
	runner sfcli.Runner

	mu     sync.Mutex
	shared *Org
}

// NewProvider returns the CLI-backed org provider.
func NewProvider(cfg ProviderConfig, runner sfcli.Runner) Provider {
	return &provider{cfg: cfg, runner: runner}
}

func (p *provider) Create(ctx context.Context, taskID string, durationDays int, logw io.Writer) (*Org, error) {
	if p.cfg.SharedAlias != "" {
		return p.sharedOrg(ctx)
	}

	if durationDays <= 0 {
		durationDays = DefaultDuration
	}
	// A uuid suffix keeps aliases unique across concurrent runs against
	// the same DevHub.
	alias := fmt.Sprintf("sfbench-%s-%s", taskID, uuid.NewString()[:8])

	args := []string{
		"sf", "org", "create", "scratch",
		"--alias", alias,
		"--duration-days", strconv.Itoa(durationDays),
		"--wait", "10",
		"--json",
	}
	if p.cfg.DevHub != "" {
		args = append(args, "--target-dev-hub", p.cfg.DevHub)
	}
	if def := p.definitionFile(); def != "" {
		args = append(args, "--definition-file", def)
	} else {
		args = append(args, "--edition", "developer")
	}

	timeout := time.Duration(config.Get().TimeoutSetup()) * time.Second
	policy := retry.Policy{
		MaxAttempts:  config.Get().MaxRetries(),
		InitialDelay: time.Duration(config.Get().InitialDelay() * float64(time.Second)),
		Factor:       2,
	}

	var created *Org
	err := retry.Do(ctx, policy, isPlatformLimitationError, func(attempt int) error {
		if attempt > 1 {
			color.Yellow("Retrying scratch org creation for %s (attempt %d)", taskID, attempt)
		}

		creationMu.Lock()
		res, runErr := p.runner.Run(ctx, sfcli.Options{
			Args:      args,
			Timeout:   timeout,
			LogWriter: logw,
		})
		creationMu.Unlock()

		if runErr != nil {
			return fmt.Errorf("org creation: %w", runErr)
		}
		if !res.Succeeded() {
			msg := res.Stderr
			if msg == "" {
				msg = res.Stdout
			}
			if types.IsPlatformLimitation(msg) {
				return types.NewToolError(types.FailurePlatformLimitation,
					"scratch org creation blocked by platform limitation", res.ExitCode, res.Stderr)
			}
			return types.NewToolError(types.FailureOrgCreation,
				"scratch org creation failed", res.ExitCode, res.Stderr)
		}

		created = &Org{Alias: alias}
		if inner, jerr := res.JSONResult(); jerr == nil {
			if u, ok := inner["username"].(string); ok {
				created.Username = u
			}
			if id, ok := inner["orgId"].(string); ok {
				created.OrgID = id
			}
		}
		if created.Username == "" {
			// The alias still addresses the org; resolve lazily.
			resolved, rerr := p.Resolve(ctx, alias)
			if rerr == nil {
				created.Username = resolved.Username
				created.OrgID = resolved.OrgID
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (p *provider) sharedOrg(ctx context.Context) (*Org, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shared != nil {
		return p.shared, nil
	}
	o, err := p.Resolve(ctx, p.cfg.SharedAlias)
	if err != nil {
		return nil, fmt.Errorf("resolving shared org %s: %w", p.cfg.SharedAlias, err)
	}
	o.Shared = true
	p.shared = o
	return o, nil
}

func (p *provider) Resolve(ctx context.Context, alias string) (*Org, error) {
	res, err := p.runner.Run(ctx, sfcli.Options{
		Args:    []string{"sf", "org", "list", "--json"},
		Timeout: time.Duration(config.Get().TimeoutAPI()) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("listing orgs: %w", err)
	}
	parsed, err := sfcli.ParseJSON(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("parsing org list: %w", err)
	}

	for _, o := range orgEntries(parsed) {
		if o["alias"] == alias || o["username"] == alias {
			out := &Org{Alias: alias}
			if u, ok := o["username"].(string); ok {
				out.Username = u
			}
			if id, ok := o["orgId"].(string); ok {
				out.OrgID = id
			}
			return out, nil
		}
	}
	return nil, types.NewToolError(types.FailureOrgCreation,
		fmt.Sprintf("no org found for alias %s", alias), 0, "")
}

func (p *provider) Delete(ctx context.Context, o *Org, logw io.Writer) {
	if o == nil {
		return
	}
	if o.Shared {
		// Shared orgs outlive individual tasks.
		return
	}
	target := o.Username
	if target == "" {
		target = o.Alias
	}
	if target == "" {
		return
	}

	res, err := p.runner.Run(ctx, sfcli.Options{
		Args: []string{
			"sf", "org", "delete", "scratch",
			"--target-org", target,
			"--no-prompt", "--json",
		},
		Timeout:   time.Duration(config.Get().TimeoutAPI()) * time.Second,
		LogWriter: logw,
	})
	if err != nil {
		color.Yellow("Warning: failed to delete scratch org %s: %v", target, err)
		return
	}
	if !res.Succeeded() {
		color.Yellow("Warning: scratch org delete for %s exited %d: %s",
			target, res.ExitCode, types.TailString(res.Stderr, 200))
	}
}

func (p *provider) definitionFile() string {
	if p.cfg.DefinitionDir == "" {
		return ""
	}
	path := filepath.Join(p.cfg.DefinitionDir, "project-scratch-def.json")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func isPlatformLimitationError(err error) bool {
	k, ok := types.KindOf(err)
	return ok && k == types.FailurePlatformLimitation
}

// orgEntries flattens the sf org list result's scratchOrgs and nonScratchOrgs
// arrays into one slice of objects.
func orgEntries(parsed map[string]interface{}) []map[string]interface{} {
	inner, ok := parsed["result"].(map[string]interface{})
	if !ok {
		return nil
	}
	var out []map[string]interface{}
	for _, key := range []string{"scratchOrgs", "nonScratchOrgs", "devHubs"} {
		arr, ok := inner[key].([]interface{})
		if !ok {
			continue
		}
		for _, e := range arr {
			if m, ok := e.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
	}
	return out
}
