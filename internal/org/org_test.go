package org

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/sfbench/sfbench/internal/sfcli"
	"github.com/sfbench/sfbench/internal/types"
)

// fakeRunner serves canned results keyed by a substring of the argv.
type fakeRunner struct {
	responses []fakeResponse
	calls     [][]string
}

type fakeResponse struct {
	match string
	res   *sfcli.Result
	err   error
}

func (f *fakeRunner) Run(_ context.Context, opts sfcli.Options) (*sfcli.Result, error) {
	f.calls = append(f.calls, opts.Args)
	joined := strings.Join(opts.Args, " ")
	for i, r := range f.responses {
		if strings.Contains(joined, r.match) {
			// Consume one-shot responses so retries see the next one.
			if i+1 < len(f.responses) && f.responses[i+1].match == r.match {
				f.responses = append(f.responses[:i], f.responses[i+1:]...)
			}
			return r.res, r.err
		}
	}
	return &sfcli.Result{ExitCode: 1, Stderr: "no canned response"}, nil
}

func (f *fakeRunner) RunChecked(ctx context.Context, kind types.FailureKind, opts sfcli.Options) (*sfcli.Result, error) {
	res, err := f.Run(ctx, opts)
	if err != nil {
		return res, err
	}
	if !res.Succeeded() {
		return res, types.NewToolError(kind, "command failed", res.ExitCode, res.Stderr)
	}
	return res, nil
}

const createOK = `{"status": 0, "result": {"username": "test-abc@example.com", "orgId": "00D000000000001"}}`

func TestCreateParsesIdentity(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{
		{match: "org create scratch", res: &sfcli.Result{Stdout: createOK, ExitCode: 0}},
	}}
	p := NewProvider(ProviderConfig{}, r)

	o, err := p.Create(context.Background(), "apex-001", 1, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if o.Username != "test-abc@example.com" {
		t.Errorf("username = %q", o.Username)
	}
	if !strings.HasPrefix(o.Alias, "sfbench-apex-001-") {
		t.Errorf("alias = %q", o.Alias)
	}
	if o.Shared {
		t.Error("fresh orgs are not shared")
	}
}

func TestCreateJSONStatusBeatsExitCode(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{
		{match: "org create scratch", res: &sfcli.Result{Stdout: createOK, ExitCode: 1}},
	}}
	p := NewProvider(ProviderConfig{}, r)
	if _, err := p.Create(context.Background(), "t", 1, nil); err != nil {
		t.Fatalf("JSON status 0 must win over exit code 1: %v", err)
	}
}

func TestCreateRetriesTransientFailures(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{
		{match: "org create scratch", res: &sfcli.Result{ExitCode: 1, Stderr: "socket hang up"}},
		{match: "org create scratch", res: &sfcli.Result{Stdout: createOK, ExitCode: 0}},
	}}
	p := NewProvider(ProviderConfig{}, r)
	t.Setenv("SF_BENCH_INITIAL_DELAY", "0.01")

	o, err := p.Create(context.Background(), "t", 1, nil)
	if err != nil {
		t.Fatalf("expected success on retry: %v", err)
	}
	if o.Username == "" {
		t.Error("missing username after retry")
	}
	if len(r.calls) != 2 {
		t.Errorf("expected 2 creation attempts, got %d", len(r.calls))
	}
}

func TestCreatePlatformLimitationNotRetried(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{
		{match: "org create scratch", res: &sfcli.Result{ExitCode: 1, Stderr: "The ancestorVersion specified is invalid"}},
	}}
	p := NewProvider(ProviderConfig{}, r)

	_, err := p.Create(context.Background(), "t", 1, nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	kind, ok := types.KindOf(err)
	if !ok || kind != types.FailurePlatformLimitation {
		t.Errorf("expected platform_limitation, got %v", err)
	}
	if len(r.calls) != 1 {
		t.Errorf("platform limitations must not be retried, got %d attempts", len(r.calls))
	}
	if !types.ModelAttributable(err) {
		t.Error("platform limitations are model failures")
	}
}

const orgListOK = `{"status": 0, "result": {
  "scratchOrgs": [{"alias": "shared-ci", "username": "shared@example.com", "orgId": "00D000000000002"}],
  "nonScratchOrgs": [],
  "devHubs": [{"alias": "hub", "username": "hub@example.com", "connectedStatus": "Connected"}]
}}`

func TestSharedAliasNeverDeleted(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{
		{match: "org list", res: &sfcli.Result{Stdout: orgListOK, ExitCode: 0}},
	}}
	p := NewProvider(ProviderConfig{SharedAlias: "shared-ci"}, r)

	o, err := p.Create(context.Background(), "any-task", 1, nil)
	if err != nil {
		t.Fatalf("Create with shared alias: %v", err)
	}
	if !o.Shared || o.Username != "shared@example.com" {
		t.Errorf("unexpected shared org: %+v", o)
	}

	before := len(r.calls)
	p.Delete(context.Background(), o, nil)
	if len(r.calls) != before {
		t.Error("Delete must be a no-op for shared orgs")
	}

	// Second task reuses the cached org without another list call.
	o2, err := p.Create(context.Background(), "other-task", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if o2 != o {
		t.Error("shared org should be cached")
	}
}

func TestDeleteBestEffort(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{
		{match: "org delete scratch", res: &sfcli.Result{ExitCode: 1, Stderr: "already deleted"}},
	}}
	p := NewProvider(ProviderConfig{}, r)
	// Must not panic or propagate anything.
	p.Delete(context.Background(), &Org{Username: "gone@example.com"}, nil)
	if len(r.calls) != 1 {
		t.Errorf("expected one delete attempt, got %d", len(r.calls))
	}
}

func TestDeleteWarnsOnFailedExit(t *testing.T) {
	var buf bytes.Buffer
	prev := color.Output
	color.Output = &buf
	defer func() { color.Output = prev }()

	r := &fakeRunner{responses: []fakeResponse{
		{match: "org delete scratch", res: &sfcli.Result{
			ExitCode: 0, Stdout: `{"status": 1}`, Stderr: "delete request rejected",
		}},
	}}
	p := NewProvider(ProviderConfig{}, r)
	p.Delete(context.Background(), &Org{Username: "stuck@example.com"}, nil)

	if !strings.Contains(buf.String(), "scratch org delete") {
		t.Errorf("expected a warning for a failed delete, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "stuck@example.com") {
		t.Error("warning should name the org")
	}
}

func TestResolveUnknownAlias(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{
		{match: "org list", res: &sfcli.Result{Stdout: orgListOK, ExitCode: 0}},
	}}
	p := NewProvider(ProviderConfig{}, r)
	if _, err := p.Resolve(context.Background(), "nope"); err == nil {
		t.Fatal("expected an error for unknown alias")
	}
}

const limitsOK = `{"status": 0, "result": [
  {"name": "DailyApiRequests", "max": 15000, "remaining": 14000},
  {"name": "ActiveScratchOrgs", "max": 40, "remaining": 12}
]}`

func TestInventorySnapshotAndSelection(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{
		{match: "org list limits", res: &sfcli.Result{Stdout: limitsOK, ExitCode: 0}},
		{match: "org list", res: &sfcli.Result{Stdout: orgListOK, ExitCode: 0}},
	}}
	inv := NewInventory(r)

	report, err := inv.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(report.DevHubs) != 1 {
		t.Fatalf("expected 1 hub, got %d", len(report.DevHubs))
	}
	hub := report.DevHubs[0]
	if hub.Remaining != 12 || hub.Max != 40 || hub.ActiveScratchOrgs != 28 {
		t.Errorf("unexpected hub limits: %+v", hub)
	}
	if report.ScratchOrg != 1 {
		t.Errorf("scratch org count = %d", report.ScratchOrg)
	}

	if !report.HasCapacity(1) {
		t.Error("hub with 12 remaining should have capacity")
	}
	if report.HasCapacity(13) {
		t.Error("hub with 12 remaining cannot host 13")
	}

	best, ok := SelectBestDevHub(report)
	if !ok || best.Username != "hub@example.com" {
		t.Errorf("SelectBestDevHub = %+v, %v", best, ok)
	}
}

func TestSelectBestDevHubPrefersHeadroom(t *testing.T) {
	report := &InventoryReport{DevHubs: []DevHub{
		{Username: "a", Connected: true, Remaining: 2},
		{Username: "b", Connected: true, Remaining: 30},
		{Username: "c", Connected: false, Remaining: 100},
	}}
	best, ok := SelectBestDevHub(report)
	if !ok || best.Username != "b" {
		t.Errorf("expected hub b, got %+v", best)
	}
}
