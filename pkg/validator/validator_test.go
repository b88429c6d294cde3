package validator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
	"github.com/compas-dev/compas/pkg/judge"
)

const testDescription = "checks repository quality gates for this fixture"

func writeMinimalPlugin(t *testing.T, root string) {
	t.Helper()
	dir := filepath.Join(root, ".agents/mcp/compas/plugins", "core")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := `
[plugin]
id = "core"
description = "` + testDescription + `"

[tool_policy]
mode = "allow_any"

[[tools]]
id = "lint"
description = "` + testDescription + `"
command = "true"

[gate]
ci_fast = ["lint"]
`
	if err := os.WriteFile(filepath.Join(dir, "plugin.toml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRun_MissingPluginsDirReturnsErrorOutput(t *testing.T) {
	dir := t.TempDir()
	out, err := Run(Options{RepoRoot: dir, Mode: judge.ModeWarn})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.OK {
		t.Fatal("expected ok=false")
	}
	if out.Error == nil || out.Error.Code != "config.plugins_dir_missing" {
		t.Fatalf("expected config.plugins_dir_missing, got %+v", out.Error)
	}
}

func TestRun_MinimalRepoPassesInWarnMode(t *testing.T) {
	dir := t.TempDir()
	writeMinimalPlugin(t, dir)

	out, err := Run(Options{RepoRoot: dir, Mode: judge.ModeWarn})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected ok=true in warn mode, got %+v", out)
	}
	if out.Mode != "warn" {
		t.Errorf("expected mode=warn, got %s", out.Mode)
	}
	if out.Snapshot == nil {
		t.Error("expected a snapshot to be built even without write-baseline")
	}
}

func TestRun_RatchetModeBuildsAndCanWriteBaseline(t *testing.T) {
	dir := t.TempDir()
	writeMinimalPlugin(t, dir)

	out, err := Run(Options{
		RepoRoot: dir, Mode: judge.ModeRatchet,
		WriteBaseline: true, MaintenanceReason: "establishing initial baseline",
		MaintenanceOwner: "test-owner",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Error != nil {
		t.Fatalf("unexpected error output: %+v", out.Error)
	}

	snapshotPath := filepath.Join(dir, ".agents/mcp/compas/baselines/quality_snapshot.json")
	if _, statErr := os.Stat(snapshotPath); statErr != nil {
		t.Fatalf("expected baseline snapshot to be written: %v", statErr)
	}
}

func TestRun_WriteBaselineWithoutReasonFailsClosed(t *testing.T) {
	dir := t.TempDir()
	writeMinimalPlugin(t, dir)

	out, err := Run(Options{RepoRoot: dir, Mode: judge.ModeRatchet, WriteBaseline: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.OK {
		t.Fatal("expected ok=false when write-baseline precondition is unmet")
	}
	if out.Error == nil || out.Error.Code != "ratchet.maintenance_required" {
		t.Fatalf("expected ratchet.maintenance_required, got %+v", out.Error)
	}
}

func TestRun_AllowAnyPluginProducesBlockingFinding(t *testing.T) {
	dir := t.TempDir()
	writeMinimalPlugin(t, dir)

	out, err := Run(Options{RepoRoot: dir, Mode: judge.ModeWarn})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, f := range out.Violations {
		if f.Code == "security.allow_any_policy" {
			found = true
		}
	}
	if !found {
		t.Error("expected security.allow_any_policy finding for allow_any tool_policy")
	}
}

func TestActiveCheckKinds_EmptyConfigHasNoActiveKinds(t *testing.T) {
	active := activeCheckKinds(config.ChecksConfig{})
	if len(active) != 0 {
		t.Fatalf("expected no active kinds, got %v", active)
	}
}

func TestSortedSuppressedCodes_DedupsAndSorts(t *testing.T) {
	suppressed := []gatetypes.Finding{
		{Code: "b.code"}, {Code: "a.code"}, {Code: "b.code"},
	}
	codes := sortedSuppressedCodes(suppressed)
	if len(codes) != 2 || codes[0] != "a.code" || codes[1] != "b.code" {
		t.Fatalf("unexpected codes: %v", codes)
	}
}
