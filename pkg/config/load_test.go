package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writePlugin(t *testing.T, root, name, body string) {
	t.Helper()
	dir := filepath.Join(root, ".agents/mcp/compas/plugins", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plugin.toml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

const validDescription = "checks repository quality gates"

func TestLoad_MissingPluginsDirIsConfigError(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error")
	}
	ce, ok := err.(*ConfigError)
	if !ok || ce.Code != "config.plugins_dir_missing" {
		t.Fatalf("expected config.plugins_dir_missing, got %#v", err)
	}
}

func TestLoad_EmptyPluginsDirIsEmptyConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".agents/mcp/compas/plugins"), 0o755); err != nil {
		t.Fatal(err)
	}
	_, err := Load(dir)
	ce, ok := err.(*ConfigError)
	if !ok || ce.Code != "config.empty" {
		t.Fatalf("expected config.empty, got %#v", err)
	}
}

func TestLoad_ValidSinglePlugin(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "core", `
[plugin]
id = "core"
description = "`+validDescription+`"

[tool_policy]
mode = "allow_any"

[[tools]]
id = "lint"
description = "`+validDescription+`"
command = "golangci-lint"

[gate]
ci_fast = ["lint"]
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cfg.Tools["lint"]; !ok {
		t.Fatalf("expected tool 'lint' to be registered")
	}
	if cfg.ToolOwners["lint"] != "core" {
		t.Fatalf("expected tool owner 'core', got %s", cfg.ToolOwners["lint"])
	}
	if len(cfg.Gate.CiFast) != 1 || cfg.Gate.CiFast[0] != "lint" {
		t.Fatalf("expected gate.ci_fast=[lint], got %+v", cfg.Gate.CiFast)
	}
}

func TestLoad_DuplicatePluginIDFailsClosed(t *testing.T) {
	dir := t.TempDir()
	body := `
[plugin]
id = "core"
description = "` + validDescription + `"

[tool_policy]
mode = "allow_any"

[[tools]]
id = "lint"
description = "` + validDescription + `"
command = "golangci-lint"

[gate]
ci_fast = ["lint"]
`
	writePlugin(t, dir, "core-a", body)
	writePlugin(t, dir, "core-b", body)

	_, err := Load(dir)
	ce, ok := err.(*ConfigError)
	if !ok || ce.Code != "config.duplicate_plugin_id" {
		t.Fatalf("expected config.duplicate_plugin_id, got %#v", err)
	}
}

func TestLoad_UnknownGateToolFailsClosed(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "core", `
[plugin]
id = "core"
description = "`+validDescription+`"

[tool_policy]
mode = "allow_any"

[gate]
ci_fast = ["does_not_exist"]
`)
	_, err := Load(dir)
	ce, ok := err.(*ConfigError)
	if !ok || ce.Code != "config.unknown_gate_tool" {
		t.Fatalf("expected config.unknown_gate_tool, got %#v", err)
	}
}

func TestLoad_ShortDescriptionFailsClosed(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "core", `
[plugin]
id = "core"
description = "short"

[tool_policy]
mode = "allow_any"

[[tools]]
id = "lint"
description = "`+validDescription+`"
command = "golangci-lint"
`)
	_, err := Load(dir)
	ce, ok := err.(*ConfigError)
	if !ok || ce.Code != "config.invalid_description" {
		t.Fatalf("expected config.invalid_description, got %#v", err)
	}
}

func TestLoad_ToolCommandNotAllowlistedFailsClosed(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "core", `
[plugin]
id = "core"
description = "`+validDescription+`"

[[tools]]
id = "lint"
description = "`+validDescription+`"
command = "golangci-lint"
`)
	_, err := Load(dir)
	ce, ok := err.(*ConfigError)
	if !ok || ce.Code != "config.tool_command_policy_violation" {
		t.Fatalf("expected config.tool_command_policy_violation, got %#v", err)
	}
}

func TestLoad_QualityContractNilWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "core", `
[plugin]
id = "core"
description = "`+validDescription+`"

[tool_policy]
mode = "allow_any"

[[tools]]
id = "lint"
description = "`+validDescription+`"
command = "golangci-lint"
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QualityContract != nil {
		t.Fatalf("expected nil quality contract when file absent, got %+v", cfg.QualityContract)
	}
}

func TestLoad_QualityContractAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "core", `
[plugin]
id = "core"
description = "`+validDescription+`"

[tool_policy]
mode = "allow_any"

[[tools]]
id = "lint"
description = "`+validDescription+`"
command = "golangci-lint"
`)
	if err := os.WriteFile(filepath.Join(dir, ".agents/mcp/compas/quality_contract.toml"), []byte(`
[quality]
min_trust_score = 80
`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QualityContract == nil {
		t.Fatal("expected quality contract to be loaded")
	}
	if cfg.QualityContract.Quality.MinTrustScore != 80 {
		t.Fatalf("expected overridden min_trust_score=80, got %d", cfg.QualityContract.Quality.MinTrustScore)
	}
	if cfg.QualityContract.Baseline.SnapshotPath != ".agents/mcp/compas/baselines/quality_snapshot.json" {
		t.Fatalf("expected default snapshot path, got %s", cfg.QualityContract.Baseline.SnapshotPath)
	}
}
