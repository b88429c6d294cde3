package rpcserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeHandlersFixture(t *testing.T, root string) {
	t.Helper()
	dir := filepath.Join(root, ".agents/mcp/compas/plugins", "core")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := `
[plugin]
id = "core"
description = "exercises the rpcserver dispatcher against a fixture repo"

[tool_policy]
mode = "allow_any"

[[tools]]
id = "lint"
description = "exercises the rpcserver dispatcher against a fixture repo"
command = "true"

[gate]
ci_fast = ["lint"]
`
	if err := os.WriteFile(filepath.Join(dir, "plugin.toml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewDispatcher_RegistersCoreMethods(t *testing.T) {
	d := NewDispatcher()
	for _, method := range []string{"compas.validate", "compas.gate", "compas.exec", "compas.catalog"} {
		if _, ok := d[method]; !ok {
			t.Errorf("expected %s to be registered", method)
		}
	}
	if _, ok := d["compas.init"]; ok {
		t.Error("compas.init is out of scope and should not be registered")
	}
}

func TestHandleValidate_RunsAgainstFixtureRepo(t *testing.T) {
	dir := t.TempDir()
	writeHandlersFixture(t, dir)

	params, _ := json.Marshal(validateParams{RepoRoot: dir, Mode: "warn"})
	resp, err := handleValidate(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true, got %+v", resp)
	}
	if resp.RepoRoot != dir {
		t.Errorf("expected repo_root echoed, got %s", resp.RepoRoot)
	}
}

func TestHandleValidate_InvalidParamsReturnsError(t *testing.T) {
	resp, err := handleValidate(context.Background(), json.RawMessage(`not json`))
	if err != nil {
		t.Fatalf("handleValidate should report errors via Response, not return err: %v", err)
	}
	if resp.OK {
		t.Fatal("expected ok=false for invalid params")
	}
	if resp.Error == nil || resp.Error.Code != "rpc.invalid_params" {
		t.Fatalf("expected rpc.invalid_params, got %+v", resp.Error)
	}
}

func TestHandleCatalog_ListsConfiguredToolsAndGateSequences(t *testing.T) {
	dir := t.TempDir()
	writeHandlersFixture(t, dir)

	params, _ := json.Marshal(catalogParams{RepoRoot: dir})
	resp, err := handleCatalog(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true, got %+v", resp)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map result, got %T", resp.Result)
	}
	tools, ok := result["tools"].([]string)
	if !ok || len(tools) != 1 || tools[0] != "lint" {
		t.Fatalf("expected tools=[lint], got %+v", result["tools"])
	}
}

func TestHandleCatalog_UnknownRepoReturnsConfigLoadFailed(t *testing.T) {
	dir := t.TempDir()
	params, _ := json.Marshal(catalogParams{RepoRoot: dir})
	resp, err := handleCatalog(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.OK {
		t.Fatal("expected ok=false when no plugins dir exists")
	}
	if resp.Error == nil || resp.Error.Code != "config.load_failed" {
		t.Fatalf("expected config.load_failed, got %+v", resp.Error)
	}
}

func TestHandleExec_UnknownToolReturnsError(t *testing.T) {
	dir := t.TempDir()
	writeHandlersFixture(t, dir)

	params, _ := json.Marshal(execParams{RepoRoot: dir, ToolID: "does-not-exist"})
	resp, err := handleExec(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.OK {
		t.Fatal("expected ok=false for unknown tool")
	}
	if resp.Error == nil || resp.Error.Code != "exec.unknown_tool" {
		t.Fatalf("expected exec.unknown_tool, got %+v", resp.Error)
	}
}

func TestHandleExec_RunsConfiguredTool(t *testing.T) {
	dir := t.TempDir()
	writeHandlersFixture(t, dir)

	params, _ := json.Marshal(execParams{RepoRoot: dir, ToolID: "lint"})
	resp, err := handleExec(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true running the configured 'true' command, got %+v", resp)
	}
}

func TestHandleGate_AsyncReturnsJobRecord(t *testing.T) {
	dir := t.TempDir()
	writeHandlersFixture(t, dir)

	params, _ := json.Marshal(gateParams{RepoRoot: dir, Kind: "ci_fast", Async: true})
	resp, err := handleGate(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true for accepted async job, got %+v", resp)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map result, got %T", resp.Result)
	}
	if _, ok := result["job"]; !ok {
		t.Error("expected a job record in the async response")
	}
}
