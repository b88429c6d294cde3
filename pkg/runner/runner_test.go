package runner

import (
	"context"
	"testing"

	"github.com/compas-dev/compas/pkg/config"
)

func TestRun_DryRunReturnsSyntheticReceipt(t *testing.T) {
	tool := config.ProjectTool{ID: "lint", Command: "does-not-matter"}
	r := Run(context.Background(), Options{Tool: tool, RepoRoot: t.TempDir(), DryRun: true})
	if !r.Success || r.StdoutTail != "[dry_run]" {
		t.Fatalf("expected synthetic dry_run receipt, got %+v", r)
	}
}

func TestRun_CapturesStdoutAndSucceeds(t *testing.T) {
	tool := config.ProjectTool{ID: "echo", Command: "sh", Args: []string{"-c", "echo hello"}, TimeoutMs: 5000}
	r := Run(context.Background(), Options{Tool: tool, RepoRoot: t.TempDir()})
	if !r.Success {
		t.Fatalf("expected success, got %+v", r)
	}
	if r.StdoutTail != "hello\n" {
		t.Fatalf("expected stdout tail 'hello\\n', got %q", r.StdoutTail)
	}
	if r.StdoutSha256 == "" || r.StdoutBytes != int64(len("hello\n")) {
		t.Fatalf("expected populated stdout hash/bytes, got %+v", r)
	}
}

func TestRun_NonZeroExitIsNotSuccess(t *testing.T) {
	tool := config.ProjectTool{ID: "fail", Command: "sh", Args: []string{"-c", "exit 3"}, TimeoutMs: 5000}
	r := Run(context.Background(), Options{Tool: tool, RepoRoot: t.TempDir()})
	if r.Success {
		t.Fatal("expected failure for non-zero exit")
	}
	if r.ExitCode == nil || *r.ExitCode != 3 {
		t.Fatalf("expected exit_code=3, got %+v", r.ExitCode)
	}
}

func TestRun_TimeoutKillsChildAndMarksTimedOut(t *testing.T) {
	tool := config.ProjectTool{ID: "slow", Command: "sh", Args: []string{"-c", "sleep 5"}, TimeoutMs: 100}
	r := Run(context.Background(), Options{Tool: tool, RepoRoot: t.TempDir()})
	if !r.TimedOut {
		t.Fatal("expected timed_out=true")
	}
	if r.Success {
		t.Fatal("did not expect success for a timed-out tool")
	}
}

func TestRun_TimeoutOverrideTightensDeadline(t *testing.T) {
	tool := config.ProjectTool{ID: "slow", Command: "sh", Args: []string{"-c", "sleep 5"}, TimeoutMs: 10_000}
	r := Run(context.Background(), Options{Tool: tool, RepoRoot: t.TempDir(), TimeoutOverrideMs: 100})
	if !r.TimedOut {
		t.Fatal("expected override to shorten the effective timeout and trigger timed_out=true")
	}
}
