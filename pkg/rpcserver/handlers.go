package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gate"
	"github.com/compas-dev/compas/pkg/gatetypes"
	"github.com/compas-dev/compas/pkg/judge"
	"github.com/compas-dev/compas/pkg/jobstore"
	"github.com/compas-dev/compas/pkg/runner"
	"github.com/compas-dev/compas/pkg/validator"
)

// NewDispatcher builds the tool-server's core dispatcher: compas.validate,
// compas.gate, and compas.exec per spec §6.3 ("Only the first two and
// compas.exec are part of this spec's core"), plus compas.catalog as a
// lightweight, in-scope tool listing. compas.init is intentionally absent
// — the on-disk layout section marks the pack/init system as an
// "external collaborator... out of scope".
func NewDispatcher() Dispatcher {
	return Dispatcher{
		"compas.validate": handleValidate,
		"compas.gate":      handleGate,
		"compas.exec":      handleExec,
		"compas.catalog":   handleCatalog,
	}
}

func errResponse(repoRoot, code, message string) Response {
	return Response{OK: false, RepoRoot: repoRoot, Error: &ErrorPayload{Code: code, Message: message}}
}

type validateParams struct {
	RepoRoot          string `json:"repo_root"`
	Mode              string `json:"mode"`
	WriteBaseline     bool   `json:"write_baseline"`
	MaintenanceReason string `json:"maintenance_reason"`
	MaintenanceOwner  string `json:"maintenance_owner"`
}

func handleValidate(ctx context.Context, raw json.RawMessage) (Response, error) {
	var p validateParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errResponse("", "rpc.invalid_params", err.Error()), nil
	}
	mode := judge.ModeRatchet
	if p.Mode != "" {
		mode = judge.ValidateMode(p.Mode)
	}

	out, err := validator.Run(validator.Options{
		RepoRoot:          p.RepoRoot,
		Mode:              mode,
		WriteBaseline:     p.WriteBaseline,
		MaintenanceReason: p.MaintenanceReason,
		MaintenanceOwner:  p.MaintenanceOwner,
	})
	if err != nil {
		return errResponse(p.RepoRoot, "validate.failed", err.Error()), nil
	}
	// Result is flattened into the envelope by Response.MarshalJSON, so
	// every field validator.Output carries (schema_version, violations,
	// findings_v2, verdict, agent_digest, ...) lands at the top level of
	// the JSON response alongside ok/repo_root, per spec §6.2.
	return Response{OK: out.OK, RepoRoot: p.RepoRoot, Result: out}, nil
}

type gateParams struct {
	RepoRoot       string   `json:"repo_root"`
	Kind           string   `json:"kind"`
	DryRun         bool     `json:"dry_run"`
	RequireWitness bool     `json:"require_witness"`
	CallBudgetMs   uint64   `json:"call_budget_ms"`
	ExtraArgs      []string `json:"extra_args"`
	Async          bool     `json:"async"`
}

// handleGate runs validate in ratchet mode as the gate precondition, then
// runs the gate sequence — synchronously, or as a background job (spec
// §4.10) when Async is set.
func handleGate(ctx context.Context, raw json.RawMessage) (Response, error) {
	var p gateParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errResponse("", "rpc.invalid_params", err.Error()), nil
	}

	cfg, err := config.Load(p.RepoRoot)
	if err != nil {
		return errResponse(p.RepoRoot, "config.load_failed", err.Error()), nil
	}

	vOut, err := validator.Run(validator.Options{RepoRoot: p.RepoRoot, Mode: judge.ModeRatchet})
	if err != nil {
		return errResponse(p.RepoRoot, "validate.failed", err.Error()), nil
	}

	opts := gate.Options{
		RepoRoot:       p.RepoRoot,
		Kind:           gate.Kind(p.Kind),
		ExtraArgs:      p.ExtraArgs,
		DryRun:         p.DryRun,
		RequireWitness: p.RequireWitness,
		CallBudgetMs:   p.CallBudgetMs,
		Git:            gate.DefaultGitRunner(p.RepoRoot),
	}

	if p.Async {
		rec, err := jobstore.Start(p.RepoRoot, p.Kind, func(jobCtx context.Context) (gate.Output, error) {
			return gate.Run(jobCtx, cfg, vOut.OK, opts)
		})
		if err != nil {
			return errResponse(p.RepoRoot, "gate.job_persist_failed", err.Error()), nil
		}
		return Response{OK: true, RepoRoot: p.RepoRoot, Result: map[string]interface{}{
			"job": rec, "job_state": rec.Status,
		}}, nil
	}

	out, err := gate.Run(ctx, cfg, vOut.OK, opts)
	if err != nil {
		return errResponse(p.RepoRoot, "gate.run_failed", err.Error()), nil
	}
	ok := out.Decision.Status == gatetypes.StatusPass
	return Response{OK: ok, RepoRoot: p.RepoRoot, Result: out}, nil
}

type execParams struct {
	RepoRoot          string   `json:"repo_root"`
	ToolID            string   `json:"tool_id"`
	ExtraArgs         []string `json:"extra_args"`
	TimeoutOverrideMs uint64   `json:"timeout_override_ms"`
	DryRun            bool     `json:"dry_run"`
}

// handleExec invokes a single configured tool directly, outside a gate
// sequence — the thin "run one tool and return its receipt" surface spec
// §6.3 names as core alongside validate/gate.
func handleExec(ctx context.Context, raw json.RawMessage) (Response, error) {
	var p execParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errResponse("", "rpc.invalid_params", err.Error()), nil
	}

	cfg, err := config.Load(p.RepoRoot)
	if err != nil {
		return errResponse(p.RepoRoot, "config.load_failed", err.Error()), nil
	}
	tool, ok := cfg.Tools[p.ToolID]
	if !ok {
		return errResponse(p.RepoRoot, "exec.unknown_tool", fmt.Sprintf("no tool named %q", p.ToolID)), nil
	}

	receipt := runner.Run(ctx, runner.Options{
		Tool:              tool,
		RepoRoot:          p.RepoRoot,
		ExtraArgs:         p.ExtraArgs,
		TimeoutOverrideMs: p.TimeoutOverrideMs,
		DryRun:            p.DryRun,
	})
	return Response{OK: receipt.Success, RepoRoot: p.RepoRoot, Result: receipt}, nil
}

type catalogParams struct {
	RepoRoot string `json:"repo_root"`
}

// handleCatalog lists the repo's configured tools and gate sequences —
// read-only config introspection, not named in spec's core three but
// trivially in-scope since it exposes no new subsystem.
func handleCatalog(ctx context.Context, raw json.RawMessage) (Response, error) {
	var p catalogParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errResponse("", "rpc.invalid_params", err.Error()), nil
	}

	cfg, err := config.Load(p.RepoRoot)
	if err != nil {
		return errResponse(p.RepoRoot, "config.load_failed", err.Error()), nil
	}

	toolIDs := make([]string, 0, len(cfg.Tools))
	for id := range cfg.Tools {
		toolIDs = append(toolIDs, id)
	}
	sort.Strings(toolIDs)

	return Response{OK: true, RepoRoot: p.RepoRoot, Result: map[string]interface{}{
		"tools": toolIDs,
		"gate_sequences": map[string][]string{
			"ci_fast":  cfg.Gate.CiFast,
			"ci":       cfg.Gate.Ci,
			"flagship": cfg.Gate.Flagship,
		},
	}}, nil
}
