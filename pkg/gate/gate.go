// Package gate implements the gate orchestrator: resolving a named tool
// sequence, evaluating change-impact rules, running each tool through
// pkg/runner under a soft call budget, enforcing receipt invariants and
// contracts, judging the outcome, and optionally writing a witness.
// Grounded on the distilled spec's §4.9 and the original engine's
// gate.rs sequencing/abort design.
package gate

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/compas-dev/compas/pkg/archive"
	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
	"github.com/compas-dev/compas/pkg/judge"
	"github.com/compas-dev/compas/pkg/receipts"
	"github.com/compas-dev/compas/pkg/runner"
	"github.com/compas-dev/compas/pkg/telemetry"
	"github.com/compas-dev/compas/pkg/witness"
)

// Kind selects which named tool sequence to run.
type Kind string

const (
	KindCiFast   Kind = "ci_fast"
	KindCi       Kind = "ci"
	KindFlagship Kind = "flagship"
)

// Options configures a single gate invocation.
type Options struct {
	RepoRoot       string
	Kind           Kind
	ExtraArgs      []string
	DryRun         bool
	RequireWitness bool
	CallBudgetMs   uint64
	Git            GitRunner // nil means change-impact is skipped entirely
}

// Output is the full result of one gate invocation — what the async job
// store persists on success and what the witness store serializes.
type Output struct {
	Kind               string              `json:"kind"`
	Decision           gatetypes.Decision  `json:"decision"`
	Receipts           []gatetypes.Receipt `json:"receipts"`
	Findings           []gatetypes.Finding `json:"findings"`
	Witness            *witness.Meta       `json:"witness,omitempty"`
	ReceiptsMerkleRoot string              `json:"receipts_merkle_root,omitempty"`
	StartedAt          string              `json:"started_at"`
	FinishedAt         string              `json:"finished_at"`
}

func sequenceForKind(gateCfg config.GateConfig, kind Kind) []string {
	switch kind {
	case KindCiFast:
		return gateCfg.CiFast
	case KindCi:
		return gateCfg.Ci
	case KindFlagship:
		return gateCfg.Flagship
	default:
		return nil
	}
}

// ValidateFailedOutput builds the immediate-abort output the orchestrator
// returns when the validate precondition fails.
func ValidateFailedOutput(kind Kind) Output {
	now := time.Now().UTC().Format(time.RFC3339)
	reason := gatetypes.DecisionReason{Code: "gate.validate_failed", Class: gatetypes.ClassContractBreak, Tier: gatetypes.TierBlocking}
	decision := judge.DecideGate([]gatetypes.DecisionReason{reason})
	return Output{
		Kind:      string(kind),
		Decision:  decision,
		Findings:  []gatetypes.Finding{gatetypes.Blocking("gate.validate_failed", "validate did not pass; gate precondition not met", nil, nil)},
		StartedAt: now, FinishedAt: now,
	}
}

// Run executes the full gate sequence. validatePassed must already
// reflect the ratchet-mode validate precondition (§4.9 step 0); callers
// that have not run validate at all should pass true only when they
// intend to bypass the precondition deliberately (e.g. a warn-mode
// caller), matching "ok" semantics upstream in the validator.
func Run(ctx context.Context, cfg *config.RepoConfig, validatePassed bool, opts Options) (out Output, runErr error) {
	ctx, endSpan := telemetry.Global().TrackOperation(ctx, "compas.gate", telemetry.GateOperation(string(opts.Kind))...)
	defer func() {
		var spanErr error
		switch {
		case runErr != nil:
			spanErr = runErr
		case out.Decision.Status != gatetypes.StatusPass && out.Decision.Status != "":
			spanErr = fmt.Errorf("gate decision: %s", out.Decision.Status)
		}
		endSpan(spanErr)
	}()

	startedAt := time.Now().UTC().Format(time.RFC3339)
	if !validatePassed {
		out := ValidateFailedOutput(opts.Kind)
		out.StartedAt = startedAt
		out.FinishedAt = startedAt
		return out, nil
	}

	sequence := sequenceForKind(cfg.Gate, opts.Kind)
	var findings []gatetypes.Finding

	if len(sequence) == 0 {
		findings = append(findings, gatetypes.Blocking("gate.empty_sequence", fmt.Sprintf("gate kind %s has no configured tools", opts.Kind), nil, nil))
	}
	seen := map[string]bool{}
	for _, id := range sequence {
		if seen[id] {
			findings = append(findings, gatetypes.Blocking("gate.duplicate_tool_in_sequence", fmt.Sprintf("tool %s appears more than once in gate kind %s", id, opts.Kind), nil, nil))
		}
		seen[id] = true
	}

	var impact config.ImpactConfig
	if cfg.QualityContract != nil {
		impact = cfg.QualityContract.Impact
	}
	if opts.Git != nil && len(impact.Rules) > 0 {
		base, err := ResolveDiffBase(opts.Git, impact.DiffBase)
		if err != nil {
			findings = append(findings, gatetypes.Blocking("change_impact.diff_base_unresolved", err.Error(), nil, nil))
		} else {
			changed, err := ChangedPaths(opts.Git, base)
			if err != nil {
				findings = append(findings, gatetypes.Blocking("change_impact.diff_failed", err.Error(), nil, nil))
			} else {
				required, impactFindings, err := EvaluateImpact(impact.Rules, impact.UnmappedPathPolicy, changed)
				if err != nil {
					findings = append(findings, gatetypes.Blocking("change_impact.rule_invalid", err.Error(), nil, nil))
				} else {
					findings = append(findings, impactFindings...)
					for _, missing := range MissingRequiredTools(required, sequence) {
						findings = append(findings, gatetypes.Blocking(
							"change_impact.required_tool_missing",
							fmt.Sprintf("changed paths require tool %s, absent from gate kind %s", missing, opts.Kind),
							nil, nil,
						))
					}
				}
			}
		}
	}

	if len(findings) > 0 {
		reasons := judge.ReasonsFromFindings(findings)
		decision := judge.DecideGate(reasons)
		now := time.Now().UTC().Format(time.RFC3339)
		return Output{Kind: string(opts.Kind), Decision: decision, Findings: findings, StartedAt: startedAt, FinishedAt: now}, nil
	}

	budget := NewCallBudget(opts.CallBudgetMs)
	var receiptsOut []gatetypes.Receipt
	aborted := false

	var defaults config.ReceiptDefaults
	if cfg.QualityContract != nil {
		defaults = cfg.QualityContract.ReceiptDefaults
	}

	for _, toolID := range sequence {
		if aborted {
			break
		}
		tool, ok := cfg.Tools[toolID]
		if !ok {
			findings = append(findings, gatetypes.Blocking("gate.unknown_tool", fmt.Sprintf("gate sequence references unknown tool %s", toolID), nil, nil))
			aborted = true
			break
		}

		if budget.Exhausted() {
			findings = append(findings, gatetypes.Blocking("gate.run_failed_transient", fmt.Sprintf("call budget exhausted before running tool %s", toolID), nil, nil))
			aborted = true
			break
		}

		r := runner.Run(ctx, runner.Options{
			Tool: tool, RepoRoot: opts.RepoRoot, ExtraArgs: opts.ExtraArgs,
			TimeoutOverrideMs: budget.RemainingMs(), DryRun: opts.DryRun,
		})
		receiptsOut = append(receiptsOut, r)

		if invFinding := checkReceiptInvariants(r); invFinding != nil {
			findings = append(findings, *invFinding)
			aborted = true
			break
		}

		ec := buildEffectiveContract(defaults, tool.ReceiptContract)
		if cf := enforceReceiptContract(r, ec); cf != nil {
			findings = append(findings, *cf)
		}

		if tool.StructuredReport != nil {
			reportFindings, evidence, err := receipts.Ingest(opts.RepoRoot, tool, r)
			if err != nil {
				findings = append(findings, gatetypes.Blocking("structured_report.ingest_failed", fmt.Sprintf("tool %s: %v", toolID, err), nil, nil))
				aborted = true
				break
			}
			findings = append(findings, reportFindings...)
			if evidence != nil {
				receiptsOut[len(receiptsOut)-1].StructuredReport = evidence
			}
		}

		if !r.Success {
			aborted = true
		}
	}

	if cfg.QualityContract != nil {
		if rb := CheckRiskBudget(cfg.QualityContract.RiskBudget, findings); !rb.Allowed {
			findings = append(findings, gatetypes.Blocking(
				"gate.risk_budget_exceeded", rb.Reason, nil,
				map[string]interface{}{"risk_score": rb.RiskScore, "blast_radius": rb.BlastRadius},
			))
		}
	}

	reasons := judge.GateReasons(findings, nil, receiptsOut)
	decision := judge.DecideGate(reasons)

	finishedAt := time.Now().UTC().Format(time.RFC3339)
	gatetypes.SortFindings(findings)

	out = Output{
		Kind: string(opts.Kind), Decision: decision, Receipts: receiptsOut, Findings: findings,
		StartedAt: startedAt, FinishedAt: finishedAt,
	}

	if len(receiptsOut) > 0 {
		if tree, err := receipts.BuildReceiptsMerkle(receiptsOut); err == nil {
			out.ReceiptsMerkleRoot = tree.RootHex()
		}
	}

	requireWitness := opts.RequireWitness
	if !requireWitness && cfg.QualityContract != nil {
		requireWitness = cfg.QualityContract.Proof.RequireWitness
	}
	if requireWitness {
		meta, err := witness.Write(opts.RepoRoot, string(opts.Kind), out, decision.Status == gatetypes.StatusPass)
		if err != nil {
			return out, fmt.Errorf("gate: witness write: %w", err)
		}
		out.Witness = &meta
		archiveWitness(ctx, cfg, opts.RepoRoot, meta)
	}

	return out, nil
}

// archiveWitness best-effort copies the just-written witness file and the
// shared hash-chain file to the configured remote bucket, if any. Failures
// are swallowed: archival never affects the gate decision, which has
// already been computed by the time this runs.
func archiveWitness(ctx context.Context, cfg *config.RepoConfig, repoRoot string, meta witness.Meta) {
	if cfg.QualityContract == nil || cfg.QualityContract.Proof.ArchiveURI == "" {
		return
	}
	archiver, err := archive.New(cfg.QualityContract.Proof.ArchiveURI)
	if err != nil || archiver == nil {
		return
	}
	witnessPath := filepath.Join(repoRoot, filepath.FromSlash(meta.Path))
	chainPath := filepath.Join(repoRoot, ".agents/mcp/compas/witness/chain.json")
	_ = archiver.ArchiveFiles(ctx, witnessPath, chainPath)
}
