// Package validator implements the validate orchestrator: it wires the
// config loader, check engine, exception engine, insights, quality-delta
// ratchet, and judge into the single deterministic sequence described by
// the distilled spec's §4.7, turning a repository on disk into a Verdict
// plus the display findings and agent digest a caller acts on. Grounded
// on the original engine's validate.rs pipeline, re-sequenced over this
// port's package boundaries.
package validator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/compas-dev/compas/pkg/checks"
	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/exceptions"
	"github.com/compas-dev/compas/pkg/gatetypes"
	"github.com/compas-dev/compas/pkg/history"
	"github.com/compas-dev/compas/pkg/insights"
	"github.com/compas-dev/compas/pkg/judge"
	"github.com/compas-dev/compas/pkg/ratchet"
	"github.com/compas-dev/compas/pkg/telemetry"
)

// Options configures a single validate invocation.
type Options struct {
	RepoRoot          string
	Mode              judge.ValidateMode
	WriteBaseline     bool
	MaintenanceReason string
	MaintenanceOwner  string
}

// ErrorPayload is the minimal response validate returns when config
// loading itself fails — no checks ever ran, so there is nothing to
// judge.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SchemaVersion is the wire schema version every validate response
// carries, per spec §6.2.
const SchemaVersion = "3"

// Output is the full result of one validate invocation, matching spec
// §6.2's validate response envelope field-for-field: the shared
// top-level fields (`ok`, `error`, `repo_root`, `verdict`, `agent_digest`)
// plus validate's own additions (`schema_version`, `mode`, `violations`,
// `findings_v2`, `suppressed`, the four per-check summaries,
// `risk_summary`, `coverage`, `trust_score`, `quality_posture`).
type Output struct {
	OK             bool                        `json:"ok"`
	Error          *ErrorPayload               `json:"error,omitempty"`
	SchemaVersion  string                      `json:"schema_version"`
	RepoRoot       string                      `json:"repo_root"`
	Mode           string                      `json:"mode"`
	Violations     []gatetypes.Finding         `json:"violations"`
	FindingsV2     []insights.AnnotatedFinding `json:"findings_v2"`
	Suppressed     []gatetypes.Finding         `json:"suppressed"`
	Loc             *LocSummary             `json:"loc,omitempty"`
	Boundary        *BoundarySummary        `json:"boundary,omitempty"`
	PublicSurface   *PublicSurfaceSummary   `json:"public_surface,omitempty"`
	EffectiveConfig *EffectiveConfigSummary `json:"effective_config,omitempty"`
	RiskSummary    insights.RiskSummary        `json:"risk_summary"`
	Coverage       insights.CoverageSummary    `json:"coverage"`
	TrustScore     insights.TrustScore         `json:"trust_score"`
	Verdict        gatetypes.Verdict           `json:"verdict"`
	QualityPosture gatetypes.QualityPosture    `json:"quality_posture"`
	AgentDigest    insights.AgentDigest        `json:"agent_digest"`
	FileUniverse   map[string]gatetypes.FileUniverseEntry `json:"file_universe"`
	Snapshot       *gatetypes.QualitySnapshot  `json:"snapshot,omitempty"`
}

func errorOutput(repoRoot string, mode judge.ValidateMode, code, message string) Output {
	return Output{OK: false, SchemaVersion: SchemaVersion, RepoRoot: repoRoot, Mode: string(mode), Error: &ErrorPayload{Code: code, Message: message}}
}

// activeCheckKinds returns the set of check kinds with at least one
// configured instance, the "merged active set" governance mandatory
// checks are validated against.
func activeCheckKinds(c config.ChecksConfig) map[string]bool {
	out := map[string]bool{}
	mark := func(kind string, n int) {
		if n > 0 {
			out[kind] = true
		}
	}
	mark("loc", len(c.Loc))
	mark("env_registry", len(c.EnvRegistry))
	mark("boundary", len(c.Boundary))
	mark("surface", len(c.Surface))
	mark("duplicates", len(c.Duplicates))
	mark("supply_chain", len(c.SupplyChain))
	mark("tool_budget", len(c.ToolBudget))
	mark("reuse_first", len(c.ReuseFirst))
	mark("arch_layers", len(c.ArchLayers))
	mark("dead_code", len(c.DeadCode))
	mark("orphan_api", len(c.OrphanAPI))
	mark("complexity_budget", len(c.ComplexityBudget))
	mark("contract_break", len(c.ContractBreak))
	return out
}

func sortedSuppressedCodes(suppressed []gatetypes.Finding) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range suppressed {
		if !seen[f.Code] {
			seen[f.Code] = true
			out = append(out, f.Code)
		}
	}
	sort.Strings(out)
	return out
}

// Run executes the full 13-step validate sequence against repoRoot.
func Run(opts Options) (out Output, runErr error) {
	mode := opts.Mode
	if mode == "" {
		mode = judge.ModeRatchet
	}

	_, endSpan := telemetry.Global().TrackOperation(context.Background(), "compas.validate", telemetry.ValidateOperation(string(mode))...)
	defer func() {
		var spanErr error
		switch {
		case runErr != nil:
			spanErr = runErr
		case out.Error != nil:
			spanErr = fmt.Errorf("%s: %s", out.Error.Code, out.Error.Message)
		}
		endSpan(spanErr)
	}()

	// Step 2 (enforced before any check runs): write-baseline precondition.
	if opts.WriteBaseline && mode == judge.ModeRatchet {
		if err := ratchet.ValidateMaintenance(opts.MaintenanceReason, opts.MaintenanceOwner); err != nil {
			return errorOutput(opts.RepoRoot, mode, "ratchet.maintenance_required", err.Error()), nil
		}
	}

	// Step 1: load config.
	cfg, err := config.Load(opts.RepoRoot)
	if err != nil {
		if ce, ok := err.(*config.ConfigError); ok {
			return errorOutput(opts.RepoRoot, mode, ce.Code, ce.Message), nil
		}
		return errorOutput(opts.RepoRoot, mode, "config.load_failed", err.Error()), nil
	}

	contract := config.DefaultQualityContract()
	if cfg.QualityContract != nil {
		contract = *cfg.QualityContract
	}

	var findings []gatetypes.Finding

	// Step 3: allow-any advisories.
	allowAny := append([]string(nil), cfg.AllowAnyPlugins...)
	sort.Strings(allowAny)
	for _, pluginID := range allowAny {
		findings = append(findings, gatetypes.Blocking(
			"security.allow_any_policy",
			fmt.Sprintf("plugin %s runs tools under the allow_any command policy", pluginID),
			gatetypes.StrPtr(pluginID), nil,
		))
	}

	// Step 4: mandatory checks present in the merged active set.
	active := activeCheckKinds(cfg.Checks)
	mandatoryChecks := append([]string(nil), contract.Governance.MandatoryChecks...)
	sort.Strings(mandatoryChecks)
	for _, name := range mandatoryChecks {
		if !active[name] {
			findings = append(findings, gatetypes.Blocking(
				"governance.mandatory_check_missing",
				fmt.Sprintf("mandatory check kind %s has no configured instance", name),
				gatetypes.StrPtr(name), nil,
			))
		}
	}

	// Step 5: run the check engine.
	engine, err := BuildEngine(opts.RepoRoot, cfg)
	if err != nil {
		return errorOutput(opts.RepoRoot, mode, "checks.build_failed", err.Error()), nil
	}
	checkFindings, checkResults, err := engine.RunAll(opts.RepoRoot)
	if err != nil {
		return errorOutput(opts.RepoRoot, mode, "checks.run_failed", err.Error()), nil
	}
	findings = append(findings, checkFindings...)
	fileUniverse := checks.FileUniverse(checkResults)

	// Step 6: tool signature duplicates.
	findings = append(findings, DetectToolDuplicates(cfg.Tools)...)

	// Step 7: failure-mode catalog + governance invariants.
	catalog, err := LoadFailureModeCatalog(opts.RepoRoot)
	if err != nil {
		return errorOutput(opts.RepoRoot, mode, "governance.catalog_load_failed", err.Error()), nil
	}
	findings = append(findings, CheckGovernanceInvariants(contract.Governance, catalog)...)

	gatetypes.SortFindings(findings)

	// Step 8: raw findings -> raw risk/coverage/posture.
	rawAnnotated := insights.Annotate(findings)
	rawRisk := insights.BuildRiskSummary(rawAnnotated)
	coverage := insights.BuildCoverage(catalog, skillsDirExists(opts.RepoRoot), cfg)
	rawPosture := insights.BuildQualityPosture(rawAnnotated, coverage, rawRisk)

	// Step 9: exception engine.
	maxWindow := contract.Exceptions.MaxExceptionWindowDays
	excResult := exceptions.ApplyWithLimits(opts.RepoRoot, findings, &maxWindow)
	surviving := excResult.Violations
	suppressed := excResult.Suppressed

	// Step 10: phase-2 policy findings.
	var phase2 []gatetypes.Finding

	if contract.Exceptions.MaxExceptions > 0 && len(suppressed) > contract.Exceptions.MaxExceptions {
		phase2 = append(phase2, gatetypes.Blocking(
			"exception.budget_exceeded",
			fmt.Sprintf("suppressed finding count %d exceeds max_exceptions=%d", len(suppressed), contract.Exceptions.MaxExceptions),
			nil, map[string]interface{}{"suppressed": len(suppressed), "max_exceptions": contract.Exceptions.MaxExceptions},
		))
	}
	if total := len(surviving) + len(suppressed); total > 0 {
		ratio := float64(len(suppressed)) / float64(total)
		if ratio > contract.Exceptions.MaxSuppressedRatio {
			phase2 = append(phase2, gatetypes.Blocking(
				"exception.budget_exceeded",
				fmt.Sprintf("suppressed ratio %.4f exceeds max_suppressed_ratio=%.4f", ratio, contract.Exceptions.MaxSuppressedRatio),
				nil, map[string]interface{}{"ratio": ratio, "max_suppressed_ratio": contract.Exceptions.MaxSuppressedRatio},
			))
		}
	}

	configHash, err := ratchet.ConfigHash(cfg.Checks)
	if err != nil {
		return errorOutput(opts.RepoRoot, mode, "ratchet.config_hash_failed", err.Error()), nil
	}
	if contract.Governance.ConfigHash != "" && contract.Governance.ConfigHash != configHash {
		phase2 = append(phase2, gatetypes.Blocking(
			"governance.config_hash_mismatch",
			fmt.Sprintf("locked governance.config_hash=%s differs from the live config hash=%s", contract.Governance.ConfigHash, configHash),
			nil, map[string]interface{}{"locked": contract.Governance.ConfigHash, "live": configHash},
		))
	}

	snapshotPath := filepath.Join(opts.RepoRoot, filepath.FromSlash(contract.Baseline.SnapshotPath))
	baseline, err := ratchet.LoadSnapshot(snapshotPath)
	if err != nil {
		return errorOutput(opts.RepoRoot, mode, "ratchet.snapshot_load_failed", err.Error()), nil
	}
	if baseline == nil && mode == judge.ModeRatchet {
		migrated, found, err := ratchet.MigrateLegacy(opts.RepoRoot, rawPosture, configHash)
		if err != nil {
			return errorOutput(opts.RepoRoot, mode, "ratchet.legacy_migration_failed", err.Error()), nil
		}
		if found {
			if err := ratchet.WriteSnapshot(snapshotPath, *migrated); err != nil {
				return errorOutput(opts.RepoRoot, mode, "ratchet.snapshot_write_failed", err.Error()), nil
			}
			baseline = migrated
			phase2 = append(phase2, gatetypes.Observation(
				"quality_delta.baseline_migrated",
				"migrated legacy per-check baselines into the unified quality snapshot",
				nil, nil,
			))
		}
	}

	var writtenBy *gatetypes.WrittenBy
	if opts.WriteBaseline {
		writtenBy = &gatetypes.WrittenBy{Reason: opts.MaintenanceReason, Owner: opts.MaintenanceOwner}
	}
	currentSnapshot := ratchet.BuildSnapshot(checkResults, rawPosture, configHash, writtenBy)
	phase2 = append(phase2, ratchet.Evaluate(contract, baseline, currentSnapshot)...)
	phase2 = append(phase2, ratchet.CheckCustomRules(contract.CustomRules, currentSnapshot, rawRisk)...)

	if opts.WriteBaseline {
		if err := ratchet.WriteSnapshot(snapshotPath, currentSnapshot); err != nil {
			return errorOutput(opts.RepoRoot, mode, "ratchet.snapshot_write_failed", err.Error()), nil
		}
	}

	appendHistory(opts.RepoRoot, currentSnapshot)

	// Step 11: merge surviving + phase-2 -> display findings -> display posture.
	displayFindings := append(append([]gatetypes.Finding(nil), surviving...), phase2...)
	gatetypes.SortFindings(displayFindings)
	displayAnnotated := insights.Annotate(displayFindings)
	displayRisk := insights.BuildRiskSummary(displayAnnotated)
	displayPosture := insights.BuildQualityPosture(displayAnnotated, coverage, displayRisk)

	// Step 12: judge, stamping raw posture + suppression summary.
	reasons := judge.ReasonsFromFindings(displayFindings)
	decision := judge.DecideValidate(reasons, mode)
	verdict := judge.BuildVerdict(decision, &rawPosture, sortedSuppressedCodes(suppressed))

	// Step 13: agent digest.
	digest := insights.BuildAgentDigest(decision, suppressed, displayAnnotated)

	ok := mode == judge.ModeWarn || decision.Status == gatetypes.StatusPass
	trustScore := insights.BuildTrustScore(displayAnnotated, ok, coverage.Percent)
	summaries := buildCheckSummaries(opts.RepoRoot, cfg, checkResults)

	return Output{
		OK:              ok,
		SchemaVersion:   SchemaVersion,
		RepoRoot:        opts.RepoRoot,
		Mode:            string(mode),
		Violations:      displayFindings,
		FindingsV2:      displayAnnotated,
		Suppressed:      suppressed,
		Loc:             summaries.Loc,
		Boundary:        summaries.Boundary,
		PublicSurface:   summaries.PublicSurface,
		EffectiveConfig: summaries.EffectiveConfig,
		RiskSummary:     displayRisk,
		Coverage:        coverage,
		TrustScore:      trustScore,
		Verdict:         verdict,
		QualityPosture:  displayPosture,
		AgentDigest:     digest,
		FileUniverse:    fileUniverse,
		Snapshot:        &currentSnapshot,
	}, nil
}

// appendHistory records the snapshot into the optional posture-history
// store when AI_DX_HISTORY_DSN is configured. Best-effort only: history is
// a SPEC_FULL addition for trend analysis, never a dependency of the
// validate decision, so a missing or unreachable database must never
// surface as a validate error.
func appendHistory(repoRoot string, snap gatetypes.QualitySnapshot) {
	store, err := history.OpenFromEnv()
	if err != nil || store == nil {
		return
	}
	defer store.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = store.Append(ctx, repoRoot, time.Now().UTC().Format(time.RFC3339), snap)
}
