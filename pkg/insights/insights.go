// Package insights derives human- and agent-facing quality signal from a
// set of findings: severity, category, risk totals, failure-mode
// coverage, the trust score, and the compact agent digest. Grounded on
// the original engine's validate_insights.rs, re-expressed in Go with
// the same rule tables and formulas.
package insights

import (
	"math"
	"sort"
	"strings"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
)

// Severity is the coarse human-facing urgency band for a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// FindingDetails is the insights-layer annotation attached to every
// finding before it's rendered to a caller.
type FindingDetails struct {
	Severity     Severity    `json:"severity"`
	Category     string      `json:"category"`
	Confidence   string      `json:"confidence"`
	EvidenceRefs []string    `json:"evidence_refs"`
	FixRecipe    *string     `json:"fix_recipe,omitempty"`
	Legacy       interface{} `json:"legacy_details,omitempty"`
}

// AnnotatedFinding is a Finding enriched with insights.
type AnnotatedFinding struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Path    *string        `json:"path,omitempty"`
	Details FindingDetails `json:"details"`
}

func boundaryRuleID(f gatetypes.Finding) string {
	m, ok := f.Details.(map[string]interface{})
	if !ok {
		return ""
	}
	v, ok := m["rule_id"]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func boundaryRuleCategory(ruleID string) (string, bool) {
	switch ruleID {
	case "no-runtime-unwrap-expect", "no-runtime-panic":
		return "resilience_defaults", true
	case "no-runtime-stdout":
		return "fail_open", true
	default:
		return "", false
	}
}

// Category maps a finding to one of the small named failure-mode
// buckets the coverage catalog is built around.
func Category(f gatetypes.Finding) string {
	code := f.Code
	if code == "boundary.rule_violation" {
		if cat, ok := boundaryRuleCategory(boundaryRuleID(f)); ok {
			return cat
		}
	}

	switch {
	case strings.HasPrefix(code, "boundary.") || strings.HasPrefix(code, "exception."):
		return "policy_theater"
	case strings.HasPrefix(code, "loc."):
		return "god_module_cycles"
	case strings.HasPrefix(code, "surface."):
		return "public_surface_bloat"
	case strings.HasPrefix(code, "env_registry."):
		return "env_sprawl"
	case strings.HasPrefix(code, "duplicates.") || strings.HasPrefix(code, "reuse_first."):
		return "unplugged_iron"
	case strings.HasPrefix(code, "arch_layers."):
		return "policy_theater"
	case strings.HasPrefix(code, "dead_code."):
		return "unplugged_iron"
	case strings.HasPrefix(code, "orphan_api."):
		return "public_surface_bloat"
	case strings.HasPrefix(code, "complexity_budget."):
		return "god_module_cycles"
	case strings.HasPrefix(code, "contract_break.") || strings.HasPrefix(code, "change_impact."):
		return "policy_theater"
	case strings.HasPrefix(code, "supply_chain."):
		return "dependency_hygiene"
	case strings.HasPrefix(code, "tool_budget.") || strings.HasPrefix(code, "quality_delta.") ||
		strings.HasPrefix(code, "gate.") || strings.HasPrefix(code, "witness."):
		return "policy_theater"
	case strings.HasPrefix(code, "tools.duplicate_"):
		return "unplugged_iron"
	default:
		return "general"
	}
}

// severityOf maps a finding's code to its severity band.
func severityOf(code string) Severity {
	switch {
	case strings.Contains(code, "read_failed") || strings.Contains(code, "check_failed"):
		return SeverityHigh
	case strings.HasPrefix(code, "quality_delta.") ||
		strings.HasPrefix(code, "security.allow_any_policy") ||
		strings.HasPrefix(code, "config.threshold_weakened") ||
		strings.HasPrefix(code, "config.mandatory_check_removed") ||
		strings.HasPrefix(code, "contract_break.removed_symbol"):
		return SeverityCritical
	case strings.HasPrefix(code, "boundary.") || strings.HasPrefix(code, "supply_chain.") ||
		strings.HasPrefix(code, "env_registry.") || strings.HasPrefix(code, "exception.allowlist_invalid") ||
		strings.HasPrefix(code, "arch_layers.") || strings.HasPrefix(code, "change_impact.") ||
		strings.HasPrefix(code, "reuse_first."):
		return SeverityHigh
	case strings.HasPrefix(code, "surface.") || strings.HasPrefix(code, "loc.") ||
		strings.HasPrefix(code, "tool_budget.") || strings.HasPrefix(code, "dead_code.") ||
		strings.HasPrefix(code, "orphan_api.") || strings.HasPrefix(code, "complexity_budget."):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func fixRecipe(f gatetypes.Finding) *string {
	code := f.Code
	set := func(s string) *string { return &s }

	if code == "boundary.rule_violation" {
		switch boundaryRuleID(f) {
		case "no-runtime-unwrap-expect":
			return set("Replace unwrap/expect with explicit error handling and stable error codes in the runtime path.")
		case "no-runtime-panic":
			return set("Remove panics from the runtime path and convert to explicit error propagation with diagnostics.")
		case "no-runtime-stdout":
			return set("Use structured logging instead of direct stdout/stderr writes in the runtime path.")
		}
	}

	switch {
	case strings.HasPrefix(code, "boundary."):
		return set("Tighten module boundaries: remove the forbidden pattern and keep the adapter-to-core dependency direction.")
	case strings.HasPrefix(code, "loc."):
		return set("Split the large file/module into focused slices; keep behavior unchanged while reducing line count.")
	case strings.HasPrefix(code, "surface."):
		return set("Reduce the public API surface or update the baseline intentionally with a documented compatibility note.")
	case strings.HasPrefix(code, "env_registry."):
		return set("Register the env var with description/default/sensitivity and wire it to the tools that reference it.")
	case strings.HasPrefix(code, "duplicates."):
		return set("Extract the shared logic into one helper/module and remove the duplicated implementations.")
	case strings.HasPrefix(code, "reuse_first."):
		return set("Reuse the existing equivalent implementation; remove the duplicate code path.")
	case strings.HasPrefix(code, "arch_layers."):
		return set("Restore the allowed dependency direction between layers and remove the forbidden cross-layer import.")
	case strings.HasPrefix(code, "dead_code."):
		return set("Remove the unused code or wire it into a real runtime path with tests.")
	case strings.HasPrefix(code, "orphan_api."):
		return set("Remove/privatize the unused public export or add real consumers and compatibility tests.")
	case strings.HasPrefix(code, "complexity_budget."):
		return set("Split the complex function into focused units until the length and complexity budgets are green.")
	case strings.HasPrefix(code, "contract_break."):
		return set("Align the API/schema change with the compatibility policy, or update the contract baseline through an approved change.")
	case strings.HasPrefix(code, "change_impact."):
		return set("Update the impact mapping so the changed paths require the correct gate tools, then rerun the gate.")
	case strings.HasPrefix(code, "supply_chain.lockfile_missing"):
		return set("Add and commit the ecosystem lockfile before merging.")
	case strings.HasPrefix(code, "supply_chain.prerelease_dependency"):
		return set("Replace the prerelease dependency with a stable release, or isolate it behind an explicit experimental lane.")
	case strings.HasPrefix(code, "supply_chain."):
		return set("Fix manifest/lockfile hygiene and rerun validate/gate.")
	case strings.HasPrefix(code, "tool_budget."):
		return set("Reduce tool/check/gate fan-out, or raise the budget intentionally with a documented rationale.")
	case strings.HasPrefix(code, "quality_delta."):
		return set("Restore the quality posture to baseline, or refresh the baseline through an approved maintenance window.")
	case strings.HasPrefix(code, "tools.duplicate_exact"):
		return set("Remove the exact duplicate tool definitions or consolidate to one canonical entry.")
	case strings.HasPrefix(code, "tools.duplicate_semantic"):
		return set("Review the semantically similar tools and merge them if they duplicate intent.")
	case strings.HasPrefix(code, "exception."):
		return set("Fix the allowlist entry or expiry and rerun validate/gate to keep suppressions explicit and bounded.")
	default:
		return nil
	}
}

// Annotate enriches every finding with severity, category, confidence,
// and a fix recipe, sorted in the spec's (code, path) order.
func Annotate(findings []gatetypes.Finding) []AnnotatedFinding {
	out := make([]AnnotatedFinding, 0, len(findings))
	for _, f := range findings {
		out = append(out, AnnotatedFinding{
			Code:    "finding." + f.Code,
			Message: f.Message,
			Path:    f.Path,
			Details: FindingDetails{
				Severity:     severityOf(f.Code),
				Category:     Category(f),
				Confidence:   "high",
				EvidenceRefs: []string{},
				FixRecipe:    fixRecipe(f),
				Legacy:       f.Details,
			},
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		pi, pj := out[i].Path, out[j].Path
		switch {
		case pi == nil && pj == nil:
			return false
		case pi == nil:
			return true
		case pj == nil:
			return false
		default:
			return *pi < *pj
		}
	})
	return out
}

// RiskSummary totals annotated findings by category and by severity.
type RiskSummary struct {
	FindingsTotal int            `json:"findings_total"`
	ByCategory    map[string]int `json:"by_category"`
	BySeverity    map[string]int `json:"by_severity"`
}

// BuildRiskSummary tallies an already-annotated finding set.
func BuildRiskSummary(findings []AnnotatedFinding) RiskSummary {
	byCategory := map[string]int{}
	bySeverity := map[string]int{}
	for _, f := range findings {
		byCategory[f.Details.Category]++
		bySeverity[string(f.Details.Severity)]++
	}
	return RiskSummary{FindingsTotal: len(findings), ByCategory: byCategory, BySeverity: bySeverity}
}

// ComputeWeightedRisk assigns each severity bucket a weight and sums.
func ComputeWeightedRisk(risk RiskSummary) int {
	total := 0
	for sev, count := range risk.BySeverity {
		total += count * severityWeight(sev)
	}
	return total
}

func severityWeight(sev string) int {
	switch sev {
	case "critical":
		return 25
	case "high":
		return 10
	case "medium":
		return 4
	case "low":
		return 1
	default:
		return 1
	}
}

// CoverageSummary reports how much of a failure-mode catalog the live
// configuration declares, and how much of that declaration is
// substantive rather than theatrical.
type CoverageSummary struct {
	CatalogTotal               int      `json:"catalog_total"`
	CatalogCovered             int      `json:"catalog_covered"`
	Percent                    float64  `json:"percent"`
	CoveredModes               []string `json:"covered_modes"`
	UncoveredModes             []string `json:"uncovered_modes"`
	EffectiveCoveredModes      []string `json:"effective_covered_modes"`
	DeclaredButIneffectiveModes []string `json:"declared_but_ineffective_modes"`
}

// BuildCoverage evaluates the failure-mode catalog against the loaded
// repository config, per the declared-vs-effective coverage rule.
func BuildCoverage(catalog []string, skillsDirExists bool, cfg *config.RepoConfig) CoverageSummary {
	if len(catalog) == 0 {
		return CoverageSummary{CoveredModes: []string{}, UncoveredModes: []string{}, EffectiveCoveredModes: []string{}, DeclaredButIneffectiveModes: []string{}}
	}

	covered := map[string]bool{}
	ineffective := map[string]bool{}

	hasBoundaryRule := func(id string) bool {
		for _, b := range cfg.Checks.Boundary {
			for _, r := range b.Rules {
				if r.ID == id {
					return true
				}
			}
		}
		return false
	}
	hasEffectiveBoundary := false
	for _, b := range cfg.Checks.Boundary {
		if len(b.Rules) > 0 {
			hasEffectiveBoundary = true
			break
		}
	}
	// Surface checks always carry an explicit max_items, so any configured
	// surface check is effective.
	hasEffectiveSurface := len(cfg.Checks.Surface) > 0
	hasEffectiveLoc := false
	for _, l := range cfg.Checks.Loc {
		if l.MaxLoc < 10000 {
			hasEffectiveLoc = true
			break
		}
	}

	if hasEffectiveBoundary {
		covered["policy_theater"] = true
	}
	if len(cfg.Checks.Boundary) > 0 && !hasEffectiveBoundary {
		ineffective["policy_theater"] = true
	}
	if len(cfg.Checks.ToolBudget) > 0 {
		covered["policy_theater"] = true
	}
	if hasBoundaryRule("no-runtime-stdout") {
		covered["fail_open"] = true
	}
	if len(cfg.Checks.Duplicates) > 0 {
		covered["unplugged_iron"] = true
	}
	if len(cfg.Checks.ReuseFirst) > 0 || len(cfg.Checks.DeadCode) > 0 {
		covered["unplugged_iron"] = true
	}
	if len(cfg.Checks.EnvRegistry) > 0 {
		covered["env_sprawl"] = true
	}
	if hasEffectiveSurface {
		covered["public_surface_bloat"] = true
	}
	if len(cfg.Checks.OrphanAPI) > 0 {
		covered["public_surface_bloat"] = true
	}
	if hasEffectiveLoc {
		covered["god_module_cycles"] = true
	}
	if len(cfg.Checks.ComplexityBudget) > 0 {
		covered["god_module_cycles"] = true
	}
	if hasBoundaryRule("no-runtime-unwrap-expect") || hasBoundaryRule("no-runtime-panic") || hasEffectiveLoc {
		covered["resilience_defaults"] = true
	}
	if len(cfg.Checks.ArchLayers) > 0 || len(cfg.Checks.ContractBreak) > 0 {
		covered["policy_theater"] = true
	}
	if skillsDirExists {
		covered["knowledge_continuity"] = true
	}
	if len(cfg.Checks.SupplyChain) > 0 {
		covered["security_baseline"] = true
		covered["dependency_hygiene"] = true
	}
	if len(cfg.Gate.Flagship) > 0 && len(cfg.Checks.SupplyChain) == 0 {
		ineffective["security_baseline"] = true
		ineffective["dependency_hygiene"] = true
	}

	var uncovered []string
	for _, c := range catalog {
		if !covered[c] {
			uncovered = append(uncovered, c)
		}
	}

	coveredList := sortedSetKeys(covered)
	ineffectiveList := sortedSetKeys(ineffective)

	percent := math.Round(float64(len(covered))/float64(len(catalog))*100.0*100.0) / 100.0

	return CoverageSummary{
		CatalogTotal:                len(catalog),
		CatalogCovered:              len(covered),
		Percent:                     percent,
		CoveredModes:                coveredList,
		UncoveredModes:              uncovered,
		EffectiveCoveredModes:       coveredList,
		DeclaredButIneffectiveModes: ineffectiveList,
	}
}

func sortedSetKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// TrustScore is the scalar quality signal, plus the weights and coverage
// penalty that produced it.
type TrustScore struct {
	Score           int    `json:"score"`
	Grade           string `json:"grade"`
	Weights         TrustWeights
	CoveragePenalty int `json:"coverage_penalty"`
}

type TrustWeights struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// BuildTrustScore implements the spec's formula: start at 100, subtract
// weighted severity counts, subtract 5 if not ok and not warn-mode,
// subtract a coverage penalty when coverage < 60%, clamp to [0,100].
func BuildTrustScore(findings []AnnotatedFinding, validateOK bool, coveragePercent float64) TrustScore {
	var critical, high, medium, low int
	for _, f := range findings {
		switch f.Details.Severity {
		case SeverityCritical:
			critical++
		case SeverityHigh:
			high++
		case SeverityMedium:
			medium++
		default:
			low++
		}
	}

	score := 100
	score -= critical*25 + high*10 + medium*4 + low
	if !validateOK {
		score -= 5
	}
	coveragePenalty := 0
	if coveragePercent < 60.0 {
		coveragePenalty = int(math.Ceil((60.0 - coveragePercent) / 5.0))
	}
	score -= coveragePenalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	var grade string
	switch {
	case score >= 90:
		grade = "A"
	case score >= 75:
		grade = "B"
	case score >= 60:
		grade = "C"
	case score >= 40:
		grade = "D"
	default:
		grade = "F"
	}

	return TrustScore{
		Score:           score,
		Grade:           grade,
		Weights:         TrustWeights{Critical: 25, High: 10, Medium: 4, Low: 1},
		CoveragePenalty: coveragePenalty,
	}
}

// BuildQualityPosture assembles the compact numeric posture stamped into
// a quality snapshot, computed assuming `validate_ok=true` since raw
// posture (pre-suppression) never carries an ok/not-ok distinction of
// its own.
func BuildQualityPosture(rawFindings []AnnotatedFinding, coverage CoverageSummary, risk RiskSummary) gatetypes.QualityPosture {
	trust := BuildTrustScore(rawFindings, true, coverage.Percent)
	return gatetypes.QualityPosture{
		TrustScore:      trust.Score,
		TrustGrade:      trust.Grade,
		CoverageCovered: coverage.CatalogCovered,
		CoverageTotal:   coverage.CatalogTotal,
		WeightedRisk:    ComputeWeightedRisk(risk),
		FindingsTotal:   risk.FindingsTotal,
		RiskBySeverity:  risk.BySeverity,
	}
}

// AgentDigest is the compact, agent-facing summary attached to a
// validate/gate response: the handful of things worth fixing first.
type AgentDigest struct {
	TopBlockers        []string `json:"top_blockers"`
	RootCauses         []string `json:"root_causes"`
	MinimalFixSteps    []string `json:"minimal_fix_steps"`
	Confidence         string   `json:"confidence"`
	SuppressedCount    int      `json:"suppressed_count"`
	SuppressedTopCodes []string `json:"suppressed_top_codes"`
}

func topCodes(findings []gatetypes.Finding, limit int) []string {
	counts := map[string]int{}
	var order []string
	for _, f := range findings {
		if counts[f.Code] == 0 {
			order = append(order, f.Code)
		}
		counts[f.Code]++
	}
	sort.Strings(order)
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > limit {
		order = order[:limit]
	}
	return order
}

// BuildAgentDigest assembles the agent digest from the judged decision,
// the annotated display findings, and whatever the exception engine
// suppressed.
func BuildAgentDigest(decision gatetypes.Decision, suppressed []gatetypes.Finding, findings []AnnotatedFinding) AgentDigest {
	var topBlockers []string
	seen := map[string]bool{}
	for _, r := range decision.Reasons {
		if r.Tier != gatetypes.TierBlocking {
			continue
		}
		if seen[r.Code] {
			continue
		}
		seen[r.Code] = true
		topBlockers = append(topBlockers, r.Code)
		if len(topBlockers) == 5 {
			break
		}
	}
	sort.Strings(topBlockers)

	byCategory := map[string]int{}
	for _, f := range findings {
		byCategory[f.Details.Category]++
	}
	type kv struct {
		k string
		v int
	}
	var ranked []kv
	for k, v := range byCategory {
		ranked = append(ranked, kv{k, v})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].v != ranked[j].v {
			return ranked[i].v > ranked[j].v
		}
		return ranked[i].k < ranked[j].k
	})
	var rootCauses []string
	for i, r := range ranked {
		if i == 3 {
			break
		}
		rootCauses = append(rootCauses, r.k)
	}

	var fixSteps []string
	for _, f := range findings {
		if f.Details.FixRecipe != nil {
			fixSteps = append(fixSteps, *f.Details.FixRecipe)
			if len(fixSteps) == 3 {
				break
			}
		}
	}
	if len(fixSteps) == 0 && len(findings) > 0 {
		fixSteps = append(fixSteps, "Fix the first blocking violation and rerun validate/gate.")
	}

	confidence := "high"
	for _, r := range decision.Reasons {
		if r.Code == "unknown" || strings.HasPrefix(r.Code, "unknown") {
			confidence = "medium"
			break
		}
	}

	var suppressedPlain []gatetypes.Finding
	suppressedPlain = append(suppressedPlain, suppressed...)

	return AgentDigest{
		TopBlockers:        emptyIfNil(topBlockers),
		RootCauses:         emptyIfNil(rootCauses),
		MinimalFixSteps:    emptyIfNil(fixSteps),
		Confidence:         confidence,
		SuppressedCount:    len(suppressed),
		SuppressedTopCodes: emptyIfNil(topCodes(suppressedPlain, 3)),
	}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
