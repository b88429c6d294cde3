// Package judge classifies findings into (error class, tier) pairs via a
// static, ordered pattern table, then aggregates the resulting
// DecisionReasons into a monotone pass/retryable/blocked Decision. The
// table and aggregation rules are grounded on the original engine's
// flat-registry design (spec §9: "Error taxonomy via a flat registry").
package judge

import (
	"strings"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

// matchKind distinguishes how a classifierRule's Pattern is matched
// against a finding code.
type matchKind int

const (
	matchSuffix matchKind = iota
	matchExact
	matchPrefix
)

type classifierRule struct {
	kind  matchKind
	pattern string
	class gatetypes.ErrorClass
}

// classifierTable is the static, order-significant registry. Classify
// checks all suffix rules first (in table order), then all exact rules,
// then all prefix rules — matching the precedence the spec names:
// "suffix match, exact match, prefix match".
var classifierTable = []classifierRule{
	// Suffix rules: generic shapes shared by many check kinds.
	{matchSuffix, ".read_failed", gatetypes.ClassRuntimeRisk},
	{matchSuffix, ".check_failed", gatetypes.ClassRuntimeRisk},

	// Exact rules: named, well-known codes.
	{matchExact, "exception.allowlist_invalid", gatetypes.ClassSchemaConfig},
	{matchExact, "exception.expired", gatetypes.ClassSchemaConfig},
	{matchExact, "exception.window_exceeded", gatetypes.ClassSchemaConfig},
	{matchExact, "governance.config_hash_mismatch", gatetypes.ClassSchemaConfig},
	{matchExact, "governance.mandatory_check_missing", gatetypes.ClassSchemaConfig},
	{matchExact, "governance.mandatory_mode_missing", gatetypes.ClassSchemaConfig},
	{matchExact, "governance.min_failure_modes", gatetypes.ClassSchemaConfig},
	{matchExact, "exception.budget_exceeded", gatetypes.ClassQualityRegression},
	{matchExact, "change_impact.required_tool_missing", gatetypes.ClassContractBreak},
	{matchExact, "change_impact.unmapped_path", gatetypes.ClassContractBreak},
	{matchExact, "gate.validate_failed", gatetypes.ClassContractBreak},
	{matchExact, "gate.receipt_invariant_failed", gatetypes.ClassContractBreak},
	{matchExact, "gate.receipt_contract_violated", gatetypes.ClassContractBreak},
	{matchExact, "gate.run_failed_transient", gatetypes.ClassTransientTool},
	{matchExact, "gate.run_failed", gatetypes.ClassRuntimeRisk},

	// Prefix rules: whole check-kind families.
	{matchPrefix, "security.", gatetypes.ClassSecurity},
	{matchPrefix, "boundary.", gatetypes.ClassSecurity},
	{matchPrefix, "supply_chain.", gatetypes.ClassSecurity},
	{matchPrefix, "arch_layers.", gatetypes.ClassContractBreak},
	{matchPrefix, "contract_break.", gatetypes.ClassContractBreak},
	{matchPrefix, "complexity_budget.", gatetypes.ClassQualityRegression},
	{matchPrefix, "reuse_first.", gatetypes.ClassQualityRegression},
	{matchPrefix, "dead_code.", gatetypes.ClassQualityRegression},
	{matchPrefix, "orphan_api.", gatetypes.ClassQualityRegression},
	{matchPrefix, "quality_delta.", gatetypes.ClassQualityRegression},
	{matchPrefix, "loc.", gatetypes.ClassQualityRegression},
	{matchPrefix, "surface.", gatetypes.ClassQualityRegression},
	{matchPrefix, "duplicates.", gatetypes.ClassQualityRegression},
	{matchPrefix, "env_registry.", gatetypes.ClassSchemaConfig},
	{matchPrefix, "tool_budget.", gatetypes.ClassSchemaConfig},
	{matchPrefix, "config.", gatetypes.ClassSchemaConfig},
	{matchPrefix, "structured_report.", gatetypes.ClassContractBreak},
	{matchPrefix, "gate.tool_failed.", gatetypes.ClassContractBreak},
}

// ClassifyCode returns the ErrorClass for a finding code, applying
// suffix-then-exact-then-prefix precedence over the static table.
// Unknown codes classify to ClassUnknown (fail-closed).
func ClassifyCode(code string) gatetypes.ErrorClass {
	for _, r := range classifierTable {
		if r.kind != matchSuffix {
			continue
		}
		if strings.HasSuffix(code, r.pattern) {
			return r.class
		}
	}
	for _, r := range classifierTable {
		if r.kind != matchExact {
			continue
		}
		if code == r.pattern {
			return r.class
		}
	}
	for _, r := range classifierTable {
		if r.kind != matchPrefix {
			continue
		}
		if strings.HasPrefix(code, r.pattern) {
			return r.class
		}
	}
	return gatetypes.ClassUnknown
}

// ReasonFromFinding derives a DecisionReason from a Finding. Tier is
// Observation only if the finding's own tier is Observation; otherwise it
// takes the classifier's default tier for the code family, which for
// every entry in this registry is Blocking — there are no
// observation-default code families in the static table, matching the
// original registry's construction.
func ReasonFromFinding(f gatetypes.Finding) gatetypes.DecisionReason {
	tier := gatetypes.TierBlocking
	if f.EffectiveTier() == gatetypes.TierObservation {
		tier = gatetypes.TierObservation
	}
	return gatetypes.DecisionReason{
		Code:  f.Code,
		Class: ClassifyCode(f.Code),
		Tier:  tier,
	}
}

// ReasonsFromFindings maps a slice of findings to decision reasons,
// preserving order.
func ReasonsFromFindings(fs []gatetypes.Finding) []gatetypes.DecisionReason {
	out := make([]gatetypes.DecisionReason, 0, len(fs))
	for _, f := range fs {
		out = append(out, ReasonFromFinding(f))
	}
	return out
}
