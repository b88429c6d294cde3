package ratchet

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
	"github.com/compas-dev/compas/pkg/insights"
)

// customRuleEnv declares the CEL variables a [[custom_rules]] expression
// may reference: the current QualitySnapshot and the raw risk summary,
// both exposed as dynamic maps so a rule can write e.g.
// `snapshot.trust_score >= 80 && risk.findings_total < 50` without a
// generated schema. Grounded on the teacher's core/pkg/governance/
// policy_evaluator_cel.go: cel.Variable(..., cel.DynType) plus a
// compiled-program cache keyed by expression text.
var customRuleEnv *cel.Env
var customRuleEnvOnce sync.Once
var customRuleEnvErr error

func getCustomRuleEnv() (*cel.Env, error) {
	customRuleEnvOnce.Do(func() {
		customRuleEnv, customRuleEnvErr = cel.NewEnv(
			cel.Variable("snapshot", cel.DynType),
			cel.Variable("risk", cel.DynType),
		)
	})
	return customRuleEnv, customRuleEnvErr
}

var (
	customRuleCacheMu sync.RWMutex
	customRuleCache   = map[string]cel.Program{}
)

func compileCustomRule(expression string) (cel.Program, error) {
	customRuleCacheMu.RLock()
	prg, ok := customRuleCache[expression]
	customRuleCacheMu.RUnlock()
	if ok {
		return prg, nil
	}

	env, err := getCustomRuleEnv()
	if err != nil {
		return nil, fmt.Errorf("custom_rules: build cel environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("custom_rules: compile %q: %w", expression, issues.Err())
	}
	prg, err = env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("custom_rules: build program for %q: %w", expression, err)
	}

	customRuleCacheMu.Lock()
	customRuleCache[expression] = prg
	customRuleCacheMu.Unlock()
	return prg, nil
}

func snapshotToCELInput(snap gatetypes.QualitySnapshot) map[string]any {
	return map[string]any{
		"version":          int64(snap.Version),
		"trust_score":      int64(snap.TrustScore),
		"coverage_covered": int64(snap.CoverageCovered),
		"coverage_total":   int64(snap.CoverageTotal),
		"weighted_risk":    int64(snap.WeightedRisk),
		"findings_total":   int64(snap.FindingsTotal),
		"config_hash":      snap.ConfigHash,
	}
}

func riskToCELInput(risk insights.RiskSummary) map[string]any {
	return map[string]any{
		"findings_total": int64(risk.FindingsTotal),
	}
}

// CheckCustomRules evaluates every configured [[custom_rules]] expression
// against the current snapshot and raw risk summary, returning one
// blocking quality_delta.custom_rule_failed finding per rule that errors,
// evaluates to a non-boolean, or evaluates to false. A rule that cannot
// be compiled is itself reported as a blocking finding rather than
// silently skipped or panicking the caller, since a malformed rule is a
// configuration defect the operator needs to see.
func CheckCustomRules(rules []config.CustomRule, snap gatetypes.QualitySnapshot, risk insights.RiskSummary) []gatetypes.Finding {
	if len(rules) == 0 {
		return nil
	}

	input := map[string]any{
		"snapshot": snapshotToCELInput(snap),
		"risk":     riskToCELInput(risk),
	}

	var findings []gatetypes.Finding
	for _, rule := range rules {
		prg, err := compileCustomRule(rule.Expression)
		if err != nil {
			findings = append(findings, gatetypes.Blocking(
				"quality_delta.custom_rule_failed",
				fmt.Sprintf("custom rule %s is invalid: %v", rule.ID, err),
				gatetypes.StrPtr(rule.ID), nil,
			))
			continue
		}

		out, _, err := prg.Eval(input)
		if err != nil {
			findings = append(findings, gatetypes.Blocking(
				"quality_delta.custom_rule_failed",
				fmt.Sprintf("custom rule %s failed to evaluate: %v", rule.ID, err),
				gatetypes.StrPtr(rule.ID), nil,
			))
			continue
		}

		ok, isBool := out.Value().(bool)
		if !isBool {
			findings = append(findings, gatetypes.Blocking(
				"quality_delta.custom_rule_failed",
				fmt.Sprintf("custom rule %s did not evaluate to a boolean", rule.ID),
				gatetypes.StrPtr(rule.ID), nil,
			))
			continue
		}
		if !ok {
			findings = append(findings, gatetypes.Blocking(
				"quality_delta.custom_rule_failed",
				fmt.Sprintf("custom rule %s evaluated to false", rule.ID),
				gatetypes.StrPtr(rule.ID), map[string]interface{}{"expression": rule.Expression},
			))
		}
	}
	return findings
}
