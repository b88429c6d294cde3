package ratchet

import (
	"strings"
	"testing"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
	"github.com/compas-dev/compas/pkg/insights"
)

func TestCheckCustomRules_PassingRuleProducesNoFinding(t *testing.T) {
	rules := []config.CustomRule{
		{ID: "min_trust", Expression: "snapshot.trust_score >= 50"},
	}
	snap := gatetypes.QualitySnapshot{TrustScore: 80}
	findings := CheckCustomRules(rules, snap, insights.RiskSummary{})
	if len(findings) != 0 {
		t.Fatalf("expected no findings, got %v", findings)
	}
}

func TestCheckCustomRules_FailingRuleProducesBlockingFinding(t *testing.T) {
	rules := []config.CustomRule{
		{ID: "min_trust", Expression: "snapshot.trust_score >= 90"},
	}
	snap := gatetypes.QualitySnapshot{TrustScore: 80}
	findings := CheckCustomRules(rules, snap, insights.RiskSummary{})
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Code != "quality_delta.custom_rule_failed" {
		t.Errorf("unexpected code: %s", f.Code)
	}
	if f.EffectiveTier() != gatetypes.TierBlocking {
		t.Errorf("expected blocking tier, got %s", f.EffectiveTier())
	}
	if f.Path == nil || *f.Path != "min_trust" {
		t.Errorf("expected path to carry rule id, got %v", f.Path)
	}
}

func TestCheckCustomRules_InvalidExpressionIsReportedAsBlocking(t *testing.T) {
	rules := []config.CustomRule{
		{ID: "broken", Expression: "snapshot.trust_score >=="},
	}
	findings := CheckCustomRules(rules, gatetypes.QualitySnapshot{}, insights.RiskSummary{})
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	if !strings.Contains(findings[0].Message, "broken") {
		t.Errorf("expected message to reference rule id, got %q", findings[0].Message)
	}
}

func TestCheckCustomRules_NonBooleanResultIsBlocking(t *testing.T) {
	rules := []config.CustomRule{
		{ID: "not_bool", Expression: "snapshot.trust_score"},
	}
	findings := CheckCustomRules(rules, gatetypes.QualitySnapshot{TrustScore: 1}, insights.RiskSummary{})
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
}

func TestCheckCustomRules_UsesRiskSummaryField(t *testing.T) {
	rules := []config.CustomRule{
		{ID: "risk_budget", Expression: "risk.findings_total < 10"},
	}
	findings := CheckCustomRules(rules, gatetypes.QualitySnapshot{}, insights.RiskSummary{FindingsTotal: 20})
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
}

func TestCheckCustomRules_EmptyRulesIsNoOp(t *testing.T) {
	findings := CheckCustomRules(nil, gatetypes.QualitySnapshot{}, insights.RiskSummary{})
	if findings != nil {
		t.Fatalf("expected nil findings, got %v", findings)
	}
}
