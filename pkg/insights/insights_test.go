package insights

import (
	"testing"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

func testDecision(codes ...string) gatetypes.Decision {
	var reasons []gatetypes.DecisionReason
	for _, c := range codes {
		reasons = append(reasons, gatetypes.DecisionReason{Code: c, Tier: gatetypes.TierBlocking})
	}
	return gatetypes.Decision{Status: "blocked", Reasons: reasons, BlockingCount: len(reasons)}
}

func testFinding(code, category string, fix *string) AnnotatedFinding {
	return AnnotatedFinding{
		Code:    "finding." + code,
		Message: code,
		Details: FindingDetails{Severity: SeverityMedium, Category: category, Confidence: "high", EvidenceRefs: []string{}, FixRecipe: fix},
	}
}

func TestAgentDigest_WithoutSuppressedKeepsDefaults(t *testing.T) {
	decision := testDecision("loc.max_loc_exceeded")
	findings := []AnnotatedFinding{testFinding("loc.max_loc_exceeded", "god_module_cycles", nil)}

	digest := BuildAgentDigest(decision, nil, findings)

	if digest.SuppressedCount != 0 {
		t.Fatalf("expected suppressed_count=0, got %d", digest.SuppressedCount)
	}
	if len(digest.SuppressedTopCodes) != 0 {
		t.Fatalf("expected no suppressed top codes, got %v", digest.SuppressedTopCodes)
	}
	if len(digest.TopBlockers) != 1 || digest.TopBlockers[0] != "loc.max_loc_exceeded" {
		t.Fatalf("expected top_blockers=[loc.max_loc_exceeded], got %v", digest.TopBlockers)
	}
	if len(digest.MinimalFixSteps) != 1 {
		t.Fatalf("expected fallback fix step, got %v", digest.MinimalFixSteps)
	}
	if digest.Confidence != "high" {
		t.Fatalf("expected confidence=high, got %s", digest.Confidence)
	}
}

func TestAgentDigest_WithSuppressedReportsTopCodes(t *testing.T) {
	decision := testDecision("surface.max_items_exceeded")
	recipe := "Reduce the public API surface."
	findings := []AnnotatedFinding{testFinding("surface.max_items_exceeded", "public_surface_bloat", &recipe)}
	suppressed := []gatetypes.Finding{
		gatetypes.Observation("dead_code.unused_symbol", "unused", nil, nil),
		gatetypes.Observation("dead_code.unused_symbol", "unused", nil, nil),
		gatetypes.Observation("orphan_api.unused_export", "unused export", nil, nil),
	}

	digest := BuildAgentDigest(decision, suppressed, findings)

	if digest.SuppressedCount != 3 {
		t.Fatalf("expected suppressed_count=3, got %d", digest.SuppressedCount)
	}
	if len(digest.SuppressedTopCodes) == 0 || digest.SuppressedTopCodes[0] != "dead_code.unused_symbol" {
		t.Fatalf("expected dead_code.unused_symbol ranked first, got %v", digest.SuppressedTopCodes)
	}
	if len(digest.MinimalFixSteps) != 1 || digest.MinimalFixSteps[0] != recipe {
		t.Fatalf("expected fix recipe passthrough, got %v", digest.MinimalFixSteps)
	}
}

func TestCategory_BoundaryRuleSpecialCases(t *testing.T) {
	f := gatetypes.Blocking("boundary.rule_violation", "no unwrap", nil, map[string]interface{}{"rule_id": "no-runtime-unwrap-expect"})
	if got := Category(f); got != "resilience_defaults" {
		t.Fatalf("expected resilience_defaults, got %s", got)
	}

	f2 := gatetypes.Blocking("boundary.rule_violation", "no stdout", nil, map[string]interface{}{"rule_id": "no-runtime-stdout"})
	if got := Category(f2); got != "fail_open" {
		t.Fatalf("expected fail_open, got %s", got)
	}

	f3 := gatetypes.Blocking("boundary.rule_violation", "generic", nil, map[string]interface{}{"rule_id": "custom-rule"})
	if got := Category(f3); got != "policy_theater" {
		t.Fatalf("expected policy_theater fallthrough, got %s", got)
	}
}

func TestBuildTrustScore_ClampsAndGrades(t *testing.T) {
	var findings []AnnotatedFinding
	for i := 0; i < 10; i++ {
		f := testFinding("quality_delta.trust_score_regressed", "policy_theater", nil)
		f.Details.Severity = SeverityCritical
		findings = append(findings, f)
	}
	trust := BuildTrustScore(findings, true, 100.0)
	if trust.Score != 0 {
		t.Fatalf("expected score clamped to 0, got %d", trust.Score)
	}
	if trust.Grade != "F" {
		t.Fatalf("expected grade F, got %s", trust.Grade)
	}

	clean := BuildTrustScore(nil, true, 100.0)
	if clean.Score != 100 || clean.Grade != "A" {
		t.Fatalf("expected perfect score/grade, got %+v", clean)
	}
}

func TestBuildTrustScore_AppliesCoveragePenalty(t *testing.T) {
	trust := BuildTrustScore(nil, true, 30.0)
	if trust.CoveragePenalty != 6 {
		t.Fatalf("expected coverage penalty 6 (ceil(30/5)), got %d", trust.CoveragePenalty)
	}
	if trust.Score != 94 {
		t.Fatalf("expected score 100-6=94, got %d", trust.Score)
	}
}

func TestComputeWeightedRisk_SumsWeightedSeverities(t *testing.T) {
	risk := RiskSummary{BySeverity: map[string]int{"critical": 1, "high": 2, "medium": 3, "low": 4}}
	got := ComputeWeightedRisk(risk)
	want := 1*25 + 2*10 + 3*4 + 4*1
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}
