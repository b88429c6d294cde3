package gate

import (
	"testing"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
)

func TestCheckRiskBudget_DisabledAlwaysAllows(t *testing.T) {
	findings := []gatetypes.Finding{{Code: "x", Tier: gatetypes.TierBlocking}}
	d := CheckRiskBudget(config.RiskBudgetConfig{}, findings)
	if !d.Allowed {
		t.Fatalf("expected disabled risk budget to always allow, got %+v", d)
	}
}

func TestCheckRiskBudget_RiskScoreCapExceeded(t *testing.T) {
	cfg := config.RiskBudgetConfig{Enabled: true, RiskScoreCap: 4}
	findings := []gatetypes.Finding{
		{Code: "a", Tier: gatetypes.TierBlocking},
	}
	d := CheckRiskBudget(cfg, findings)
	if d.Allowed {
		t.Fatalf("expected a single blocking finding (weight 5) to exceed a cap of 4, got %+v", d)
	}
}

func TestCheckRiskBudget_WithinRiskScoreCap(t *testing.T) {
	cfg := config.RiskBudgetConfig{Enabled: true, RiskScoreCap: 10}
	findings := []gatetypes.Finding{
		{Code: "a", Tier: gatetypes.TierObservation},
	}
	d := CheckRiskBudget(cfg, findings)
	if !d.Allowed {
		t.Fatalf("expected single observation (weight 1) within cap 10, got %+v", d)
	}
}

func TestCheckRiskBudget_BlastRadiusCapExceeded(t *testing.T) {
	cfg := config.RiskBudgetConfig{Enabled: true, BlastRadiusCap: 1}
	findings := []gatetypes.Finding{
		{Code: "a", Tier: gatetypes.TierObservation},
		{Code: "b", Tier: gatetypes.TierObservation},
	}
	d := CheckRiskBudget(cfg, findings)
	if d.Allowed {
		t.Fatalf("expected 2 findings to exceed blast radius cap 1, got %+v", d)
	}
}

func TestCheckRiskBudget_NoFindingsAlwaysWithinBudget(t *testing.T) {
	cfg := config.RiskBudgetConfig{Enabled: true, RiskScoreCap: 1, BlastRadiusCap: 1}
	d := CheckRiskBudget(cfg, nil)
	if !d.Allowed {
		t.Fatalf("expected no findings to stay within any positive cap, got %+v", d)
	}
}
