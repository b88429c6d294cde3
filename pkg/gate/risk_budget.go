package gate

import (
	"fmt"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
)

// riskWeight is the per-finding-tier cost multiplier used by the risk
// budget, same shape as the teacher's RiskWeights table, collapsed to
// the two tiers this gate actually has.
var riskWeight = map[gatetypes.ViolationTier]float64{
	gatetypes.TierBlocking:    5.0,
	gatetypes.TierObservation: 1.0,
}

// RiskBudgetDecision is the result of one CheckRiskBudget call.
type RiskBudgetDecision struct {
	Allowed     bool
	Reason      string
	RiskScore   float64
	BlastRadius int
}

// CheckRiskBudget fails closed when a gate run's accumulated findings
// exceed a configured risk score or blast-radius cap. Grounded on the
// teacher's RiskEnforcer.CheckRisk (risk-weighted cost against a cap,
// affected-resource count against a blast-radius cap), collapsed from
// per-tenant accounts to a single check over one gate run's findings —
// this tool enforces one repo's own policy, not many tenants sharing a
// budget pool. Disabled entirely unless the repo opts in via
// [risk_budget].enabled, since a cap of 0 on an unconfigured repo would
// otherwise fail-close every gate run.
func CheckRiskBudget(cfg config.RiskBudgetConfig, findings []gatetypes.Finding) RiskBudgetDecision {
	if !cfg.Enabled {
		return RiskBudgetDecision{Allowed: true, Reason: "risk budget disabled"}
	}

	var score float64
	blastRadius := len(findings)
	for _, f := range findings {
		score += riskWeight[f.EffectiveTier()]
	}

	if cfg.RiskScoreCap > 0 && score > cfg.RiskScoreCap {
		return RiskBudgetDecision{
			Allowed: false, RiskScore: score, BlastRadius: blastRadius,
			Reason: fmt.Sprintf("risk score %.1f exceeds cap %.1f", score, cfg.RiskScoreCap),
		}
	}
	if cfg.BlastRadiusCap > 0 && blastRadius > cfg.BlastRadiusCap {
		return RiskBudgetDecision{
			Allowed: false, RiskScore: score, BlastRadius: blastRadius,
			Reason: fmt.Sprintf("finding count %d exceeds blast radius cap %d", blastRadius, cfg.BlastRadiusCap),
		}
	}
	return RiskBudgetDecision{Allowed: true, RiskScore: score, BlastRadius: blastRadius, Reason: "within risk budget"}
}
