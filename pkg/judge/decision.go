package judge

import "github.com/compas-dev/compas/pkg/gatetypes"

// ValidateMode mirrors the wire-level validate mode: ratchet is the
// strictest (baseline required, regressions fail closed), strict behaves
// like ratchet without baseline migration, warn always decides pass.
type ValidateMode string

const (
	ModeRatchet ValidateMode = "ratchet"
	ModeStrict  ValidateMode = "strict"
	ModeWarn    ValidateMode = "warn"
)

// countTiers tallies blocking/observation counts over a reason list.
func countTiers(reasons []gatetypes.DecisionReason) (blocking, observation int) {
	for _, r := range reasons {
		if r.Tier == gatetypes.TierObservation {
			observation++
		} else {
			blocking++
		}
	}
	return
}

// allBlockingTransient reports whether every blocking-tier reason has
// class transient_tool — the condition for a retryable (rather than
// blocked) decision.
func allBlockingTransient(reasons []gatetypes.DecisionReason) bool {
	any := false
	for _, r := range reasons {
		if r.Tier != gatetypes.TierObservation {
			any = true
			if r.Class != gatetypes.ClassTransientTool {
				return false
			}
		}
	}
	return any
}

// decide applies the shared pass/retryable/blocked rule from the data
// model: pass iff no blocking reason; retryable iff every blocking reason
// is transient_tool; otherwise blocked.
func decide(reasons []gatetypes.DecisionReason) gatetypes.Decision {
	blocking, observation := countTiers(reasons)
	status := gatetypes.StatusPass
	switch {
	case blocking == 0:
		status = gatetypes.StatusPass
	case allBlockingTransient(reasons):
		status = gatetypes.StatusRetryable
	default:
		status = gatetypes.StatusBlocked
	}
	return gatetypes.Decision{
		Status:           status,
		Reasons:          reasons,
		BlockingCount:    blocking,
		ObservationCount: observation,
	}
}

// DecideValidate aggregates reasons under a validate mode. Warn mode
// forces Pass regardless of blocking count, but reasons are still
// reported in full; ratchet and strict modes have no retryable outcome —
// any blocking reason blocks.
func DecideValidate(reasons []gatetypes.DecisionReason, mode ValidateMode) gatetypes.Decision {
	blocking, observation := countTiers(reasons)
	status := gatetypes.StatusPass
	if mode == ModeWarn {
		status = gatetypes.StatusPass
	} else if blocking > 0 {
		status = gatetypes.StatusBlocked
	}
	return gatetypes.Decision{
		Status:           status,
		Reasons:          reasons,
		BlockingCount:    blocking,
		ObservationCount: observation,
	}
}

// DecideGate aggregates reasons for a gate decision, allowing the
// retryable outcome when every blocking reason is transient.
func DecideGate(reasons []gatetypes.DecisionReason) gatetypes.Decision {
	return decide(reasons)
}

// ToolFailedReason synthesizes the decision reason for a failed receipt:
// class transient_tool if the tool timed out, otherwise contract_break.
func ToolFailedReason(toolID string, timedOut bool) gatetypes.DecisionReason {
	class := gatetypes.ClassContractBreak
	if timedOut {
		class = gatetypes.ClassTransientTool
	}
	return gatetypes.DecisionReason{
		Code:  "gate.tool_failed." + toolID,
		Class: class,
		Tier:  gatetypes.TierBlocking,
	}
}

// GateReasons assembles the full reason list for a gate decision in
// arrival order: validate-derived reasons first, then runner-emitted
// findings, then one synthetic reason per failed receipt — matching the
// ordering rule in the concurrency & resource model (validate reasons
// first, then receipt-derived, then per-receipt synthetic).
func GateReasons(validateFindings []gatetypes.Finding, runnerFindings []gatetypes.Finding, receipts []gatetypes.Receipt) []gatetypes.DecisionReason {
	out := make([]gatetypes.DecisionReason, 0, len(validateFindings)+len(runnerFindings)+len(receipts))
	out = append(out, ReasonsFromFindings(validateFindings)...)
	out = append(out, ReasonsFromFindings(runnerFindings)...)
	for _, r := range receipts {
		if !r.Success {
			out = append(out, ToolFailedReason(r.ToolID, r.TimedOut))
		}
	}
	return out
}

// BuildVerdict assembles a Verdict from a Decision plus the raw posture
// and suppression summary the orchestrator tracks separately.
func BuildVerdict(decision gatetypes.Decision, posture *gatetypes.QualityPosture, suppressedCodes []string) gatetypes.Verdict {
	return gatetypes.Verdict{
		Decision:        decision,
		QualityPosture:  posture,
		SuppressedCount: len(suppressedCodes),
		SuppressedCodes: suppressedCodes,
	}
}
