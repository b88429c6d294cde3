package judge

import (
	"testing"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

func TestClassifyCode_SuffixPrecedesPrefix(t *testing.T) {
	// "loc.read_failed" matches both a suffix rule (".read_failed") and a
	// prefix rule ("loc."); suffix must win.
	got := ClassifyCode("loc.read_failed")
	if got != gatetypes.ClassRuntimeRisk {
		t.Errorf("ClassifyCode(loc.read_failed) = %v, want runtime_risk", got)
	}
}

func TestClassifyCode_Unknown(t *testing.T) {
	if got := ClassifyCode("totally.unrecognized.code"); got != gatetypes.ClassUnknown {
		t.Errorf("ClassifyCode(unknown) = %v, want unknown", got)
	}
}

func TestReasonFromFinding_ObservationPreserved(t *testing.T) {
	f := gatetypes.Observation("loc.max_exceeded", "too long", gatetypes.StrPtr("a.go"), nil)
	r := ReasonFromFinding(f)
	if r.Tier != gatetypes.TierObservation {
		t.Errorf("expected observation tier preserved, got %v", r.Tier)
	}
}

func TestReasonFromFinding_DefaultTierIsBlocking(t *testing.T) {
	f := gatetypes.Finding{Code: "boundary.rule_violation", Message: "m"}
	r := ReasonFromFinding(f)
	if r.Tier != gatetypes.TierBlocking {
		t.Errorf("expected default tier blocking, got %v", r.Tier)
	}
}

func TestDecideValidate_WarnAlwaysPasses(t *testing.T) {
	reasons := []gatetypes.DecisionReason{
		{Code: "x", Class: gatetypes.ClassSecurity, Tier: gatetypes.TierBlocking},
		{Code: "y", Class: gatetypes.ClassUnknown, Tier: gatetypes.TierBlocking},
	}
	d := DecideValidate(reasons, ModeWarn)
	if d.Status != gatetypes.StatusPass {
		t.Errorf("warn mode status = %v, want pass", d.Status)
	}
	if d.BlockingCount != 2 {
		t.Errorf("blocking count = %d, want 2 (still reported)", d.BlockingCount)
	}
}

func TestDecideValidate_RatchetBlocksOnAnyBlocking(t *testing.T) {
	reasons := []gatetypes.DecisionReason{
		{Code: "x", Class: gatetypes.ClassTransientTool, Tier: gatetypes.TierBlocking},
	}
	d := DecideValidate(reasons, ModeRatchet)
	if d.Status != gatetypes.StatusBlocked {
		t.Errorf("ratchet status = %v, want blocked (no retryable in validate mode)", d.Status)
	}
}

func TestDecideGate_RetryableWhenAllTransient(t *testing.T) {
	reasons := []gatetypes.DecisionReason{
		{Code: "gate.run_failed_transient", Class: gatetypes.ClassTransientTool, Tier: gatetypes.TierBlocking},
	}
	d := DecideGate(reasons)
	if d.Status != gatetypes.StatusRetryable {
		t.Errorf("status = %v, want retryable", d.Status)
	}
}

func TestDecideGate_BlockedWhenMixed(t *testing.T) {
	reasons := []gatetypes.DecisionReason{
		{Code: "a", Class: gatetypes.ClassTransientTool, Tier: gatetypes.TierBlocking},
		{Code: "b", Class: gatetypes.ClassContractBreak, Tier: gatetypes.TierBlocking},
	}
	d := DecideGate(reasons)
	if d.Status != gatetypes.StatusBlocked {
		t.Errorf("status = %v, want blocked", d.Status)
	}
}

// TestMonotoneJudge exercises the monotonicity property: adding any
// reason never decreases the status ordinal.
func TestMonotoneJudge(t *testing.T) {
	base := []gatetypes.DecisionReason{}
	additions := []gatetypes.DecisionReason{
		{Code: "a", Class: gatetypes.ClassTransientTool, Tier: gatetypes.TierObservation},
		{Code: "b", Class: gatetypes.ClassTransientTool, Tier: gatetypes.TierBlocking},
		{Code: "c", Class: gatetypes.ClassContractBreak, Tier: gatetypes.TierBlocking},
	}
	prevOrdinal := DecideGate(base).Status.Ordinal()
	for _, a := range additions {
		base = append(base, a)
		d := DecideGate(base)
		if d.Status.Ordinal() < prevOrdinal {
			t.Fatalf("status ordinal decreased after adding %+v", a)
		}
		prevOrdinal = d.Status.Ordinal()
	}
}

func TestToolFailedReason_TimeoutIsTransient(t *testing.T) {
	r := ToolFailedReason("lint", true)
	if r.Class != gatetypes.ClassTransientTool {
		t.Errorf("class = %v, want transient_tool", r.Class)
	}
	if r.Code != "gate.tool_failed.lint" {
		t.Errorf("code = %q", r.Code)
	}
}

func TestToolFailedReason_NonTimeoutIsContractBreak(t *testing.T) {
	r := ToolFailedReason("lint", false)
	if r.Class != gatetypes.ClassContractBreak {
		t.Errorf("class = %v, want contract_break", r.Class)
	}
}
