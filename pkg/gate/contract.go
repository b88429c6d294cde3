package gate

import (
	"fmt"
	"regexp"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
)

// effectiveContract merges a tool's own receipt contract over the
// quality contract's receipt defaults, tool-level fields taking
// precedence field-by-field.
type effectiveContract struct {
	MinDurationMs       uint64
	MinStdoutBytes      int
	ExpectStdoutPattern string
	ExpectExitCodes     []int
}

func buildEffectiveContract(defaults config.ReceiptDefaults, override *config.ToolReceiptContract) effectiveContract {
	ec := effectiveContract{MinDurationMs: defaults.MinDurationMs, MinStdoutBytes: defaults.MinStdoutBytes}
	if override == nil {
		return ec
	}
	if override.MinDurationMs > 0 {
		ec.MinDurationMs = override.MinDurationMs
	}
	if override.MinStdoutBytes > 0 {
		ec.MinStdoutBytes = override.MinStdoutBytes
	}
	ec.ExpectStdoutPattern = override.ExpectStdoutPattern
	ec.ExpectExitCodes = override.ExpectExitCodes
	return ec
}

// checkReceiptInvariants enforces the structural invariant every
// non-success receipt must satisfy: either an exit code or timed_out is
// set, and both stream hashes are non-empty.
func checkReceiptInvariants(r gatetypes.Receipt) *gatetypes.Finding {
	if !r.Success {
		if r.ExitCode == nil && !r.TimedOut {
			f := gatetypes.Blocking(
				"gate.receipt_invariant_failed",
				fmt.Sprintf("tool %s: non-success receipt carries neither exit_code nor timed_out", r.ToolID),
				nil, nil,
			)
			return &f
		}
	}
	if r.StdoutSha256 == "" || r.StderrSha256 == "" {
		f := gatetypes.Blocking(
			"gate.receipt_invariant_failed",
			fmt.Sprintf("tool %s: receipt carries an empty stream hash", r.ToolID),
			nil, nil,
		)
		return &f
	}
	return nil
}

// enforceReceiptContract checks a receipt against its effective
// contract, returning a blocking finding describing the first violation
// found, if any.
func enforceReceiptContract(r gatetypes.Receipt, ec effectiveContract) *gatetypes.Finding {
	if r.DurationMs < int64(ec.MinDurationMs) {
		f := gatetypes.Blocking(
			"gate.receipt_contract_violated",
			fmt.Sprintf("tool %s: duration_ms=%d below min_duration_ms=%d", r.ToolID, r.DurationMs, ec.MinDurationMs),
			nil, nil,
		)
		return &f
	}
	if r.StdoutBytes < int64(ec.MinStdoutBytes) {
		f := gatetypes.Blocking(
			"gate.receipt_contract_violated",
			fmt.Sprintf("tool %s: stdout_bytes=%d below min_stdout_bytes=%d", r.ToolID, r.StdoutBytes, ec.MinStdoutBytes),
			nil, nil,
		)
		return &f
	}
	if ec.ExpectStdoutPattern != "" {
		re, err := regexp.Compile(ec.ExpectStdoutPattern)
		if err != nil {
			f := gatetypes.Blocking(
				"gate.receipt_contract_violated",
				fmt.Sprintf("tool %s: invalid expect_stdout_pattern: %v", r.ToolID, err),
				nil, nil,
			)
			return &f
		}
		joined := r.StdoutTail + "\n" + r.StderrTail
		if !re.MatchString(r.StdoutTail) && !re.MatchString(r.StderrTail) && !re.MatchString(joined) {
			f := gatetypes.Blocking(
				"gate.receipt_contract_violated",
				fmt.Sprintf("tool %s: output does not match expect_stdout_pattern=%q", r.ToolID, ec.ExpectStdoutPattern),
				nil, nil,
			)
			return &f
		}
	}
	if len(ec.ExpectExitCodes) > 0 {
		ok := false
		if r.ExitCode != nil {
			for _, c := range ec.ExpectExitCodes {
				if c == *r.ExitCode {
					ok = true
					break
				}
			}
		}
		if !ok {
			f := gatetypes.Blocking(
				"gate.receipt_contract_violated",
				fmt.Sprintf("tool %s: exit_code not in expect_exit_codes=%v", r.ToolID, ec.ExpectExitCodes),
				nil, nil,
			)
			return &f
		}
	}
	return nil
}
