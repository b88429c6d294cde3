package exceptions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

func finding(code, path string) gatetypes.Finding {
	return gatetypes.Blocking(code, "m", gatetypes.StrPtr(path), nil)
}

func writeAllowlist(t *testing.T, repoRoot, body string) {
	t.Helper()
	dir := filepath.Join(repoRoot, ".agents/mcp/compas")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repoRoot, filepath.FromSlash(AllowlistRelPath)), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNoAllowlist_PassesThroughUnchanged(t *testing.T) {
	repoRoot := t.TempDir()
	in := []gatetypes.Finding{finding("loc.max_exceeded", "a.go")}
	r := Apply(repoRoot, in)
	if len(r.Violations) != 1 || len(r.Suppressed) != 0 {
		t.Fatalf("expected unchanged passthrough, got %+v", r)
	}
}

func TestAllowlistSuppressesMatchingViolation(t *testing.T) {
	repoRoot := t.TempDir()
	writeAllowlist(t, repoRoot, `
[[exceptions]]
id = "ex-1"
rule = "loc.max_exceeded"
path = "crates/x/lib.rs"
owner = "team"
reason = "temporary"
expires_at = "2999-01-01"
`)
	r := Apply(repoRoot, []gatetypes.Finding{finding("loc.max_exceeded", "crates/x/lib.rs")})
	if len(r.Violations) != 0 {
		t.Errorf("expected no surviving violations, got %+v", r.Violations)
	}
	if len(r.Suppressed) != 1 || r.Suppressed[0].Code != "loc.max_exceeded" {
		t.Fatalf("expected one suppressed finding, got %+v", r.Suppressed)
	}
}

func TestAllowlistExpiredExceptionIsViolationAndDoesNotSuppress(t *testing.T) {
	repoRoot := t.TempDir()
	writeAllowlist(t, repoRoot, `
[[exceptions]]
id = "ex-1"
rule = "loc.max_exceeded"
path = "crates/x/lib.rs"
owner = "team"
reason = "temporary"
expires_at = "2000-01-01"
`)
	r := Apply(repoRoot, []gatetypes.Finding{finding("loc.max_exceeded", "crates/x/lib.rs")})
	if len(r.Suppressed) != 0 {
		t.Errorf("expected no suppression, got %+v", r.Suppressed)
	}
	if !hasCode(r.Violations, "exception.expired") {
		t.Error("expected exception.expired finding")
	}
	if !hasCode(r.Violations, "loc.max_exceeded") {
		t.Error("expected original finding to survive")
	}
}

func TestAllowlistInvalidFailsClosed(t *testing.T) {
	repoRoot := t.TempDir()
	writeAllowlist(t, repoRoot, `
[[exceptions]]
id = "ex-1"
rule = "loc.max_exceeded"
path = "crates/*/lib.rs"
owner = "team"
reason = "bad"
expires_at = "2999-01-01"
`)
	r := Apply(repoRoot, []gatetypes.Finding{finding("loc.max_exceeded", "crates/x/lib.rs")})
	if len(r.Suppressed) != 0 {
		t.Errorf("expected no suppression on fail-closed, got %+v", r.Suppressed)
	}
	if r.Violations[0].Code != "exception.allowlist_invalid" {
		t.Fatalf("expected first violation to be allowlist_invalid, got %+v", r.Violations[0])
	}
	if !hasCode(r.Violations, "loc.max_exceeded") {
		t.Error("expected original finding preserved in fail-closed output")
	}
}

func TestAllowlistWindowExceededIsViolationAndDoesNotSuppress(t *testing.T) {
	repoRoot := t.TempDir()
	writeAllowlist(t, repoRoot, `
[[exceptions]]
id = "ex-1"
rule = "loc.max_exceeded"
path = "crates/x/lib.rs"
owner = "team"
reason = "temporary"
expires_at = "2999-01-01"
`)
	maxDays := uint32(90)
	r := ApplyWithLimits(repoRoot, []gatetypes.Finding{finding("loc.max_exceeded", "crates/x/lib.rs")}, &maxDays)
	if len(r.Suppressed) != 0 {
		t.Errorf("expected no suppression, got %+v", r.Suppressed)
	}
	if !hasCode(r.Violations, "exception.window_exceeded") {
		t.Error("expected exception.window_exceeded finding")
	}
	if !hasCode(r.Violations, "loc.max_exceeded") {
		t.Error("expected original finding to survive")
	}
}

func TestFindingsWithoutPathAreNeverSuppressed(t *testing.T) {
	repoRoot := t.TempDir()
	writeAllowlist(t, repoRoot, `
[[exceptions]]
id = "ex-1"
rule = "supply_chain.lockfile_missing"
path = "."
owner = "team"
reason = "temporary"
`)
	f := gatetypes.Blocking("supply_chain.lockfile_missing", "m", nil, nil)
	r := Apply(repoRoot, []gatetypes.Finding{f})
	if len(r.Suppressed) != 0 {
		t.Errorf("pathless finding must never be suppressed, got %+v", r.Suppressed)
	}
}

func hasCode(fs []gatetypes.Finding, code string) bool {
	for _, f := range fs {
		if f.Code == code {
			return true
		}
	}
	return false
}
