package checks

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestFirstMatchLine_SingleLineMatch(t *testing.T) {
	re := regexp.MustCompile(`forbidden`)
	buf := "line one\nline two forbidden here\nline three\n"
	if got := firstMatchLine(buf, re); got != 2 {
		t.Fatalf("expected line 2, got %d", got)
	}
}

func TestFirstMatchLine_NoMatch(t *testing.T) {
	re := regexp.MustCompile(`nope`)
	if got := firstMatchLine("a\nb\nc\n", re); got != 0 {
		t.Fatalf("expected 0 for no match, got %d", got)
	}
}

// A pattern that only matches when read across a line boundary: a
// line-by-line scanner can never find this, since neither line alone
// contains the full match.
func TestFirstMatchLine_MatchesAcrossLineBoundary(t *testing.T) {
	re := regexp.MustCompile(`(?s)start.*end`)
	buf := "prefix start\nmiddle\nend suffix\n"
	got := firstMatchLine(buf, re)
	if got != 1 {
		t.Fatalf("expected the match starting on line 1 to be reported, got %d", got)
	}
}

func TestBoundaryCheck_Run_FlagsRuleViolation(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.rs"), []byte("fn main() {\n    unwrap_danger();\n}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := &BoundaryCheck{Cfg: BoundaryConfig{
		Rules:        []BoundaryRule{{ID: "no-unwrap-danger", Pattern: `unwrap_danger`}},
		IncludeGlobs: []string{"**/*"},
	}}
	res, err := c.Run(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d: %+v", len(res.Findings), res.Findings)
	}
	f := res.Findings[0]
	if f.Code != "boundary.rule_violation" {
		t.Fatalf("expected boundary.rule_violation, got %s", f.Code)
	}
	details, ok := f.Details.(map[string]interface{})
	if !ok {
		t.Fatalf("expected details map, got %T", f.Details)
	}
	if details["line"] != 2 {
		t.Fatalf("expected violation on line 2, got %v", details["line"])
	}
	if res.Metrics["rules_checked"] != 1 {
		t.Fatalf("expected rules_checked=1, got %v", res.Metrics["rules_checked"])
	}
}
