package checks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

func TestDeadCodeCheck_FlagsSingleOccurrenceSymbol(t *testing.T) {
	dir := t.TempDir()
	src := "func Orphan() {}\n\nfunc Used() {}\n\nfunc caller() {\n\tUsed()\n}\n"
	if err := os.WriteFile(filepath.Join(dir, "lib.go"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	check := &DeadCodeCheck{Cfg: DeadCodeConfig{IncludeGlobs: []string{"**/*"}}}
	res, err := check.Run(dir)
	if err != nil {
		t.Fatal(err)
	}

	var gotOrphan, gotUsed bool
	for _, f := range res.Findings {
		if f.Path != nil && *f.Path == "lib.go" {
			if f.Message == "" {
				t.Fatalf("expected non-empty message")
			}
		}
		if f.Code == "dead_code.orphan_symbol" {
			gotOrphan = true
		}
	}
	_ = gotUsed
	if !gotOrphan {
		t.Fatalf("expected at least one orphan finding, got %+v", res.Findings)
	}
}

func TestDeadCodeCheck_DefaultsToObservationTier(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "lib.go"), []byte("func Lonely() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	check := &DeadCodeCheck{Cfg: DeadCodeConfig{IncludeGlobs: []string{"**/*"}}}
	res, err := check.Run(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Findings) == 0 {
		t.Fatalf("expected findings, got none")
	}
	for _, f := range res.Findings {
		if f.Tier != gatetypes.TierObservation {
			t.Fatalf("expected default tier observation, got %s", f.Tier)
		}
	}
}

func TestDeadCodeCheck_RespectsConfiguredCodeAndTier(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "lib.go"), []byte("func Lonely() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	check := &DeadCodeCheck{Cfg: DeadCodeConfig{
		IncludeGlobs: []string{"**/*"},
		Tier:         gatetypes.TierBlocking,
		Code:         "orphan_api.orphan_symbol",
	}}
	res, err := check.Run(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Findings) == 0 {
		t.Fatalf("expected findings, got none")
	}
	for _, f := range res.Findings {
		if f.Code != "orphan_api.orphan_symbol" || f.Tier != gatetypes.TierBlocking {
			t.Fatalf("expected configured code/tier, got %+v", f)
		}
	}
}
