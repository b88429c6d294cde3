package checks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

func TestCountNonEmptyLines_TrimsWSAndCRLF(t *testing.T) {
	cases := map[string]int{
		"":                 0,
		"\n\n":              0,
		"  \n\t\r\nx\r\ny\n": 2,
	}
	for in, want := range cases {
		if got := countNonEmptyLines([]byte(in)); got != want {
			t.Errorf("countNonEmptyLines(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestLocCheck_MarksOverLimitAsObservation(t *testing.T) {
	repoRoot := t.TempDir()
	dir := filepath.Join(repoRoot, "crates", "x")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lib.rs"), []byte("fn a() {}\nfn b() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := &LocCheck{Cfg: LocConfig{MaxLoc: 1, IncludeGlobs: []string{"crates/**/*.rs"}}}
	r, err := c.Run(repoRoot)
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, f := range r.Findings {
		if f.Code == "loc.max_exceeded" {
			found = true
			if f.EffectiveTier() != gatetypes.TierObservation {
				t.Errorf("expected observation tier, got %v", f.Tier)
			}
		}
	}
	if !found {
		t.Error("expected loc.max_exceeded finding")
	}
}

func TestLocCheck_ReportsPerFileMap(t *testing.T) {
	repoRoot := t.TempDir()
	dir := filepath.Join(repoRoot, "crates", "x")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lib.rs"), []byte("fn a() {}\nfn b() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := &LocCheck{Cfg: LocConfig{MaxLoc: 100, IncludeGlobs: []string{"crates/**/*.rs"}}}
	r, err := c.Run(repoRoot)
	if err != nil {
		t.Fatal(err)
	}
	if r.FilesScanned != 1 {
		t.Errorf("FilesScanned = %d, want 1", r.FilesScanned)
	}
	if r.FilesUniverse != 1 {
		t.Errorf("FilesUniverse = %d, want 1", r.FilesUniverse)
	}
	locPerFile, ok := r.Metrics["loc_per_file"].(map[string]int)
	if !ok {
		t.Fatal("expected loc_per_file metric")
	}
	if _, ok := locPerFile["crates/x/lib.rs"]; !ok {
		t.Error("expected crates/x/lib.rs in loc_per_file")
	}
}
