package checks

import (
	"os"
	"path/filepath"
	"testing"
)

func TestContractBreakCheck_FlagsRemovedSymbol(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "api.go"), []byte("func Keep() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	check := &ContractBreakCheck{Cfg: ContractBreakConfig{
		Snapshot:       []string{"api.go::Keep", "api.go::Removed"},
		AllowAdditions: true,
		IncludeGlobs:   []string{"**/*"},
	}}
	res, err := check.Run(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Findings) != 1 || res.Findings[0].Code != "contract_break.symbol_removed" {
		t.Fatalf("expected one symbol_removed finding, got %+v", res.Findings)
	}
}

func TestContractBreakCheck_FlagsAddedSymbolWhenAdditionsDisallowed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "api.go"), []byte("func Keep() {}\nfunc New() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	check := &ContractBreakCheck{Cfg: ContractBreakConfig{
		Snapshot:       []string{"api.go::Keep"},
		AllowAdditions: false,
		IncludeGlobs:   []string{"**/*"},
	}}
	res, err := check.Run(dir)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range res.Findings {
		if f.Code == "contract_break.symbol_added" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a symbol_added finding, got %+v", res.Findings)
	}
}

func TestContractBreakCheck_AllowsAdditionsWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "api.go"), []byte("func Keep() {}\nfunc New() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	check := &ContractBreakCheck{Cfg: ContractBreakConfig{
		Snapshot:       []string{"api.go::Keep"},
		AllowAdditions: true,
		IncludeGlobs:   []string{"**/*"},
	}}
	res, err := check.Run(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Findings) != 0 {
		t.Fatalf("expected no findings, got %+v", res.Findings)
	}
}
