package ratchet

import (
	"path/filepath"
	"testing"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
)

func TestValidateMaintenance_RequiresLongReasonAndOwner(t *testing.T) {
	if err := ValidateMaintenance("short", "alice"); err == nil {
		t.Fatal("expected error for short reason")
	}
	if err := ValidateMaintenance("this reason is definitely long enough", ""); err == nil {
		t.Fatal("expected error for empty owner")
	}
	if err := ValidateMaintenance("this reason is definitely long enough", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWriteSnapshotThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quality_snapshot.json")

	snap := gatetypes.QualitySnapshot{
		Version:      gatetypes.SnapshotVersion,
		TrustScore:   80,
		ConfigHash:   "sha256:abc",
		LocPerFile:   map[string]int{"a.go": 10},
		SurfaceItems: []string{"b.go::Foo", "a.go::Bar"},
	}
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil || loaded.TrustScore != 80 {
		t.Fatalf("expected trust_score=80, got %+v", loaded)
	}
	if loaded.SurfaceItems[0] != "a.go::Bar" {
		t.Fatalf("expected normalized sorted surface items, got %v", loaded.SurfaceItems)
	}
}

func TestLoadSnapshot_MissingReturnsNilNil(t *testing.T) {
	s, err := LoadSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil || s != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", s, err)
	}
}

func baseContract() config.QualityContractConfig {
	return config.QualityContractConfig{
		Quality: config.QualityThresholds{MinTrustScore: 60, MinCoveragePercent: 50.0},
		Baseline: config.BaselineConfig{MaxScopeNarrowing: 0.10},
	}
}

func TestEvaluate_AbsoluteMinimaOnlyWhenBaselineAbsent(t *testing.T) {
	current := gatetypes.QualitySnapshot{TrustScore: 40, CoverageTotal: 10, CoverageCovered: 2}
	findings := Evaluate(baseContract(), nil, current)

	codes := map[string]bool{}
	for _, f := range findings {
		codes[f.Code] = true
	}
	if !codes["quality_delta.trust_score_below_minimum"] {
		t.Fatal("expected trust_score_below_minimum finding")
	}
	if !codes["quality_delta.coverage_below_minimum"] {
		t.Fatal("expected coverage_below_minimum finding")
	}
	if codes["quality_delta.trust_score_regressed"] {
		t.Fatal("did not expect regression findings with no baseline")
	}
}

func TestEvaluate_FlagsRegressionsAgainstBaseline(t *testing.T) {
	baseline := gatetypes.QualitySnapshot{
		TrustScore: 90, CoverageTotal: 10, CoverageCovered: 9, WeightedRisk: 5,
		LocPerFile:      map[string]int{"a.go": 100},
		SurfaceItems:    []string{"a.go::Foo"},
		DuplicateGroups: [][]string{{"x.go", "y.go"}},
		FileUniverse:    map[string]gatetypes.FileUniverseEntry{"loc": {Scanned: 10, Universe: 10}},
		ConfigHash:      "sha256:aaa",
	}.Normalize()

	current := gatetypes.QualitySnapshot{
		TrustScore: 70, CoverageTotal: 10, CoverageCovered: 5, WeightedRisk: 50,
		LocPerFile:      map[string]int{"a.go": 150},
		SurfaceItems:    []string{"a.go::Foo", "b.go::Bar"},
		DuplicateGroups: [][]string{{"x.go", "y.go"}, {"m.go", "n.go"}},
		FileUniverse:    map[string]gatetypes.FileUniverseEntry{"loc": {Scanned: 2, Universe: 10}},
		ConfigHash:      "sha256:bbb",
	}.Normalize()

	contract := baseContract()
	contract.Quality.MaxWeightedRiskIncrease = 1

	findings := Evaluate(contract, &baseline, current)
	codes := map[string]bool{}
	for _, f := range findings {
		codes[f.Code] = true
	}

	for _, want := range []string{
		"quality_delta.trust_score_regressed",
		"quality_delta.coverage_regressed",
		"quality_delta.weighted_risk_increased",
		"quality_delta.loc_increased",
		"quality_delta.surface_item_added",
		"quality_delta.duplicate_group_added",
		"quality_delta.scope_narrowed",
		"quality_delta.config_hash_mismatch",
	} {
		if !codes[want] {
			t.Errorf("expected finding code %s, got %v", want, codes)
		}
	}
}

func TestEvaluate_AllowDropsSuppressRegressionFindings(t *testing.T) {
	baseline := gatetypes.QualitySnapshot{TrustScore: 90, CoverageTotal: 10, CoverageCovered: 9, ConfigHash: "sha256:x"}.Normalize()
	current := gatetypes.QualitySnapshot{TrustScore: 70, CoverageTotal: 10, CoverageCovered: 5, ConfigHash: "sha256:x"}.Normalize()

	contract := baseContract()
	contract.Quality.AllowTrustDrop = true
	contract.Quality.AllowCoverageDrop = true
	contract.Quality.MinTrustScore = 0
	contract.Quality.MinCoveragePercent = 0

	findings := Evaluate(contract, &baseline, current)
	for _, f := range findings {
		if f.Code == "quality_delta.trust_score_regressed" || f.Code == "quality_delta.coverage_regressed" {
			t.Fatalf("did not expect regression finding %s when drop is allowed", f.Code)
		}
	}
}
