// Package ratchet implements the quality-delta baseline ratchet: it
// builds a QualitySnapshot from a check run, compares it against a
// recorded baseline under ratchet-mode regression rules, and persists
// new baselines atomically. Grounded on the distilled spec's §4.5 and
// the original engine's quality_delta.rs snapshot/regression design,
// re-expressed over this port's gatetypes.QualitySnapshot.
package ratchet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/compas-dev/compas/pkg/canonicalize"
	"github.com/compas-dev/compas/pkg/checks"
	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
)

// ErrMaintenanceRequired reports a write-baseline request missing a
// valid maintenance reason/owner.
type ErrMaintenanceRequired struct {
	Reason string
}

func (e *ErrMaintenanceRequired) Error() string { return e.Reason }

// ValidateMaintenance enforces the write-baseline precondition: in
// ratchet mode, writing a new baseline requires a trimmed reason of at
// least 20 characters and a non-empty owner.
func ValidateMaintenance(reason, owner string) error {
	if len(strings.TrimSpace(reason)) < 20 {
		return &ErrMaintenanceRequired{Reason: "write_baseline requires a maintenance reason of at least 20 characters"}
	}
	if strings.TrimSpace(owner) == "" {
		return &ErrMaintenanceRequired{Reason: "write_baseline requires a non-empty maintenance owner"}
	}
	return nil
}

// ConfigHash computes "sha256:<hex>" over the canonical JSON of the
// merged checks configuration.
func ConfigHash(checksCfg config.ChecksConfig) (string, error) {
	return canonicalize.CanonicalHash(checksCfg)
}

// BuildSnapshot assembles a QualitySnapshot from a completed check run
// and the posture/coverage insights computed over it.
func BuildSnapshot(results []checks.Result, posture gatetypes.QualityPosture, configHash string, writtenBy *gatetypes.WrittenBy) gatetypes.QualitySnapshot {
	locPerFile := map[string]int{}
	var surfaceItems []string
	var duplicateGroups [][]string

	for _, r := range results {
		switch r.Kind {
		case "loc":
			if m, ok := r.Metrics["loc_per_file"].(map[string]int); ok {
				for k, v := range m {
					locPerFile[k] = v
				}
			}
		case "surface":
			if items, ok := r.Metrics["surface_items"].([]string); ok {
				surfaceItems = append(surfaceItems, items...)
			}
		case "duplicates":
			if groups, ok := r.Metrics["duplicate_groups"].([][]string); ok {
				duplicateGroups = append(duplicateGroups, groups...)
			}
		}
	}

	snap := gatetypes.QualitySnapshot{
		Version:         gatetypes.SnapshotVersion,
		TrustScore:      posture.TrustScore,
		CoverageCovered: posture.CoverageCovered,
		CoverageTotal:   posture.CoverageTotal,
		WeightedRisk:    posture.WeightedRisk,
		FindingsTotal:   posture.FindingsTotal,
		RiskBySeverity:  posture.RiskBySeverity,
		LocPerFile:      locPerFile,
		SurfaceItems:    surfaceItems,
		DuplicateGroups: duplicateGroups,
		FileUniverse:    checks.FileUniverse(results),
		WrittenAt:       time.Now().UTC().Format(time.RFC3339),
		WrittenBy:       writtenBy,
		ConfigHash:      configHash,
	}
	return snap.Normalize()
}

// LoadSnapshot reads the snapshot at path, returning (nil, nil) when it
// does not exist.
func LoadSnapshot(path string) (*gatetypes.QualitySnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var s gatetypes.QualitySnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("ratchet: invalid snapshot json at %s: %w", path, err)
	}
	if s.Version > gatetypes.SnapshotVersion {
		return nil, fmt.Errorf("ratchet: snapshot at %s has version %d, newer than supported %d", path, s.Version, gatetypes.SnapshotVersion)
	}
	norm := s.Normalize()
	return &norm, nil
}

// WriteSnapshot persists snap to path atomically (write temp, rename).
func WriteSnapshot(path string, snap gatetypes.QualitySnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap.Normalize(), "", "  ")
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func stringSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

func duplicateGroupKey(group []string) string {
	g := append([]string(nil), group...)
	sort.Strings(g)
	return strings.Join(g, "\x00")
}

func duplicateGroupSet(groups [][]string) map[string]bool {
	out := make(map[string]bool, len(groups))
	for _, g := range groups {
		out[duplicateGroupKey(g)] = true
	}
	return out
}

// Evaluate applies the ratchet-mode regression rules when a baseline is
// present, or the absolute-minima-only rules when it is absent. current
// and baseline are assumed already Normalize()'d.
func Evaluate(contract config.QualityContractConfig, baseline *gatetypes.QualitySnapshot, current gatetypes.QualitySnapshot) []gatetypes.Finding {
	var findings []gatetypes.Finding
	q := contract.Quality

	if current.TrustScore < q.MinTrustScore {
		findings = append(findings, gatetypes.Blocking(
			"quality_delta.trust_score_below_minimum",
			fmt.Sprintf("trust_score=%d is below min_trust_score=%d", current.TrustScore, q.MinTrustScore),
			nil, map[string]interface{}{"trust_score": current.TrustScore, "min_trust_score": q.MinTrustScore},
		))
	}

	coveragePercent := 0.0
	if current.CoverageTotal > 0 {
		coveragePercent = float64(current.CoverageCovered) / float64(current.CoverageTotal) * 100.0
	}
	if coveragePercent < q.MinCoveragePercent {
		findings = append(findings, gatetypes.Blocking(
			"quality_delta.coverage_below_minimum",
			fmt.Sprintf("coverage=%.2f%% is below min_coverage_percent=%.2f%%", coveragePercent, q.MinCoveragePercent),
			nil, map[string]interface{}{"coverage_percent": coveragePercent, "min_coverage_percent": q.MinCoveragePercent},
		))
	}

	if baseline == nil {
		return findings
	}

	baselineCoveragePercent := 0.0
	if baseline.CoverageTotal > 0 {
		baselineCoveragePercent = float64(baseline.CoverageCovered) / float64(baseline.CoverageTotal) * 100.0
	}

	if !q.AllowTrustDrop && current.TrustScore < baseline.TrustScore {
		findings = append(findings, gatetypes.Blocking(
			"quality_delta.trust_score_regressed",
			fmt.Sprintf("trust_score regressed: baseline=%d current=%d", baseline.TrustScore, current.TrustScore),
			nil, map[string]interface{}{"baseline": baseline.TrustScore, "current": current.TrustScore},
		))
	}

	if !q.AllowCoverageDrop && coveragePercent < baselineCoveragePercent {
		findings = append(findings, gatetypes.Blocking(
			"quality_delta.coverage_regressed",
			fmt.Sprintf("coverage regressed: baseline=%.2f%% current=%.2f%%", baselineCoveragePercent, coveragePercent),
			nil, map[string]interface{}{"baseline": baselineCoveragePercent, "current": coveragePercent},
		))
	}

	if delta := current.WeightedRisk - baseline.WeightedRisk; delta > q.MaxWeightedRiskIncrease {
		findings = append(findings, gatetypes.Blocking(
			"quality_delta.weighted_risk_increased",
			fmt.Sprintf("weighted_risk increased by %d, exceeding max_weighted_risk_increase=%d", delta, q.MaxWeightedRiskIncrease),
			nil, map[string]interface{}{"baseline": baseline.WeightedRisk, "current": current.WeightedRisk, "delta": delta},
		))
	}

	paths := make([]string, 0, len(current.LocPerFile))
	for p := range current.LocPerFile {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		curLoc := current.LocPerFile[p]
		baseLoc, existed := baseline.LocPerFile[p]
		if existed && curLoc > baseLoc {
			findings = append(findings, gatetypes.Blocking(
				"quality_delta.loc_increased",
				fmt.Sprintf("file loc increased vs baseline: baseline=%d current=%d", baseLoc, curLoc),
				gatetypes.StrPtr(p), map[string]interface{}{"baseline": baseLoc, "current": curLoc},
			))
		}
	}

	baselineSurface := stringSet(baseline.SurfaceItems)
	for _, item := range current.SurfaceItems {
		if !baselineSurface[item] {
			findings = append(findings, gatetypes.Blocking(
				"quality_delta.surface_item_added",
				fmt.Sprintf("public surface item not present in baseline: %s", item),
				gatetypes.StrPtr(item), nil,
			))
		}
	}

	baselineGroups := duplicateGroupSet(baseline.DuplicateGroups)
	for _, group := range current.DuplicateGroups {
		if !baselineGroups[duplicateGroupKey(group)] {
			findings = append(findings, gatetypes.Blocking(
				"quality_delta.duplicate_group_added",
				fmt.Sprintf("duplicate group not present in baseline: %s", strings.Join(group, ", ")),
				nil, map[string]interface{}{"paths": group},
			))
		}
	}

	domains := make([]string, 0, len(baseline.FileUniverse))
	for d := range baseline.FileUniverse {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, domain := range domains {
		baseEntry := baseline.FileUniverse[domain]
		if baseEntry.Universe == 0 {
			continue
		}
		curEntry, ok := current.FileUniverse[domain]
		baseRatio := float64(baseEntry.Scanned) / float64(baseEntry.Universe)
		curRatio := 0.0
		if ok && curEntry.Universe > 0 {
			curRatio = float64(curEntry.Scanned) / float64(curEntry.Universe)
		}
		if narrowing := baseRatio - curRatio; narrowing > contract.Baseline.MaxScopeNarrowing {
			findings = append(findings, gatetypes.Blocking(
				"quality_delta.scope_narrowed",
				fmt.Sprintf("scan scope for domain=%s narrowed by %.4f, exceeding max_scope_narrowing=%.4f", domain, narrowing, contract.Baseline.MaxScopeNarrowing),
				nil, map[string]interface{}{"domain": domain, "baseline_ratio": baseRatio, "current_ratio": curRatio},
			))
		}
	}

	if current.ConfigHash != baseline.ConfigHash {
		findings = append(findings, gatetypes.Blocking(
			"quality_delta.config_hash_mismatch",
			fmt.Sprintf("config_hash differs from baseline: baseline=%s current=%s", baseline.ConfigHash, current.ConfigHash),
			nil, map[string]interface{}{"baseline": baseline.ConfigHash, "current": current.ConfigHash},
		))
	}

	return findings
}

type legacyLocEntry struct {
	Path string `json:"path"`
	Loc  int    `json:"loc"`
}

type legacyLocFile struct {
	Files []legacyLocEntry `json:"files"`
}

type legacySurfaceFile struct {
	Items []string `json:"items"`
}

type legacyDuplicatesFile struct {
	Groups [][]string `json:"groups"`
}

// MigrateLegacy constructs an equivalent QualitySnapshot from the
// per-check legacy baseline files (baselines/loc.json,
// public_surface.json, duplicates.json) when present, for use the one
// time a ratchet-mode run finds no unified baseline yet. Returns
// (nil, false, nil) when none of the legacy files exist.
func MigrateLegacy(repoRoot string, posture gatetypes.QualityPosture, configHash string) (*gatetypes.QualitySnapshot, bool, error) {
	dir := filepath.Join(repoRoot, ".agents/mcp/compas/baselines")
	locPath := filepath.Join(dir, "loc.json")
	surfacePath := filepath.Join(dir, "public_surface.json")
	dupesPath := filepath.Join(dir, "duplicates.json")

	found := false
	locPerFile := map[string]int{}
	var surfaceItems []string
	var duplicateGroups [][]string

	if raw, err := os.ReadFile(locPath); err == nil {
		found = true
		var f legacyLocFile
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, false, fmt.Errorf("ratchet: invalid legacy loc baseline: %w", err)
		}
		for _, e := range f.Files {
			locPerFile[e.Path] = e.Loc
		}
	} else if !os.IsNotExist(err) {
		return nil, false, err
	}

	if raw, err := os.ReadFile(surfacePath); err == nil {
		found = true
		var f legacySurfaceFile
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, false, fmt.Errorf("ratchet: invalid legacy surface baseline: %w", err)
		}
		surfaceItems = f.Items
	} else if !os.IsNotExist(err) {
		return nil, false, err
	}

	if raw, err := os.ReadFile(dupesPath); err == nil {
		found = true
		var f legacyDuplicatesFile
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, false, fmt.Errorf("ratchet: invalid legacy duplicates baseline: %w", err)
		}
		duplicateGroups = f.Groups
	} else if !os.IsNotExist(err) {
		return nil, false, err
	}

	if !found {
		return nil, false, nil
	}

	snap := gatetypes.QualitySnapshot{
		Version:         gatetypes.SnapshotVersion,
		TrustScore:      posture.TrustScore,
		CoverageCovered: posture.CoverageCovered,
		CoverageTotal:   posture.CoverageTotal,
		WeightedRisk:    posture.WeightedRisk,
		FindingsTotal:   posture.FindingsTotal,
		RiskBySeverity:  posture.RiskBySeverity,
		LocPerFile:      locPerFile,
		SurfaceItems:    surfaceItems,
		DuplicateGroups: duplicateGroups,
		FileUniverse:    map[string]gatetypes.FileUniverseEntry{},
		WrittenAt:       time.Now().UTC().Format(time.RFC3339),
		WrittenBy:       &gatetypes.WrittenBy{Reason: "migrated from legacy per-check baselines", Owner: "system"},
		ConfigHash:      configHash,
	}
	norm := snap.Normalize()
	return &norm, true, nil
}
