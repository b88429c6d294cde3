package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
)

// FailureModeCatalogRelPath is the optional catalog file's location
// relative to the repository root.
const FailureModeCatalogRelPath = ".agents/mcp/compas/failure_modes.toml"

// DefaultFailureModeCatalog is the built-in catalog used when no
// failure_modes.toml is present, mirroring the named buckets insights
// categorizes findings into.
var DefaultFailureModeCatalog = []string{
	"dependency_hygiene",
	"env_sprawl",
	"fail_open",
	"god_module_cycles",
	"knowledge_continuity",
	"policy_theater",
	"public_surface_bloat",
	"resilience_defaults",
	"security_baseline",
	"unplugged_iron",
}

type failureModeCatalogFile struct {
	Modes []string `toml:"modes"`
}

// LoadFailureModeCatalog reads the optional catalog file, falling back
// to DefaultFailureModeCatalog when absent. The catalog is always
// returned sorted and de-duplicated.
func LoadFailureModeCatalog(repoRoot string) ([]string, error) {
	path := filepath.Join(repoRoot, filepath.FromSlash(FailureModeCatalogRelPath))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			out := append([]string(nil), DefaultFailureModeCatalog...)
			sort.Strings(out)
			return out, nil
		}
		return nil, err
	}

	var f failureModeCatalogFile
	if _, err := toml.Decode(string(raw), &f); err != nil {
		return nil, fmt.Errorf("invalid failure mode catalog toml at %s: %w", path, err)
	}

	seen := map[string]bool{}
	var out []string
	for _, m := range f.Modes {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// skillsDirExists reports whether the repo carries a skills directory,
// the signal insights' coverage rule uses for knowledge_continuity.
func skillsDirExists(repoRoot string) bool {
	info, err := os.Stat(filepath.Join(repoRoot, ".agents/mcp/compas/skills"))
	return err == nil && info.IsDir()
}

// CheckGovernanceInvariants verifies the catalog itself meets the
// contract's governance invariants: every mandatory failure mode must
// appear in the catalog, and the catalog must meet the configured
// minimum size.
func CheckGovernanceInvariants(gov config.GovernanceConfig, catalog []string) []gatetypes.Finding {
	var findings []gatetypes.Finding
	present := map[string]bool{}
	for _, m := range catalog {
		present[m] = true
	}

	modes := append([]string(nil), gov.MandatoryFailureModes...)
	sort.Strings(modes)
	for _, m := range modes {
		if !present[m] {
			findings = append(findings, gatetypes.Blocking(
				"governance.mandatory_mode_missing",
				fmt.Sprintf("mandatory failure mode %s is absent from the failure-mode catalog", m),
				gatetypes.StrPtr(m), nil,
			))
		}
	}

	if gov.MinFailureModes > 0 && len(catalog) < gov.MinFailureModes {
		findings = append(findings, gatetypes.Blocking(
			"governance.min_failure_modes",
			fmt.Sprintf("failure-mode catalog has %d entries, below min_failure_modes=%d", len(catalog), gov.MinFailureModes),
			nil, map[string]interface{}{"catalog_size": len(catalog), "min_failure_modes": gov.MinFailureModes},
		))
	}

	return findings
}
