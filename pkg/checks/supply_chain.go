package checks

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

// ManifestFamily names a package-manager manifest/lockfile pair this
// check is aware of.
type ManifestFamily struct {
	Name         string
	ManifestFile string
	LockFile     string
}

// DefaultManifestFamilies covers the ecosystems the rest of this project
// targets.
var DefaultManifestFamilies = []ManifestFamily{
	{Name: "cargo", ManifestFile: "Cargo.toml", LockFile: "Cargo.lock"},
	{Name: "npm", ManifestFile: "package.json", LockFile: "package-lock.json"},
	{Name: "go", ManifestFile: "go.mod", LockFile: "go.sum"},
	{Name: "pip", ManifestFile: "pyproject.toml", LockFile: "poetry.lock"},
}

// SupplyChainConfig configures the `supply_chain` check.
type SupplyChainConfig struct {
	ID        string
	Families  []ManifestFamily
	Versions  map[string]string // dependency name -> declared version string; validator.BuildEngine leaves it empty
}

// SupplyChainCheck implements the `supply_chain` kind: a manifest family
// present without its lockfile, or any dependency version string that
// parses as a semver prerelease, is a blocking finding.
type SupplyChainCheck struct {
	Cfg SupplyChainConfig
}

func (c *SupplyChainCheck) Kind() string { return "supply_chain" }

func (c *SupplyChainCheck) Run(repoRoot string) (Result, error) {
	families := c.Cfg.Families
	if len(families) == 0 {
		families = DefaultManifestFamilies
	}

	var findings []gatetypes.Finding
	filesScanned := 0
	filesUniverse := len(families)

	for _, fam := range families {
		manifestPath := filepath.Join(repoRoot, fam.ManifestFile)
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}
		filesScanned++

		lockPath := filepath.Join(repoRoot, fam.LockFile)
		if _, err := os.Stat(lockPath); err != nil {
			findings = append(findings, gatetypes.Blocking(
				"supply_chain.lockfile_missing",
				fmt.Sprintf("%s manifest present but %s is missing", fam.ManifestFile, fam.LockFile),
				gatetypes.StrPtr(fam.ManifestFile), map[string]interface{}{"family": fam.Name},
			))
		}
	}

	for name, v := range c.Cfg.Versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		if sv.Prerelease() != "" {
			findings = append(findings, gatetypes.Blocking(
				"supply_chain.prerelease_dependency",
				fmt.Sprintf("dependency %s resolves to prerelease version %s", name, v),
				nil, map[string]interface{}{"dependency": name, "version": v},
			))
		}
	}

	return Result{
		Kind:          c.Kind(),
		FilesScanned:  filesScanned,
		FilesUniverse: filesUniverse,
		Metrics:       map[string]interface{}{"families_checked": len(families)},
		Findings:      findings,
	}, nil
}
