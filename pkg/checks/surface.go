package checks

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

// publicSymbolPatterns extracts exported/public symbol names across the
// small set of ecosystems this engine targets. Each pattern's first
// capture group is the symbol name.
var publicSymbolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*pub\s+fn\s+([A-Za-z_][A-Za-z0-9_]*)`),        // Rust
	regexp.MustCompile(`(?m)^\s*pub\s+struct\s+([A-Za-z_][A-Za-z0-9_]*)`),    // Rust
	regexp.MustCompile(`(?m)^\s*pub\s+enum\s+([A-Za-z_][A-Za-z0-9_]*)`),      // Rust
	regexp.MustCompile(`(?m)^\s*export\s+function\s+([A-Za-z_$][A-Za-z0-9_$]*)`), // ES
	regexp.MustCompile(`(?m)^\s*export\s+(?:default\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`), // ES
	regexp.MustCompile(`(?m)^def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`),           // Python (module-level only, no leading indent)
	regexp.MustCompile(`(?m)^func\s+([A-Z][A-Za-z0-9_]*)\s*\(`),              // Go exported func
}

// SurfaceConfig configures the `surface` check.
type SurfaceConfig struct {
	ID           string
	MaxItems     int
	IncludeGlobs []string
	ExcludeGlobs []string
	BaselineItems []string // sorted baseline surface items, for added/removed diagnostics
}

// SurfaceCheck implements the `surface` kind: extracted public-API
// symbols across matched files are counted; exceeding MaxItems produces
// an observation finding.
type SurfaceCheck struct {
	Cfg SurfaceConfig
}

func (c *SurfaceCheck) Kind() string { return "surface" }

func (c *SurfaceCheck) Run(repoRoot string) (Result, error) {
	includes, err := buildGlobSet(c.Cfg.IncludeGlobs)
	if err != nil {
		return Result{}, err
	}
	excludes, err := buildGlobSet(c.Cfg.ExcludeGlobs)
	if err != nil {
		return Result{}, err
	}

	itemSet := map[string]bool{}
	filesScanned, filesUniverse := 0, 0

	err = filepath.Walk(repoRoot, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil || info == nil || info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(repoRoot, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if excludes.Match(rel) || !includes.Match(rel) {
			return nil
		}
		filesUniverse++

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		filesScanned++
		for _, re := range publicSymbolPatterns {
			for _, m := range re.FindAllStringSubmatch(string(data), -1) {
				itemSet[rel+"::"+m[1]] = true
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	items := make([]string, 0, len(itemSet))
	for k := range itemSet {
		items = append(items, k)
	}
	sort.Strings(items)

	var findings []gatetypes.Finding
	if len(items) > c.Cfg.MaxItems {
		findings = append(findings, gatetypes.Observation(
			"surface.max_items_exceeded",
			fmt.Sprintf("public surface has %d items, exceeding max_items=%d", len(items), c.Cfg.MaxItems),
			nil, nil,
		))
	}

	baseline := map[string]bool{}
	for _, b := range c.Cfg.BaselineItems {
		baseline[b] = true
	}
	added, removed := 0, 0
	for _, it := range items {
		if !baseline[it] {
			added++
		}
	}
	for _, b := range c.Cfg.BaselineItems {
		if !itemSet[b] {
			removed++
		}
	}

	return Result{
		Kind:          c.Kind(),
		FilesScanned:  filesScanned,
		FilesUniverse: filesUniverse,
		Metrics: map[string]interface{}{
			"items_total":       len(items),
			"surface_items":     items,
			"added_vs_baseline": added,
			"removed_vs_baseline": removed,
		},
		Findings: findings,
	}, nil
}
