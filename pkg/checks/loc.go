package checks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

// LocConfig configures the loc check. When IncludeGlobs is empty, the
// check falls back to "**/*" (language-agnostic default — the original
// Rust-only engine defaulted to "**/*.rs"; this engine serves many
// ecosystems, so an unset include list means "every file", letting
// plugin manifests narrow it per-language).
type LocConfig struct {
	ID           string
	MaxLoc       int
	IncludeGlobs []string
	ExcludeGlobs []string
	BaselinePath string
}

// LocCheck implements the `loc` kind: files whose non-empty-line count
// exceeds MaxLoc produce an observation-tier finding. Ported literally
// from the original engine's count_non_empty_lines / run_loc_check.
type LocCheck struct {
	Cfg LocConfig
}

func (c *LocCheck) Kind() string { return "loc" }

// countNonEmptyLines trims only leading space/tab/CR per line (not a
// full whitespace trim) before testing non-emptiness — this is the exact
// semantics of the original implementation, not the more obvious
// strings.TrimSpace(line) != "".
func countNonEmptyLines(data []byte) int {
	count := 0
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			j := 0
			for j < len(line) && (line[j] == ' ' || line[j] == '\t' || line[j] == '\r') {
				j++
			}
			if j < len(line) {
				count++
			}
			start = i + 1
		}
	}
	return count
}

func (c *LocCheck) Run(repoRoot string) (Result, error) {
	includeGlobs := c.Cfg.IncludeGlobs
	if len(includeGlobs) == 0 {
		includeGlobs = []string{"**/*"}
	}
	includes, err := buildGlobSet(includeGlobs)
	if err != nil {
		return Result{}, err
	}
	excludes, err := buildGlobSet(c.Cfg.ExcludeGlobs)
	if err != nil {
		return Result{}, err
	}

	locPerFile := map[string]int{}
	var findings []gatetypes.Finding
	filesUniverse := 0

	err = filepath.Walk(repoRoot, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if info.IsDir() {
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
			findings = append(findings, gatetypes.Blocking(
				"loc.read_failed",
				fmt.Sprintf("failed to read file for LOC scan: %v", readErr),
				gatetypes.StrPtr(rel), nil,
			))
			return nil
		}
		locPerFile[rel] = countNonEmptyLines(data)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	maxLoc := 0
	var worstPath string
	paths := make([]string, 0, len(locPerFile))
	for p := range locPerFile {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		loc := locPerFile[p]
		if loc > maxLoc {
			maxLoc = loc
			worstPath = p
		}
		if loc > c.Cfg.MaxLoc {
			findings = append(findings, gatetypes.Observation(
				"loc.max_exceeded",
				fmt.Sprintf("file exceeds max_loc=%d (loc=%d)", c.Cfg.MaxLoc, loc),
				gatetypes.StrPtr(p), nil,
			))
		}
	}

	metrics := map[string]interface{}{
		"max_loc":      maxLoc,
		"loc_per_file": locPerFile,
	}
	if worstPath != "" {
		metrics["worst_path"] = worstPath
	}

	return Result{
		Kind:          c.Kind(),
		FilesScanned:  len(locPerFile),
		FilesUniverse: filesUniverse,
		Metrics:       metrics,
		Findings:      findings,
	}, nil
}
