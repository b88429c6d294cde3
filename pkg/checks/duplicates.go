package checks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/compas-dev/compas/pkg/gatetypes"
	"github.com/compas-dev/compas/pkg/ids"
)

// DuplicatesConfig configures the `duplicates` check.
type DuplicatesConfig struct {
	ID           string
	MaxFileBytes int64
	IncludeGlobs []string
	ExcludeGlobs []string
	AllowlistedPaths map[string]bool // fully-allow-listed paths, drops their group entirely
}

// DuplicatesCheck implements the `duplicates` kind: files at or below
// MaxFileBytes are hashed; files sharing a SHA-256 content hash form a
// group, reported unless every path in the group is allow-listed.
type DuplicatesCheck struct {
	Cfg DuplicatesConfig
}

func (c *DuplicatesCheck) Kind() string { return "duplicates" }

func (c *DuplicatesCheck) Run(repoRoot string) (Result, error) {
	includes, err := buildGlobSet(c.Cfg.IncludeGlobs)
	if err != nil {
		return Result{}, err
	}
	excludes, err := buildGlobSet(c.Cfg.ExcludeGlobs)
	if err != nil {
		return Result{}, err
	}

	byHash := map[string][]string{}
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
		if info.Size() > c.Cfg.MaxFileBytes {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		filesScanned++
		h := ids.Sha256Hex(data)
		byHash[h] = append(byHash[h], rel)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	var groups [][]string
	hashes := make([]string, 0, len(byHash))
	for h := range byHash {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	var findings []gatetypes.Finding
	for _, h := range hashes {
		paths := byHash[h]
		if len(paths) < 2 {
			continue
		}
		sort.Strings(paths)
		allAllowed := true
		for _, p := range paths {
			if !c.Cfg.AllowlistedPaths[p] {
				allAllowed = false
				break
			}
		}
		if allAllowed {
			continue
		}
		groups = append(groups, paths)
		findings = append(findings, gatetypes.Observation(
			"duplicates.group_found",
			fmt.Sprintf("%d files share identical content (sha256=%s)", len(paths), h),
			gatetypes.StrPtr(paths[0]),
			map[string]interface{}{"paths": paths},
		))
	}

	return Result{
		Kind:          c.Kind(),
		FilesScanned:  filesScanned,
		FilesUniverse: filesUniverse,
		Metrics:       map[string]interface{}{"duplicate_groups": groups},
		Findings:      findings,
	}, nil
}
