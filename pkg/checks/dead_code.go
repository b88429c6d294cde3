package checks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

// DeadCodeConfig configures the `dead_code` / `orphan_api` kind. Tier is
// configurable per the spec table ("configurable"); Observation is the
// conservative default.
type DeadCodeConfig struct {
	ID           string
	IncludeGlobs []string
	ExcludeGlobs []string
	Tier         gatetypes.ViolationTier
	Code         string // "dead_code.orphan_symbol" or "orphan_api.orphan_symbol"
}

// DeadCodeCheck implements the `dead_code`/`orphan_api` kind: a symbol
// with at most one textual occurrence across the scanned file set is
// reported as an orphan.
type DeadCodeCheck struct {
	Cfg DeadCodeConfig
}

func (c *DeadCodeCheck) Kind() string { return "dead_code" }

func (c *DeadCodeCheck) Run(repoRoot string) (Result, error) {
	includes, err := buildGlobSet(c.Cfg.IncludeGlobs)
	if err != nil {
		return Result{}, err
	}
	excludes, err := buildGlobSet(c.Cfg.ExcludeGlobs)
	if err != nil {
		return Result{}, err
	}

	occurrences := map[string]int{}
	definitions := map[string]string{} // symbol -> defining path (first seen)
	var srcs []string
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
		src := string(data)

		for _, re := range publicSymbolPatterns {
			for _, m := range re.FindAllStringSubmatch(src, -1) {
				if _, ok := definitions[m[1]]; !ok {
					definitions[m[1]] = rel
				}
			}
		}
		srcs = append(srcs, src)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	for sym := range definitions {
		for _, src := range srcs {
			occurrences[sym] += strings.Count(src, sym)
		}
	}

	tier := c.Cfg.Tier
	if tier == "" {
		tier = gatetypes.TierObservation
	}
	code := c.Cfg.Code
	if code == "" {
		code = "dead_code.orphan_symbol"
	}

	syms := make([]string, 0, len(definitions))
	for s := range definitions {
		syms = append(syms, s)
	}
	sort.Strings(syms)

	var findings []gatetypes.Finding
	for _, sym := range syms {
		if occurrences[sym] <= 1 {
			msg := fmt.Sprintf("symbol %s has %d textual occurrence(s) in the scanned file set", sym, occurrences[sym])
			path := definitions[sym]
			f := gatetypes.Finding{Code: code, Message: msg, Path: &path, Tier: tier}
			findings = append(findings, f)
		}
	}

	return Result{
		Kind:          c.Kind(),
		FilesScanned:  filesScanned,
		FilesUniverse: filesUniverse,
		Metrics:       map[string]interface{}{"symbols_tracked": len(definitions)},
		Findings:      findings,
	}, nil
}
