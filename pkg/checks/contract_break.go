package checks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

// ContractBreakConfig configures the `contract_break` check. Snapshot is
// the set of "path::symbol" items recorded from a prior run (typically
// persisted by the ratchet baseline); a missing-vs-snapshot symbol is
// always a break, and AllowAdditions=false additionally flags any new
// public symbol not present in Snapshot.
type ContractBreakConfig struct {
	ID             string
	Snapshot       []string
	AllowAdditions bool
	IncludeGlobs   []string
	ExcludeGlobs   []string
}

// ContractBreakCheck implements the `contract_break` kind: symbols
// present in the snapshot that have disappeared, or — when additions are
// disallowed — new public symbols appearing, are blocking findings.
type ContractBreakCheck struct {
	Cfg ContractBreakConfig
}

func (c *ContractBreakCheck) Kind() string { return "contract_break" }

func (c *ContractBreakCheck) Run(repoRoot string) (Result, error) {
	includes, err := buildGlobSet(c.Cfg.IncludeGlobs)
	if err != nil {
		return Result{}, err
	}
	excludes, err := buildGlobSet(c.Cfg.ExcludeGlobs)
	if err != nil {
		return Result{}, err
	}

	current := map[string]bool{}
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
				current[rel+"::"+m[1]] = true
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	snapshot := map[string]bool{}
	for _, s := range c.Cfg.Snapshot {
		snapshot[s] = true
	}

	var findings []gatetypes.Finding

	missing := make([]string, 0)
	for _, s := range c.Cfg.Snapshot {
		if !current[s] {
			missing = append(missing, s)
		}
	}
	sort.Strings(missing)
	for _, item := range missing {
		item := item
		findings = append(findings, gatetypes.Blocking(
			"contract_break.symbol_removed",
			fmt.Sprintf("public symbol %s present in the contract snapshot has disappeared", item),
			gatetypes.StrPtr(item),
			nil,
		))
	}

	if !c.Cfg.AllowAdditions {
		added := make([]string, 0)
		for item := range current {
			if !snapshot[item] {
				added = append(added, item)
			}
		}
		sort.Strings(added)
		for _, item := range added {
			item := item
			findings = append(findings, gatetypes.Blocking(
				"contract_break.symbol_added",
				fmt.Sprintf("public symbol %s is new and additions are not allowed by this contract", item),
				gatetypes.StrPtr(item),
				nil,
			))
		}
	}

	return Result{
		Kind:          c.Kind(),
		FilesScanned:  filesScanned,
		FilesUniverse: filesUniverse,
		Metrics:       map[string]interface{}{"snapshot_size": len(c.Cfg.Snapshot), "current_size": len(current)},
		Findings:      findings,
	}, nil
}
