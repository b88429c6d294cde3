// Package checks implements the fixed catalog of check kinds: each is a
// pure function over (repository state, check config) that returns
// findings plus scan metrics. Grounded on the teacher's Gate interface
// (ID/Name/Run) generalized from a single CI gate to a per-kind static
// check, and on the original engine's per-check Rust modules for exact
// algorithms where read (loc) and on the spec's WHAT-not-HOW contracts
// for the rest.
package checks

import (
	"sort"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

// Result is what every check kind returns: the findings it produced plus
// how much of the filesystem it actually looked at, for quality-delta
// scope-narrowing detection.
type Result struct {
	Kind         string
	FilesScanned int
	FilesUniverse int
	Metrics      map[string]interface{}
	Findings     []gatetypes.Finding
}

// Check is the contract every check kind implements: a pure function of
// the repository root and its own configuration.
type Check interface {
	Kind() string
	Run(repoRoot string) (Result, error)
}

// Engine runs a registered set of checks in a stable order and merges
// their findings into the total order the spec requires: (code, path).
type Engine struct {
	checks []Check
}

// NewEngine builds an Engine over the given checks, preserving the order
// they were supplied in for metric reporting (finding order is
// re-sorted regardless).
func NewEngine(cs ...Check) *Engine {
	return &Engine{checks: cs}
}

// RunAll executes every registered check against repoRoot and returns
// the merged, sorted finding list plus the per-kind results.
func (e *Engine) RunAll(repoRoot string) ([]gatetypes.Finding, []Result, error) {
	results := make([]Result, 0, len(e.checks))
	var findings []gatetypes.Finding

	for _, c := range e.checks {
		r, err := c.Run(repoRoot)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, r)
		findings = append(findings, r.Findings...)
	}

	gatetypes.SortFindings(findings)
	return findings, results, nil
}

// FileUniverse builds the per-domain FileUniverseEntry map the
// quality-delta ratchet needs for scope-narrowing detection.
func FileUniverse(results []Result) map[string]gatetypes.FileUniverseEntry {
	out := make(map[string]gatetypes.FileUniverseEntry, len(results))
	for _, r := range results {
		out[r.Kind] = gatetypes.FileUniverseEntry{Scanned: r.FilesScanned, Universe: r.FilesUniverse}
	}
	return out
}

// sortedKeys is a small helper used by several check kinds to produce
// deterministic iteration order over a string-keyed map.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
