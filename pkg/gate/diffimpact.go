package gate

import (
	"bytes"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
)

// GitRunner executes a git subcommand rooted at a fixed repository and
// returns its trimmed stdout. Tests substitute a fake to avoid touching
// a real git checkout.
type GitRunner func(args ...string) (string, error)

// DefaultGitRunner shells out to the system git binary with repoRoot as
// its working directory.
func DefaultGitRunner(repoRoot string) GitRunner {
	return func(args ...string) (string, error) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repoRoot
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out.String())
		}
		return strings.TrimSpace(out.String()), nil
	}
}

// mergeBaseFallbacks is the ordered list of candidate refs tried, in
// order, after the requested merge-base target, when it cannot be
// resolved locally (e.g. a shallow clone with no remote-tracking ref).
var mergeBaseFallbacks = []string{"origin/main", "origin/master", "main", "master", "HEAD~1", "HEAD"}

// ResolveDiffBase resolves a diff_base value into a concrete commit-ish.
// A literal ref is returned unchanged; "merge-base:<target>" tries
// `git merge-base <candidate> HEAD` over target followed by the standard
// fallback chain, returning the first candidate that resolves.
func ResolveDiffBase(run GitRunner, diffBase string) (string, error) {
	if !strings.HasPrefix(diffBase, "merge-base:") {
		return diffBase, nil
	}
	target := strings.TrimPrefix(diffBase, "merge-base:")

	candidates := make([]string, 0, len(mergeBaseFallbacks)+1)
	candidates = append(candidates, target)
	for _, c := range mergeBaseFallbacks {
		if c != target {
			candidates = append(candidates, c)
		}
	}

	var lastErr error
	for _, c := range candidates {
		out, err := run("merge-base", c, "HEAD")
		if err == nil && out != "" {
			return out, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("gate: could not resolve diff_base %q (tried %v): %w", diffBase, candidates, lastErr)
}

// ChangedPaths returns the set of repo-relative paths that differ
// between base and HEAD.
func ChangedPaths(run GitRunner, base string) ([]string, error) {
	out, err := run("diff", "--name-only", base, "HEAD")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	lines := strings.Split(out, "\n")
	sort.Strings(lines)
	return lines, nil
}

// EvaluateImpact matches changed paths against the contract's impact
// rules, returning the union of required tools across all matched rules
// plus findings for any path matching no rule (per the configured
// unmapped-path policy).
func EvaluateImpact(rules []config.ImpactRule, unmapped config.ImpactUnmappedPathPolicy, changedPaths []string) (requiredTools map[string]bool, findings []gatetypes.Finding, err error) {
	requiredTools = map[string]bool{}

	type compiledRule struct {
		rule config.ImpactRule
		gl   []glob.Glob
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		var gs []glob.Glob
		for _, pattern := range r.PathGlobs {
			g, gerr := glob.Compile(pattern, '/')
			if gerr != nil {
				return nil, nil, fmt.Errorf("gate: invalid impact rule path glob %q in rule %s: %w", pattern, r.ID, gerr)
			}
			gs = append(gs, g)
		}
		compiled = append(compiled, compiledRule{rule: r, gl: gs})
	}

	for _, p := range changedPaths {
		matchedAny := false
		for _, c := range compiled {
			for _, g := range c.gl {
				if g.Match(p) {
					matchedAny = true
					for _, t := range c.rule.RequiredTools {
						requiredTools[t] = true
					}
					break
				}
			}
		}
		if matchedAny || len(compiled) == 0 {
			continue
		}

		msg := fmt.Sprintf("changed path matches no impact rule: %s", p)
		switch unmapped {
		case config.ImpactBlock:
			findings = append(findings, gatetypes.Blocking("change_impact.unmapped_path", msg, gatetypes.StrPtr(p), nil))
		case config.ImpactObserve:
			findings = append(findings, gatetypes.Observation("change_impact.unmapped_path", msg, gatetypes.StrPtr(p), nil))
		case config.ImpactIgnore:
		}
	}

	return requiredTools, findings, nil
}

// MissingRequiredTools returns, sorted, the required tool IDs absent
// from the chosen gate sequence.
func MissingRequiredTools(required map[string]bool, sequence []string) []string {
	inSeq := map[string]bool{}
	for _, id := range sequence {
		inSeq[id] = true
	}
	var missing []string
	for id := range required {
		if !inSeq[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}
