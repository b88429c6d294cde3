package checks

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

// ComplexityBudgetConfig configures the `complexity_budget` check.
type ComplexityBudgetConfig struct {
	ID                string
	MaxLines          int
	MaxCyclomatic     int
	MaxCognitive      int
	IncludeGlobs      []string
	ExcludeGlobs      []string
}

// ComplexityBudgetCheck implements the `complexity_budget` kind: a
// function exceeding line, cyclomatic, or cognitive budgets is a blocking
// finding.
type ComplexityBudgetCheck struct {
	Cfg ComplexityBudgetConfig
}

func (c *ComplexityBudgetCheck) Kind() string { return "complexity_budget" }

var complexityKeywordPattern = regexp.MustCompile(`\b(if|else\s+if|for|while|match|case)\b`)

// cyclomaticOf computes 1 + keyword_matches(if|else if|for|while|match|case)
// + count('&&') + count('||') + count('?'), per the spec's algorithmic
// note.
func cyclomaticOf(block string) int {
	score := 1
	score += len(complexityKeywordPattern.FindAllString(block, -1))
	score += strings.Count(block, "&&")
	score += strings.Count(block, "||")
	score += strings.Count(block, "?")
	return score
}

// cognitiveOf approximates nesting-aware cognitive complexity: each line
// containing a control-flow keyword adds 1 plus its current brace-nesting
// depth.
func cognitiveOf(block string) int {
	score := 0
	depth := 0
	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(line)
		if complexityKeywordPattern.MatchString(trimmed) {
			score += 1 + depth
		}
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth < 0 {
			depth = 0
		}
	}
	return score
}

func (c *ComplexityBudgetCheck) Run(repoRoot string) (Result, error) {
	includes, err := buildGlobSet(c.Cfg.IncludeGlobs)
	if err != nil {
		return Result{}, err
	}
	excludes, err := buildGlobSet(c.Cfg.ExcludeGlobs)
	if err != nil {
		return Result{}, err
	}

	var findings []gatetypes.Finding
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
			findings = append(findings, gatetypes.Blocking(
				"complexity_budget.read_failed",
				fmt.Sprintf("failed to read file for complexity scan: %v", readErr),
				gatetypes.StrPtr(rel), nil,
			))
			return nil
		}
		filesScanned++

		for _, block := range extractFuncBlocks(string(data), 1) {
			lines := countNonEmptyLines([]byte(block))
			cyclomatic := cyclomaticOf(block)
			cognitive := cognitiveOf(block)

			switch {
			case c.Cfg.MaxLines > 0 && lines > c.Cfg.MaxLines:
				findings = append(findings, gatetypes.Blocking(
					"complexity_budget.lines_exceeded",
					fmt.Sprintf("function body has %d lines, exceeding max_lines=%d", lines, c.Cfg.MaxLines),
					gatetypes.StrPtr(rel), map[string]interface{}{"lines": lines},
				))
			}
			if c.Cfg.MaxCyclomatic > 0 && cyclomatic > c.Cfg.MaxCyclomatic {
				findings = append(findings, gatetypes.Blocking(
					"complexity_budget.cyclomatic_exceeded",
					fmt.Sprintf("function has cyclomatic complexity %d, exceeding max_cyclomatic=%d", cyclomatic, c.Cfg.MaxCyclomatic),
					gatetypes.StrPtr(rel), map[string]interface{}{"cyclomatic": cyclomatic},
				))
			}
			if c.Cfg.MaxCognitive > 0 && cognitive > c.Cfg.MaxCognitive {
				findings = append(findings, gatetypes.Blocking(
					"complexity_budget.cognitive_exceeded",
					fmt.Sprintf("function has cognitive complexity %d, exceeding max_cognitive=%d", cognitive, c.Cfg.MaxCognitive),
					gatetypes.StrPtr(rel), map[string]interface{}{"cognitive": cognitive},
				))
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Kind:          c.Kind(),
		FilesScanned:  filesScanned,
		FilesUniverse: filesUniverse,
		Metrics:       map[string]interface{}{},
		Findings:      findings,
	}, nil
}
