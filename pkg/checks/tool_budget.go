package checks

import (
	"fmt"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

// ToolBudgetConfig configures the `tool_budget` check.
type ToolBudgetConfig struct {
	ID               string
	MaxTotalTools    int
	MaxToolsPerPlugin int
	ToolsPerPlugin   map[string]int // plugin_id -> tool count
	TotalTools       int
}

// ToolBudgetCheck implements the `tool_budget` kind: configured totals or
// per-plugin counts exceeding caps produce observation findings.
type ToolBudgetCheck struct {
	Cfg ToolBudgetConfig
}

func (c *ToolBudgetCheck) Kind() string { return "tool_budget" }

func (c *ToolBudgetCheck) Run(repoRoot string) (Result, error) {
	var findings []gatetypes.Finding

	if c.Cfg.MaxTotalTools > 0 && c.Cfg.TotalTools > c.Cfg.MaxTotalTools {
		findings = append(findings, gatetypes.Observation(
			"tool_budget.total_exceeded",
			fmt.Sprintf("total tool count %d exceeds max_total_tools=%d", c.Cfg.TotalTools, c.Cfg.MaxTotalTools),
			nil, nil,
		))
	}

	if c.Cfg.MaxToolsPerPlugin > 0 {
		for _, plugin := range sortedKeys(c.Cfg.ToolsPerPlugin) {
			count := c.Cfg.ToolsPerPlugin[plugin]
			if count > c.Cfg.MaxToolsPerPlugin {
				findings = append(findings, gatetypes.Observation(
					"tool_budget.plugin_exceeded",
					fmt.Sprintf("plugin %s declares %d tools, exceeding max_tools_per_plugin=%d", plugin, count, c.Cfg.MaxToolsPerPlugin),
					nil, map[string]interface{}{"plugin_id": plugin},
				))
			}
		}
	}

	return Result{
		Kind:          c.Kind(),
		FilesScanned:  len(c.Cfg.ToolsPerPlugin),
		FilesUniverse: len(c.Cfg.ToolsPerPlugin),
		Metrics:       map[string]interface{}{"total_tools": c.Cfg.TotalTools},
		Findings:      findings,
	}, nil
}
