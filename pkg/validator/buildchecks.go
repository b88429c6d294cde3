package validator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/compas-dev/compas/pkg/checks"
	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
)

// loadStringList reads a JSON array of strings from path, returning nil
// (not an error) when the file does not exist — baselines are optional
// until a ratchet run or a prior check establishes one.
func loadStringList(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("invalid baseline json at %s: %w", path, err)
	}
	return items, nil
}

type envRegistryFile struct {
	Vars []struct {
		Name        string `toml:"name"`
		Description string `toml:"description"`
		Required    bool   `toml:"required"`
		Default     string `toml:"default"`
		Sensitive   bool   `toml:"sensitive"`
	} `toml:"vars"`
}

// loadEnvRegistry reads the `[[vars]]` registry file, resolving each
// declared var's effective value from the process environment or its
// default. A missing registry file is not an error: the check simply
// sees an empty registry, matching a repo that hasn't registered any
// vars yet.
func loadEnvRegistry(path string) (map[string]checks.EnvVarSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]checks.EnvVarSpec{}, nil
		}
		return nil, err
	}
	var f envRegistryFile
	if _, err := toml.Decode(string(raw), &f); err != nil {
		return nil, fmt.Errorf("invalid env registry toml at %s: %w", path, err)
	}
	out := make(map[string]checks.EnvVarSpec, len(f.Vars))
	for _, v := range f.Vars {
		name := strings.TrimSpace(v.Name)
		if name == "" {
			continue
		}
		envVal, fromEnv := os.LookupEnv(name)
		source, value := "unset", ""
		switch {
		case fromEnv:
			source, value = "env", envVal
		case v.Default != "":
			source, value = "default", v.Default
		}
		out[name] = checks.EnvVarSpec{
			Name:        name,
			Description: v.Description,
			Required:    v.Required,
			Default:     v.Default,
			Sensitive:   v.Sensitive,
			HasValue:    fromEnv || v.Default != "",
			Source:      source,
			Value:       value,
		}
	}
	return out, nil
}

// envUsageByTool builds the var-name -> referencing-tool-ids map the
// env_registry check needs, from every tool's declared Env overrides.
func envUsageByTool(tools map[string]config.ProjectTool) map[string][]string {
	usage := map[string]map[string]bool{}
	for toolID, tool := range tools {
		for name := range tool.Env {
			if usage[name] == nil {
				usage[name] = map[string]bool{}
			}
			usage[name][toolID] = true
		}
	}
	out := make(map[string][]string, len(usage))
	for name, ids := range usage {
		list := make([]string, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		sort.Strings(list)
		out[name] = list
	}
	return out
}

func toolsPerPlugin(cfg *config.RepoConfig) map[string]int {
	out := map[string]int{}
	for _, p := range cfg.Plugins {
		out[p.ID] = len(p.ToolIDs)
	}
	return out
}

func importPrefixToLayer(layers []config.ArchLayerConfig) map[string]string {
	out := map[string]string{}
	for _, l := range layers {
		for _, prefix := range l.ModulePrefixes {
			out[prefix] = l.ID
		}
	}
	return out
}

// BuildEngine translates the repository's merged check configuration
// into the fixed catalog of pkg/checks instances, resolving every
// baseline file and cross-cutting aggregate (env usage, per-plugin tool
// counts, layer import prefixes) a single check needs but the config
// loader doesn't compute on its own.
func BuildEngine(repoRoot string, cfg *config.RepoConfig) (*checks.Engine, error) {
	var cs []checks.Check

	for _, c := range cfg.Checks.Loc {
		cs = append(cs, &checks.LocCheck{Cfg: checks.LocConfig{
			ID: c.ID, MaxLoc: c.MaxLoc, IncludeGlobs: c.IncludeGlobs, ExcludeGlobs: c.ExcludeGlobs,
			BaselinePath: c.BaselinePath,
		}})
	}

	for _, c := range cfg.Checks.EnvRegistry {
		registry, err := loadEnvRegistry(filepath.Join(repoRoot, c.RegistryPath))
		if err != nil {
			return nil, fmt.Errorf("env_registry check %s: %w", c.ID, err)
		}
		cs = append(cs, &checks.EnvRegistryCheck{Cfg: checks.EnvRegistryConfig{
			ID: c.ID, Registry: registry, ReferencedBy: envUsageByTool(cfg.Tools),
		}})
	}

	for _, c := range cfg.Checks.Boundary {
		rules := make([]checks.BoundaryRule, 0, len(c.Rules))
		for _, r := range c.Rules {
			rules = append(rules, checks.BoundaryRule{ID: r.ID, Pattern: r.DenyRegex})
		}
		cs = append(cs, &checks.BoundaryCheck{Cfg: checks.BoundaryConfig{
			ID: c.ID, Rules: rules, IncludeGlobs: c.IncludeGlobs, ExcludeGlobs: c.ExcludeGlobs,
			StripTestCfgBlocks: c.StripRustCfgTestBlocks,
		}})
	}

	for _, c := range cfg.Checks.Surface {
		baseline, err := loadStringList(filepath.Join(repoRoot, c.BaselinePath))
		if err != nil {
			return nil, fmt.Errorf("surface check %s: %w", c.ID, err)
		}
		cs = append(cs, &checks.SurfaceCheck{Cfg: checks.SurfaceConfig{
			ID: c.ID, MaxItems: c.MaxItems, IncludeGlobs: c.IncludeGlobs, ExcludeGlobs: c.ExcludeGlobs,
			BaselineItems: baseline,
		}})
	}

	for _, c := range cfg.Checks.Duplicates {
		allowlisted := map[string]bool{}
		for _, p := range c.AllowlistGlobs {
			allowlisted[p] = true
		}
		cs = append(cs, &checks.DuplicatesCheck{Cfg: checks.DuplicatesConfig{
			ID: c.ID, MaxFileBytes: c.MaxFileBytes, IncludeGlobs: c.IncludeGlobs, ExcludeGlobs: c.ExcludeGlobs,
			AllowlistedPaths: allowlisted,
		}})
	}

	for _, c := range cfg.Checks.SupplyChain {
		_ = c
		cs = append(cs, &checks.SupplyChainCheck{Cfg: checks.SupplyChainConfig{
			ID: c.ID, Families: checks.DefaultManifestFamilies,
		}})
	}

	totalTools := len(cfg.Tools)
	perPlugin := toolsPerPlugin(cfg)
	for _, c := range cfg.Checks.ToolBudget {
		maxPerPluginTools := 0
		for _, n := range perPlugin {
			if n > maxPerPluginTools {
				maxPerPluginTools = n
			}
		}
		cs = append(cs, &checks.ToolBudgetCheck{Cfg: checks.ToolBudgetConfig{
			ID: c.ID, MaxTotalTools: c.MaxToolsTotal, MaxToolsPerPlugin: c.MaxToolsPerPlugin,
			ToolsPerPlugin: perPlugin, TotalTools: totalTools,
		}})
	}

	for _, c := range cfg.Checks.ReuseFirst {
		cs = append(cs, &checks.ReuseFirstCheck{Cfg: checks.ReuseFirstConfig{
			ID: c.ID, MinBlockLines: c.MinBlockLines, IncludeGlobs: c.IncludeGlobs, ExcludeGlobs: c.ExcludeGlobs,
		}})
	}

	for _, c := range cfg.Checks.ArchLayers {
		layers := make([]checks.Layer, 0, len(c.Layers))
		for _, l := range c.Layers {
			var denied []string
			for _, r := range c.Rules {
				if r.FromLayer == l.ID {
					denied = append(denied, r.DenyToLayers...)
				}
			}
			layers = append(layers, checks.Layer{Name: l.ID, IncludeGlobs: l.IncludeGlobs, DeniedToLayers: denied})
		}
		cs = append(cs, &checks.ArchLayersCheck{Cfg: checks.ArchLayersConfig{
			ID: c.ID, Layers: layers, ImportPrefixToLayer: importPrefixToLayer(c.Layers),
		}})
	}

	for _, c := range cfg.Checks.DeadCode {
		tier := gatetypes.TierObservation
		if c.Blocking {
			tier = gatetypes.TierBlocking
		}
		cs = append(cs, &checks.DeadCodeCheck{Cfg: checks.DeadCodeConfig{
			ID: c.ID, IncludeGlobs: c.IncludeGlobs, ExcludeGlobs: c.ExcludeGlobs,
			Tier: tier, Code: "dead_code.orphan_symbol",
		}})
	}

	for _, c := range cfg.Checks.OrphanAPI {
		tier := gatetypes.TierObservation
		if c.Blocking {
			tier = gatetypes.TierBlocking
		}
		cs = append(cs, &checks.DeadCodeCheck{Cfg: checks.DeadCodeConfig{
			ID: c.ID, IncludeGlobs: c.IncludeGlobs, ExcludeGlobs: c.ExcludeGlobs,
			Tier: tier, Code: "orphan_api.orphan_symbol",
		}})
	}

	for _, c := range cfg.Checks.ComplexityBudget {
		cs = append(cs, &checks.ComplexityBudgetCheck{Cfg: checks.ComplexityBudgetConfig{
			ID: c.ID, MaxLines: c.MaxFunctionLines, MaxCyclomatic: c.MaxCyclomatic, MaxCognitive: c.MaxCognitive,
			IncludeGlobs: c.IncludeGlobs, ExcludeGlobs: c.ExcludeGlobs,
		}})
	}

	for _, c := range cfg.Checks.ContractBreak {
		snapshot, err := loadStringList(filepath.Join(repoRoot, c.BaselinePath))
		if err != nil {
			return nil, fmt.Errorf("contract_break check %s: %w", c.ID, err)
		}
		cs = append(cs, &checks.ContractBreakCheck{Cfg: checks.ContractBreakConfig{
			ID: c.ID, Snapshot: snapshot, AllowAdditions: c.AllowAdditions,
			IncludeGlobs: c.IncludeGlobs, ExcludeGlobs: c.ExcludeGlobs,
		}})
	}

	return checks.NewEngine(cs...), nil
}
